package server

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Server is the TCP sequence service: a Reactor feeding a Writer through an
// unbounded Queue.
type Server struct {
	config   *ServerConfig
	queue    *Queue
	dispatch *Dispatcher
	writer   *Writer
	metrics  *MetricsCollector
	logger   *slog.Logger

	nextID atomic.Uint64

	mu      sync.Mutex
	reactor *Reactor
	running bool
	closed  bool
}

// New creates a new Server with the given configuration. The configuration
// is copied; unset fields take their defaults.
func New(config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	config = config.Clone()
	config.applyDefaults()

	logger := config.Logger.With("component", "server")
	for _, warning := range config.GetConfigWarnings() {
		logger.Warn("config warning", "warning", warning)
	}

	metrics := NewMetricsCollector()
	queue := NewQueue()
	return &Server{
		config:   config,
		queue:    queue,
		dispatch: NewDispatcher(queue, config, metrics),
		writer:   NewWriter(queue, config, metrics),
		metrics:  metrics,
		logger:   logger,
	}
}

// Listen binds the listening socket. It is called by Run when needed and is
// useful on its own to learn the address of a ":0" listener before serving.
func (s *Server) Listen() error {
	if err := s.config.ValidateConfig(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.reactor != nil {
		return ErrAlreadyListening
	}

	lnfd, addr, err := listenTCP(s.config.Address)
	if err != nil {
		return NewConnError(0, "listen", err)
	}
	p, err := newPoller(s.config.MaxEvents)
	if err != nil {
		_ = sysClose(lnfd)
		return NewConnError(0, "poll", err)
	}
	if err := p.Add(lnfd); err != nil {
		_ = p.Close()
		_ = sysClose(lnfd)
		return NewConnError(0, "poll", err)
	}

	s.reactor = newReactor(lnfd, addr, p, s.dispatch, s.metrics, s.config, s.NewConnID)
	s.logger.Info("listening", "address", addr.String())
	return nil
}

// Run serves until ctx is done or Close is called. It returns nil on a
// clean stop. The writer drains requests still queued at shutdown; those
// whose connection the reactor already closed are dropped as write errors.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	needListen := s.reactor == nil
	s.mu.Unlock()
	if needListen {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyListening
	}
	s.running = true
	reactor := s.reactor
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		defer s.queue.Close()
		return reactor.Run()
	})
	g.Go(func() error {
		return s.writer.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return reactor.Close()
	})
	if s.config.BacklogThreshold > 0 {
		watch := newBacklogWatch(s.queue, s.config, s.metrics)
		g.Go(func() error {
			return watch.run(gctx)
		})
	}

	err := g.Wait()
	s.logger.Info("server stopped", "counter", s.writer.Counter())
	return err
}

// Close stops the server. A running Run returns shortly after; a server
// that was only listening releases its socket immediately.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.queue.Close()

	if s.reactor == nil {
		return nil
	}
	if !s.running {
		s.reactor.shutdown()
		return nil
	}
	return s.reactor.Close()
}

// Addr returns the listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reactor == nil {
		return nil
	}
	return s.reactor.Addr()
}

// Ingest feeds a chunk from any Sink through the same path as a TCP read.
// It reports false when the chunk carried EOT and the caller should close
// the sink.
func (s *Server) Ingest(sink Sink, chunk []byte) bool {
	return s.dispatch.Ingest(sink, chunk)
}

// NewConnID allocates a connection id that is unique within the server.
func (s *Server) NewConnID() uint64 {
	return s.nextID.Add(1)
}

// QueueLen returns the number of requests waiting for the writer.
func (s *Server) QueueLen() int {
	return s.queue.Len()
}

// Metrics returns a snapshot of the server's counters.
func (s *Server) Metrics() *ServerMetrics {
	m := s.metrics.Snapshot()
	m.QueueDepth = int64(s.queue.Len())
	return m
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}
