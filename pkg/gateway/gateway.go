package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/seqline/pkg/server"
)

// Backend is the part of server.Server the gateway needs.
type Backend interface {
	Ingest(sink server.Sink, chunk []byte) bool
	NewConnID() uint64
	Metrics() *server.ServerMetrics
}

// Config configures the admin gateway.
type Config struct {
	// Addr is the listen address for ListenAndServe.
	Addr string

	// EnableWebSocket mounts the /ws bridge.
	EnableWebSocket bool

	// Gatherer is scraped by /metrics.
	// Default: prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer

	// TrustedProxies lists proxy IPs or CIDRs whose Forwarded and
	// X-Forwarded-For headers are believed when logging bridge peers.
	TrustedProxies []string

	// CheckOrigin validates the Origin header of /ws upgrades.
	// Default: same-origin only (gorilla's default).
	CheckOrigin func(r *http.Request) bool

	// WriteTimeout bounds each WebSocket response write.
	// Default: 5s.
	WriteTimeout time.Duration

	// MaxMessageSize bounds inbound WebSocket messages.
	// Default: 4096.
	MaxMessageSize int64

	// OnConnOpen and OnConnClose observe bridge connections.
	OnConnOpen  func(server.ConnInfo)
	OnConnClose func(server.ConnInfo)

	// Logger is the structured logger. Default: slog.Default().
	Logger *slog.Logger
}

// Gateway is the admin HTTP endpoint.
type Gateway struct {
	config   Config
	backend  Backend
	router   chi.Router
	upgrader websocket.Upgrader
	proxies  *proxySet
	logger   *slog.Logger

	mu    sync.Mutex
	sinks map[uint64]*wsSink
}

// New creates a gateway in front of backend.
func New(backend Backend, config Config) *Gateway {
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = 4096
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	g := &Gateway{
		config:  config,
		backend: backend,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     config.CheckOrigin,
		},
		logger: config.Logger.With("component", "gateway"),
		sinks:  make(map[uint64]*wsSink),
	}
	g.proxies = newProxySet(config.TrustedProxies, g.logger)
	g.router = g.routes()
	return g
}

func (g *Gateway) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(g.config.Gatherer, promhttp.HandlerOpts{}))
	r.With(middleware.NoCache).Get("/stats", g.handleStats)
	if g.config.EnableWebSocket {
		r.Get("/ws", g.handleWebSocket)
	}
	return r
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(g.backend.Metrics()); err != nil {
		g.logger.Debug("stats encode failed", "error", err)
	}
}

// ListenAndServe listens on Config.Addr and serves until ctx is done.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Addr)
	if err != nil {
		return err
	}
	return g.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down and closes any
// open bridge connections. It returns nil after a shutdown and the
// listener's error if serving fails first.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Handler:           g.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.RegisterOnShutdown(g.closeSinks)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			g.logger.Error("shutdown error", "error", err)
		}
	}()

	g.logger.Info("admin endpoint listening", "address", ln.Addr().String())
	err := srv.Serve(ln)
	cancel()
	<-stopped
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (g *Gateway) track(s *wsSink) {
	g.mu.Lock()
	g.sinks[s.id] = s
	g.mu.Unlock()
}

func (g *Gateway) untrack(s *wsSink) {
	g.mu.Lock()
	delete(g.sinks, s.id)
	g.mu.Unlock()
}

func (g *Gateway) closeSinks() {
	g.mu.Lock()
	sinks := make([]*wsSink, 0, len(g.sinks))
	for _, s := range g.sinks {
		sinks = append(sinks, s)
	}
	g.mu.Unlock()

	for _, s := range sinks {
		s.closeWith(websocket.CloseGoingAway, "shutdown")
	}
}
