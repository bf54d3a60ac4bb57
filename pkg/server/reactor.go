package server

import (
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
)

// Reactor is the single event loop that owns the listener and every client
// connection.
//
// It waits for readiness, accepts new connections, reads whatever bytes are
// available and hands each chunk to the Dispatcher. It never writes to a
// client, so a slow peer cannot stall other connections. All registry
// mutations happen on the Run goroutine.
type Reactor struct {
	lnfd     int
	addr     *net.TCPAddr
	poller   poller
	registry *Registry
	dispatch *Dispatcher
	metrics  *MetricsCollector
	logger   *slog.Logger

	onOpen  func(ConnInfo)
	onClose func(ConnInfo)
	nextID  func() uint64

	buf   []byte
	ready []int

	closing atomic.Bool
	stopped bool
}

func newReactor(lnfd int, addr *net.TCPAddr, p poller, dispatch *Dispatcher, metrics *MetricsCollector, config *ServerConfig, nextID func() uint64) *Reactor {
	return &Reactor{
		lnfd:     lnfd,
		addr:     addr,
		poller:   p,
		registry: NewRegistry(),
		dispatch: dispatch,
		metrics:  metrics,
		logger:   config.Logger.With("component", "reactor"),
		onOpen:   config.OnConnOpen,
		onClose:  config.OnConnClose,
		nextID:   nextID,
		buf:      make([]byte, config.ReadBufferSize),
		ready:    make([]int, config.MaxEvents),
	}
}

// Addr returns the bound listener address.
func (r *Reactor) Addr() net.Addr {
	return r.addr
}

// Run drives the event loop until Close is called or polling fails. On
// return the listener and every connection are closed.
func (r *Reactor) Run() error {
	defer r.shutdown()

	r.logger.Info("reactor started", "address", r.addr.String())
	for !r.closing.Load() {
		n, woken, err := r.poller.Wait(r.ready)
		if err != nil {
			r.logger.Error("poll failed", "error", err)
			return err
		}
		if woken && r.closing.Load() {
			break
		}
		for _, fd := range r.ready[:n] {
			if fd == r.lnfd {
				r.accept()
				continue
			}
			r.read(fd)
		}
	}
	return nil
}

// Close asks Run to stop. It is safe to call from any goroutine and more
// than once.
func (r *Reactor) Close() error {
	r.closing.Store(true)
	return r.poller.Wake()
}

// accept takes one pending connection. The listener is level-triggered, so
// any others are reported on the next wait.
func (r *Reactor) accept() {
	fd, remote, err := acceptConn(r.lnfd)
	if err != nil {
		if !errors.Is(err, errWouldBlock) {
			r.logger.Warn("accept failed", "error", err)
		}
		return
	}

	c := newConn(r.nextID(), fd, remote)
	if err := r.poller.Add(fd); err != nil {
		r.logger.Warn("register failed", "conn_id", c.id, "remote", remote, "error", err)
		_ = sysClose(fd)
		return
	}
	r.registry.Add(c)
	r.metrics.RecordConnOpen()
	r.logger.Info("connection accepted", "conn_id", c.id, "remote", remote)

	if r.onOpen != nil {
		r.onOpen(c.Info())
	}
}

func (r *Reactor) read(fd int) {
	c := r.registry.Get(fd)
	if c == nil {
		_ = r.poller.Remove(fd)
		return
	}

	n, err := sysRead(fd, r.buf)
	switch {
	case errors.Is(err, errWouldBlock):
		return
	case err != nil:
		r.metrics.RecordReadError()
		r.logger.Debug("read failed", "conn_id", c.id, "error", err)
		r.closeConn(c, "read error")
		return
	case n == 0:
		r.closeConn(c, "peer closed")
		return
	}

	c.bytesIn.Add(uint64(n))
	if !r.dispatch.Ingest(c, r.buf[:n]) {
		r.closeConn(c, "eot")
	}
}

func (r *Reactor) closeConn(c *Conn, reason string) {
	r.registry.Remove(c.fd)
	_ = r.poller.Remove(c.fd)
	if err := c.close(); err != nil {
		r.logger.Debug("close failed", "conn_id", c.id, "error", err)
	}
	r.metrics.RecordConnClose()
	r.logger.Info("connection closed", "conn_id", c.id, "remote", c.remote, "reason", reason)

	if r.onClose != nil {
		r.onClose(c.Info())
	}
}

// shutdown releases everything the reactor owns. It must not run
// concurrently with Run.
func (r *Reactor) shutdown() {
	if r.stopped {
		return
	}
	r.stopped = true

	for _, c := range r.registry.Drain() {
		if err := c.close(); err != nil {
			r.logger.Debug("close failed", "conn_id", c.id, "error", err)
		}
		r.metrics.RecordConnClose()
		if r.onClose != nil {
			r.onClose(c.Info())
		}
	}
	if err := sysClose(r.lnfd); err != nil {
		r.logger.Debug("listener close failed", "error", err)
	}
	if err := r.poller.Close(); err != nil {
		r.logger.Debug("poller close failed", "error", err)
	}
	r.logger.Info("reactor stopped", "peak_conns", r.registry.Peak())
}
