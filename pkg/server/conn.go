package server

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sink is the write side of a client connection as seen by the writer.
//
// Write is called from the writer goroutine while the owner of the
// connection may close it concurrently. Once closed, Write must fail with
// ErrConnClosed instead of touching the underlying resource. Write must not
// retain p.
type Sink interface {
	ID() uint64
	Write(p []byte) (int, error)
	Closed() bool
}

// ConnInfo describes a connection for lifecycle hooks and logging.
type ConnInfo struct {
	ID         uint64
	RemoteAddr string
	OpenedAt   time.Time
	BytesIn    uint64
	BytesOut   uint64
}

// Conn is a TCP connection owned by the reactor.
//
// The reactor reads from it and is the only one that closes it. The writer
// borrows it through Request.Conn to issue one write per response. mu makes
// close and write mutually exclusive, so a write never lands on a
// descriptor number that was closed and handed to a newer connection.
type Conn struct {
	id       uint64
	fd       int
	remote   string
	openedAt time.Time

	mu     sync.RWMutex
	closed bool

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

func newConn(id uint64, fd int, remote string) *Conn {
	return &Conn{
		id:       id,
		fd:       fd,
		remote:   remote,
		openedAt: time.Now(),
	}
}

// ID returns the connection's process-unique id.
func (c *Conn) ID() uint64 { return c.id }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.remote }

// Write performs a single write of p. Partial writes are reported as
// ErrShortWrite and are not retried.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, ErrConnClosed
	}
	n, err := sysWrite(c.fd, p)
	if n > 0 {
		c.bytesOut.Add(uint64(n))
	}
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, ErrShortWrite
	}
	return n, nil
}

// Closed reports whether the reactor has closed the connection.
func (c *Conn) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Info returns a snapshot of the connection's state.
func (c *Conn) Info() ConnInfo {
	return ConnInfo{
		ID:         c.id,
		RemoteAddr: c.remote,
		OpenedAt:   c.openedAt,
		BytesIn:    c.bytesIn.Load(),
		BytesOut:   c.bytesOut.Load(),
	}
}

// close releases the descriptor. It waits for an in-flight write to finish.
func (c *Conn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return sysClose(c.fd)
}
