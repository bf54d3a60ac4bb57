package server

// Registry maps descriptors to live connections.
//
// It is owned by the reactor goroutine: entries are added on accept and
// removed on close, and nothing else touches the map, so it has no lock.
// Other goroutines only ever hold a *Conn taken from a Request.
type Registry struct {
	conns map[int]*Conn
	peak  int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[int]*Conn)}
}

// Add registers c under its descriptor.
func (r *Registry) Add(c *Conn) {
	r.conns[c.fd] = c
	if len(r.conns) > r.peak {
		r.peak = len(r.conns)
	}
}

// Get returns the connection for fd, or nil.
func (r *Registry) Get(fd int) *Conn {
	return r.conns[fd]
}

// Remove unregisters fd and returns the connection that was there, or nil.
func (r *Registry) Remove(fd int) *Conn {
	c, ok := r.conns[fd]
	if !ok {
		return nil
	}
	delete(r.conns, fd)
	return c
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// Peak returns the highest number of simultaneous connections seen.
func (r *Registry) Peak() int {
	return r.peak
}

// Drain removes and returns every registered connection.
func (r *Registry) Drain() []*Conn {
	out := make([]*Conn, 0, len(r.conns))
	for fd, c := range r.conns {
		out = append(out, c)
		delete(r.conns, fd)
	}
	return out
}
