package server

import (
	"sync"
)

// fakeSink records writes in memory.
type fakeSink struct {
	id uint64

	mu     sync.Mutex
	writes []string
	closed bool
	err    error
}

func newFakeSink(id uint64) *fakeSink {
	return &fakeSink{id: id}
}

func (s *fakeSink) ID() uint64 { return s.id }

func (s *fakeSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrConnClosed
	}
	if s.err != nil {
		return 0, s.err
	}
	s.writes = append(s.writes, string(p))
	return len(p), nil
}

func (s *fakeSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSink) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSink) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}
