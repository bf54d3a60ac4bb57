package server

import "errors"

// errWouldBlock reports a non-blocking read with nothing to return.
var errWouldBlock = errors.New("server: operation would block")

// poller is the readiness-multiplexing primitive behind the reactor.
//
// Wait blocks with no timeout until at least one registered descriptor is
// readable or Wake is called. It writes ready descriptors into ready and
// returns how many it wrote; woken is true when a Wake was consumed.
// Only Wake and Close may be called from other goroutines.
type poller interface {
	Add(fd int) error
	Remove(fd int) error
	Wait(ready []int) (n int, woken bool, err error)
	Wake() error
	Close() error
}
