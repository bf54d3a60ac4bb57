// Package server provides the TCP runtime for seqline.
//
// The runtime is a single-threaded readiness reactor paired with a single
// response writer. Clients send free-form text; each chunk read from a
// connection is tokenized into a word and pushed onto an unbounded queue.
// The writer pops requests in order, transforms the word, and writes
// "<word> <counter>\n" back to the connection the chunk came from.
//
// # Architecture
//
//   - Reactor: owns the listener, the connection Registry and every read.
//     It never writes to a client.
//   - Dispatcher: the EOT check and tokenizer shared by every transport.
//   - Queue: unbounded FIFO; Push never blocks the reactor.
//   - Writer: owns the sequence counter and performs every write.
//   - Server: wires the above and runs Reactor and Writer in an errgroup.
//
// # Sequence Counter
//
// The counter starts at 0 and is only touched by the writer goroutine. A
// response uses the counter's value before its increment. A chunk whose
// second token parses as an unsigned integer K sets the counter to K first,
// so that response carries K and the next one K+1.
//
// # Connection Lifecycle
//
// A connection is closed by the reactor when a read fails, when the peer
// shuts down its side (zero-length read), or when a chunk contains the EOT
// byte (0x04). Chunks containing EOT produce no response. Requests already
// queued for a closed connection are dropped by the writer with
// ErrConnClosed.
//
// # Usage
//
//	srv := server.New(server.DefaultServerConfig().WithPort(4567))
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// The reactor is implemented with epoll and is only available on Linux;
// elsewhere Listen fails with ErrUnsupportedPlatform.
package server
