// Package protocol implements the free-text line protocol spoken by seqline.
//
// The protocol has no framing. A client writes arbitrary text and the server
// treats every chunk it reads as one request candidate. Requests and responses
// are plain text; the only control byte is EOT (0x04), which asks the server
// to close the connection.
//
// # Requests
//
// A chunk is scanned for the pattern
//
//	[^A-Za-z0-9_]?([A-Za-z0-9_]+)[^A-Za-z0-9_]?
//
// The captured run of the first match is the word. When reset scanning is
// enabled, the captured run of the second match is parsed as a base-10
// unsigned integer and, if valid, replaces the server's sequence counter
// before the response is built. A chunk with no match is dropped silently.
//
//	"hello"      -> word "hello"
//	"<hello>"    -> word "hello"
//	"hello 42"   -> word "hello", reset 42
//	"hello abc"  -> word "hello", reset ignored
//
// # Responses
//
// Every accepted request produces exactly one line:
//
//	<transformed-word> <counter>\n
//
// The transform is chosen per deployment: identity or full reversal of the
// word's characters.
//
//	"hello" (identity, counter 0) -> "hello 0\n"
//	"hello" (reverse,  counter 0) -> "olleh 0\n"
//
// Chunk boundaries are whatever a single socket read returns, so a logical
// line may be split across several requests. Clients that need one response
// per word should send one word per write.
package protocol
