package server

import (
	"context"
	"time"
)

// Request is one parsed chunk waiting for a response.
// It is created by Ingest and consumed by the writer.
type Request struct {
	// Conn is the connection the response goes back to.
	Conn Sink

	// Text is the decoded chunk the word was taken from.
	Text string

	// Word is the token extracted from Text.
	Word string

	// Reset replaces the sequence counter before formatting when HasReset is set.
	Reset    uint64
	HasReset bool

	// Attempt counts how often the request has been requeued.
	Attempt int

	// ReceivedAt is when the chunk was read.
	ReceivedAt time.Time
}

// Handler produces the response for a request.
type Handler interface {
	Handle(ctx context.Context, req Request) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) error

// Handle calls f(ctx, req).
func (f HandlerFunc) Handle(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// Middleware wraps the writer's response handler.
// Middleware runs on the writer goroutine and must return the wrapped
// handler's error unchanged so the retry policy still sees it.
type Middleware func(Handler) Handler

// chain wraps h so that mw[0] is the outermost layer.
func chain(h Handler, mw []Middleware) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		if mw[i] != nil {
			h = mw[i](h)
		}
	}
	return h
}
