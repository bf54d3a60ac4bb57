package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vango-dev/seqline/pkg/protocol"
)

// Writer is the response worker.
//
// A single Writer goroutine pops requests, owns the sequence counter and
// performs every response write. Because nothing else reads or writes the
// counter, it needs no synchronization: each response uses the value before
// its increment and no two responses share a value.
type Writer struct {
	queue       *Queue
	transformer protocol.Transformer
	policy      RetryPolicy
	maxRequeue  int
	handler     Handler
	metrics     *MetricsCollector
	logger      *slog.Logger

	counter uint64
	buf     []byte
}

// NewWriter creates a Writer consuming queue. A nil metrics collector is
// replaced with a private one.
func NewWriter(queue *Queue, config *ServerConfig, metrics *MetricsCollector) *Writer {
	if config == nil {
		config = DefaultServerConfig()
	}
	config = config.Clone()
	config.applyDefaults()
	if metrics == nil {
		metrics = NewMetricsCollector()
	}

	w := &Writer{
		queue:       queue,
		transformer: config.transformer(),
		policy:      config.RetryPolicy,
		maxRequeue:  config.MaxRequeue,
		metrics:     metrics,
		logger:      config.Logger.With("component", "writer"),
		buf:         make([]byte, 0, 64),
	}
	w.handler = chain(HandlerFunc(w.respond), config.Middleware)
	return w
}

// Run processes requests until the queue is empty and either ctx is done
// or the queue is closed. Requests still queued at shutdown are processed
// first; their writes fail once the connection has been closed, and they
// still consume counter values.
func (w *Writer) Run(ctx context.Context) error {
	w.logger.Debug("writer started")
	defer w.logger.Debug("writer stopped", "counter", w.counter)

	for {
		req, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		w.process(ctx, req)
	}
}

// Counter returns the next sequence value. It must only be called from the
// writer goroutine or after Run has returned.
func (w *Writer) Counter() uint64 {
	return w.counter
}

// process runs the handler chain for one request and applies the retry
// policy to its outcome.
func (w *Writer) process(ctx context.Context, req Request) {
	err := w.handler.Handle(ctx, req)
	if err == nil {
		return
	}

	connID := req.Conn.ID()
	if errors.Is(err, protocol.ErrTransform) && w.shouldRequeue(req) {
		req.Attempt++
		if pushErr := w.queue.Push(req); pushErr == nil {
			w.metrics.RecordRequeue()
			w.logger.Debug("request requeued",
				"conn_id", connID,
				"attempt", req.Attempt,
				"error", err)
			return
		}
	}

	w.metrics.RecordDropped()
	if errors.Is(err, ErrConnClosed) {
		w.logger.Debug("response dropped: connection closed", "conn_id", connID)
		return
	}
	w.logger.Warn("response dropped", "conn_id", connID, "error", err)
}

func (w *Writer) shouldRequeue(req Request) bool {
	if w.policy != RetryRequeue {
		return false
	}
	if w.maxRequeue > 0 && req.Attempt >= w.maxRequeue {
		return false
	}
	return !req.Conn.Closed()
}

// respond is the innermost handler: transform, format, one write.
func (w *Writer) respond(_ context.Context, req Request) error {
	if req.HasReset {
		w.counter = req.Reset
	}

	word, err := w.transformer.Transform(req.Word)
	if err != nil {
		w.metrics.RecordTransformError()
		return NewConnError(req.Conn.ID(), "transform", err)
	}

	w.buf = protocol.AppendFormat(w.buf[:0], word, w.counter)
	w.counter++

	n, err := req.Conn.Write(w.buf)
	if err != nil {
		w.metrics.RecordWriteError()
		return NewConnError(req.Conn.ID(), "write", err)
	}

	var latency time.Duration
	if !req.ReceivedAt.IsZero() {
		latency = time.Since(req.ReceivedAt)
	}
	w.metrics.RecordResponse(n, latency)
	return nil
}
