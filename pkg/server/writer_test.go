package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vango-dev/seqline/pkg/protocol"
)

func testConfig() *ServerConfig {
	config := DefaultServerConfig()
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return config
}

// drain processes queued requests on the calling goroutine.
func drain(t *testing.T, w *Writer, q *Queue) {
	t.Helper()
	for q.Len() > 0 {
		req, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("Pop failed: %v", err)
		}
		w.process(context.Background(), req)
	}
}

func TestWriterCountsFromZero(t *testing.T) {
	q := NewQueue()
	w := NewWriter(q, testConfig(), nil)
	sink := newFakeSink(1)

	for _, word := range []string{"hello", "world", "abc"} {
		_ = q.Push(Request{Conn: sink, Word: word})
	}
	drain(t, w, q)

	want := []string{"olleh 0\n", "dlrow 1\n", "cba 2\n"}
	got := sink.lines()
	if len(got) != len(want) {
		t.Fatalf("got %d writes, want %d: %q", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d = %q, want %q", i, got[i], want[i])
		}
	}
	if w.Counter() != 3 {
		t.Errorf("Counter() = %d, want 3", w.Counter())
	}
}

func TestWriterReset(t *testing.T) {
	q := NewQueue()
	w := NewWriter(q, testConfig().WithTransform(protocol.TransformIdentity), nil)
	sink := newFakeSink(1)

	_ = q.Push(Request{Conn: sink, Word: "a"})
	_ = q.Push(Request{Conn: sink, Word: "b", Reset: 100, HasReset: true})
	_ = q.Push(Request{Conn: sink, Word: "c"})
	_ = q.Push(Request{Conn: sink, Word: "d", Reset: 0, HasReset: true})
	drain(t, w, q)

	want := []string{"a 0\n", "b 100\n", "c 101\n", "d 0\n"}
	got := sink.lines()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("writes = %q, want %q", got, want)
	}
}

func TestWriterClosedSinkConsumesCounter(t *testing.T) {
	q := NewQueue()
	metrics := NewMetricsCollector()
	w := NewWriter(q, testConfig(), metrics)

	gone := newFakeSink(1)
	gone.close()
	live := newFakeSink(2)

	_ = q.Push(Request{Conn: gone, Word: "x"})
	_ = q.Push(Request{Conn: live, Word: "y"})
	drain(t, w, q)

	if got := live.lines(); len(got) != 1 || got[0] != "y 1\n" {
		t.Errorf("live writes = %q, want [\"y 1\\n\"]", got)
	}
	snapshot := metrics.Snapshot()
	if snapshot.ResponsesDropped != 1 {
		t.Errorf("ResponsesDropped = %d, want 1", snapshot.ResponsesDropped)
	}
	if snapshot.WriteErrors != 1 {
		t.Errorf("WriteErrors = %d, want 1", snapshot.WriteErrors)
	}
}

// flakyTransformer fails the first n calls with a retryable error.
type flakyTransformer struct {
	failures int
	calls    int
}

func (f *flakyTransformer) Transform(word string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", fmt.Errorf("%w: upstream busy", protocol.ErrTransform)
	}
	return word, nil
}

func TestWriterTransformFailureDrop(t *testing.T) {
	q := NewQueue()
	metrics := NewMetricsCollector()
	config := testConfig()
	config.Transformer = &flakyTransformer{failures: 1}
	w := NewWriter(q, config, metrics)
	sink := newFakeSink(1)

	_ = q.Push(Request{Conn: sink, Word: "first"})
	_ = q.Push(Request{Conn: sink, Word: "second"})
	drain(t, w, q)

	// The failed request does not consume a counter value.
	if got := sink.lines(); len(got) != 1 || got[0] != "second 0\n" {
		t.Errorf("writes = %q, want [\"second 0\\n\"]", got)
	}
	snapshot := metrics.Snapshot()
	if snapshot.TransformErrors != 1 || snapshot.ResponsesDropped != 1 {
		t.Errorf("TransformErrors = %d, ResponsesDropped = %d; want 1, 1",
			snapshot.TransformErrors, snapshot.ResponsesDropped)
	}
	if snapshot.Requeued != 0 {
		t.Errorf("Requeued = %d, want 0 under drop policy", snapshot.Requeued)
	}
}

func TestWriterTransformFailureRequeue(t *testing.T) {
	q := NewQueue()
	metrics := NewMetricsCollector()
	config := testConfig().WithRetryPolicy(RetryRequeue)
	config.Transformer = &flakyTransformer{failures: 2}
	w := NewWriter(q, config, metrics)
	sink := newFakeSink(1)

	_ = q.Push(Request{Conn: sink, Word: "retry"})
	drain(t, w, q)

	if got := sink.lines(); len(got) != 1 || got[0] != "retry 0\n" {
		t.Errorf("writes = %q, want [\"retry 0\\n\"]", got)
	}
	if n := metrics.Snapshot().Requeued; n != 2 {
		t.Errorf("Requeued = %d, want 2", n)
	}
}

func TestWriterRequeueAliases(t *testing.T) {
	for _, policy := range []RetryPolicy{"requeue", "retry", "REQUEUE", " requeue "} {
		t.Run(string(policy), func(t *testing.T) {
			q := NewQueue()
			config := testConfig().WithRetryPolicy(policy)
			config.Transformer = &flakyTransformer{failures: 1}
			w := NewWriter(q, config, nil)
			sink := newFakeSink(1)

			_ = q.Push(Request{Conn: sink, Word: "hello"})
			drain(t, w, q)

			if got := sink.lines(); len(got) != 1 || got[0] != "hello 0\n" {
				t.Errorf("writes = %q, want [\"hello 0\\n\"]", got)
			}
		})
	}
}

func TestWriterRequeueCap(t *testing.T) {
	q := NewQueue()
	metrics := NewMetricsCollector()
	config := testConfig().WithRetryPolicy(RetryRequeue)
	config.MaxRequeue = 3
	config.Transformer = &flakyTransformer{failures: 100}
	w := NewWriter(q, config, metrics)

	_ = q.Push(Request{Conn: newFakeSink(1), Word: "never"})
	drain(t, w, q)

	snapshot := metrics.Snapshot()
	if snapshot.Requeued != 3 {
		t.Errorf("Requeued = %d, want 3", snapshot.Requeued)
	}
	if snapshot.ResponsesDropped != 1 {
		t.Errorf("ResponsesDropped = %d, want 1", snapshot.ResponsesDropped)
	}
}

func TestWriterRequeueStopsForClosedConn(t *testing.T) {
	q := NewQueue()
	config := testConfig().WithRetryPolicy(RetryRequeue)
	config.Transformer = &flakyTransformer{failures: 100}
	w := NewWriter(q, config, nil)

	sink := newFakeSink(1)
	sink.close()
	_ = q.Push(Request{Conn: sink, Word: "orphan"})
	drain(t, w, q)

	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestWriterNonRetryableTransformError(t *testing.T) {
	q := NewQueue()
	metrics := NewMetricsCollector()
	config := testConfig().WithRetryPolicy(RetryRequeue)
	config.Transformer = protocol.TransformFunc(func(string) (string, error) {
		return "", errors.New("permanent")
	})
	w := NewWriter(q, config, metrics)

	_ = q.Push(Request{Conn: newFakeSink(1), Word: "w"})
	drain(t, w, q)

	if n := metrics.Snapshot().Requeued; n != 0 {
		t.Errorf("Requeued = %d, want 0 for non-retryable error", n)
	}
}

func TestWriterMiddlewareOrder(t *testing.T) {
	var trace bytes.Buffer
	mark := func(name string) Middleware {
		return func(next Handler) Handler {
			return HandlerFunc(func(ctx context.Context, req Request) error {
				trace.WriteString(name + ">")
				err := next.Handle(ctx, req)
				trace.WriteString("<" + name)
				return err
			})
		}
	}

	q := NewQueue()
	w := NewWriter(q, testConfig().WithMiddleware(mark("outer"), nil, mark("inner")), nil)
	_ = q.Push(Request{Conn: newFakeSink(1), Word: "w"})
	drain(t, w, q)

	if got, want := trace.String(), "outer>inner><inner<outer"; got != want {
		t.Errorf("middleware trace = %q, want %q", got, want)
	}
}

func TestWriterMiddlewareSeesErrors(t *testing.T) {
	var seen error
	observe := func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req Request) error {
			seen = next.Handle(ctx, req)
			return seen
		})
	}

	q := NewQueue()
	w := NewWriter(q, testConfig().WithMiddleware(observe), nil)
	sink := newFakeSink(7)
	sink.close()
	_ = q.Push(Request{Conn: sink, Word: "w"})
	drain(t, w, q)

	if !errors.Is(seen, ErrConnClosed) {
		t.Errorf("middleware saw %v, want ErrConnClosed", seen)
	}
	var connErr *ConnError
	if !errors.As(seen, &connErr) || connErr.ConnID != 7 || connErr.Op != "write" {
		t.Errorf("middleware saw %#v, want ConnError for conn 7 write", seen)
	}
}

func TestWriterRunStopsOnCancel(t *testing.T) {
	q := NewQueue()
	w := NewWriter(q, testConfig(), nil)
	sink := newFakeSink(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	_ = q.Push(Request{Conn: sink, Word: "hi", ReceivedAt: time.Now()})
	deadline := time.Now().Add(time.Second)
	for len(sink.lines()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if got := sink.lines(); len(got) != 1 || got[0] != "ih 0\n" {
		t.Errorf("writes = %q", got)
	}
}

func TestWriterRunStopsOnQueueClose(t *testing.T) {
	q := NewQueue()
	w := NewWriter(q, testConfig(), nil)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	q.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after queue close")
	}
}

func TestWriterRunDrainsAfterShutdown(t *testing.T) {
	q := NewQueue()
	metrics := NewMetricsCollector()
	w := NewWriter(q, testConfig(), metrics)

	live := newFakeSink(1)
	gone := newFakeSink(2)
	_ = q.Push(Request{Conn: live, Word: "ab"})
	_ = q.Push(Request{Conn: gone, Word: "cd"})
	_ = q.Push(Request{Conn: live, Word: "ef"})
	gone.close()
	q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}

	if got := live.lines(); len(got) != 2 || got[0] != "ba 0\n" || got[1] != "fe 2\n" {
		t.Errorf("live writes = %q, want [\"ba 0\\n\" \"fe 2\\n\"]", got)
	}
	if w.Counter() != 3 {
		t.Errorf("Counter() = %d, want 3", w.Counter())
	}
	if n := metrics.Snapshot().ResponsesDropped; n != 1 {
		t.Errorf("ResponsesDropped = %d, want 1", n)
	}
	if q.Len() != 0 {
		t.Errorf("queue still holds %d requests", q.Len())
	}
}

func TestNewWriterDoesNotMutateConfig(t *testing.T) {
	config := &ServerConfig{}
	NewWriter(NewQueue(), config, nil)

	if config.Address != "" || config.Logger != nil {
		t.Errorf("config was mutated: %+v", config)
	}
}
