package server

import (
	"context"
	"testing"
	"time"
)

func newTestBacklogWatch(threshold int) (*backlogWatch, *Queue, *MetricsCollector) {
	config := testConfig()
	config.BacklogThreshold = threshold
	config.BacklogInterval = 5 * time.Millisecond
	queue := NewQueue()
	metrics := NewMetricsCollector()
	return newBacklogWatch(queue, config, metrics), queue, metrics
}

func TestBacklogWatchCheck(t *testing.T) {
	w, queue, metrics := newTestBacklogWatch(3)

	w.check()
	if w.above {
		t.Fatal("empty queue should not be over threshold")
	}

	for i := 0; i < 3; i++ {
		queue.Push(Request{Word: "x"})
	}
	w.check()
	w.check()
	if !w.above {
		t.Fatal("queue at threshold should be over")
	}

	snap := metrics.Snapshot()
	if snap.BacklogWarnings != 2 {
		t.Errorf("BacklogWarnings = %d, want 2", snap.BacklogWarnings)
	}
	if snap.PeakQueueDepth != 3 {
		t.Errorf("PeakQueueDepth = %d, want 3", snap.PeakQueueDepth)
	}
	if snap.HeapAlloc <= 0 {
		t.Errorf("HeapAlloc = %d, want > 0", snap.HeapAlloc)
	}

	for i := 0; i < 3; i++ {
		if _, err := queue.Pop(context.Background()); err != nil {
			t.Fatalf("Pop failed: %v", err)
		}
	}
	w.check()
	if w.above {
		t.Error("drained queue should clear the backlog state")
	}
	if got := metrics.Snapshot().PeakQueueDepth; got != 3 {
		t.Errorf("PeakQueueDepth = %d after drain, want 3", got)
	}
}

func TestBacklogWatchRunStopsOnCancel(t *testing.T) {
	w, queue, metrics := newTestBacklogWatch(1)
	queue.Push(Request{Word: "x"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for metrics.Snapshot().BacklogWarnings == 0 {
		if time.Now().After(deadline) {
			t.Fatal("backlog watch never sampled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
