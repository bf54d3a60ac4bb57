package server

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// backlogWatch samples the queue depth and heap size on a ticker and warns
// while the backlog stays at or above a threshold. It never pushes back on
// producers.
type backlogWatch struct {
	queue     *Queue
	metrics   *MetricsCollector
	threshold int
	interval  time.Duration
	logger    *slog.Logger

	above bool
}

func newBacklogWatch(queue *Queue, config *ServerConfig, metrics *MetricsCollector) *backlogWatch {
	return &backlogWatch{
		queue:     queue,
		metrics:   metrics,
		threshold: config.BacklogThreshold,
		interval:  config.BacklogInterval,
		logger:    config.Logger.With("component", "backlog"),
	}
}

// run samples until ctx is done.
func (w *backlogWatch) run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *backlogWatch) check() {
	depth := w.queue.Len()
	heap := heapAlloc()

	over := depth >= w.threshold
	switch {
	case over && !w.above:
		w.logger.Warn("queue backlog",
			"depth", depth,
			"threshold", w.threshold,
			"heap_bytes", heap)
	case over:
		w.logger.Debug("queue backlog persists", "depth", depth, "heap_bytes", heap)
	case w.above:
		w.logger.Info("queue backlog cleared", "depth", depth)
	}
	w.above = over
	w.metrics.RecordBacklogSample(depth, heap, over)
}

// heapAlloc returns the bytes of allocated heap objects.
func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapAlloc
}
