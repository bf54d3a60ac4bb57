package server

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ServerMetrics aggregates metrics across the server.
type ServerMetrics struct {
	// Connections
	ActiveConns   int64 `json:"active_conns"`
	ConnsAccepted int64 `json:"conns_accepted"`
	ConnsClosed   int64 `json:"conns_closed"`
	EOTCloses     int64 `json:"eot_closes"`

	// Requests
	ChunksReceived int64 `json:"chunks_received"`
	ChunksDropped  int64 `json:"chunks_dropped"`
	RequestsQueued int64 `json:"requests_queued"`
	QueueDepth     int64 `json:"queue_depth"`
	CounterResets  int64 `json:"counter_resets"`

	// Backlog watch
	BacklogWarnings int64 `json:"backlog_warnings"`
	PeakQueueDepth  int64 `json:"peak_queue_depth"`
	HeapAlloc       int64 `json:"heap_alloc_bytes"`

	// Responses
	ResponsesWritten int64 `json:"responses_written"`
	ResponsesDropped int64 `json:"responses_dropped"`
	Requeued         int64 `json:"requeued"`

	// Network
	BytesSent     int64 `json:"bytes_sent"`
	BytesReceived int64 `json:"bytes_received"`

	// Errors
	ReadErrors      int64 `json:"read_errors"`
	WriteErrors     int64 `json:"write_errors"`
	TransformErrors int64 `json:"transform_errors"`

	// Queue latency (microseconds from read to write)
	LatencyP50 int64 `json:"latency_p50_us"`
	LatencyP99 int64 `json:"latency_p99_us"`

	// Timestamp
	CollectedAt time.Time `json:"collected_at"`
}

// maxLatencySamples bounds the latency window.
const maxLatencySamples = 1000

// MetricsCollector collects and aggregates metrics over time.
// All methods are safe for concurrent use.
type MetricsCollector struct {
	activeConns     atomic.Int64
	connsAccepted   atomic.Int64
	connsClosed     atomic.Int64
	eotCloses       atomic.Int64
	chunksReceived  atomic.Int64
	chunksDropped   atomic.Int64
	requestsQueued  atomic.Int64
	counterResets   atomic.Int64
	responses       atomic.Int64
	dropped         atomic.Int64
	requeued        atomic.Int64
	bytesSent       atomic.Int64
	bytesReceived   atomic.Int64
	readErrors      atomic.Int64
	writeErrors     atomic.Int64
	transformErrors atomic.Int64
	backlogWarnings atomic.Int64
	peakQueueDepth  atomic.Int64
	heapAlloc       atomic.Int64

	latencyMu sync.Mutex
	latencies []int64
}

// NewMetricsCollector creates a new MetricsCollector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		latencies: make([]int64, 0, maxLatencySamples),
	}
}

// RecordConnOpen records an accepted connection.
func (m *MetricsCollector) RecordConnOpen() {
	m.connsAccepted.Add(1)
	m.activeConns.Add(1)
}

// RecordConnClose records a closed connection.
func (m *MetricsCollector) RecordConnClose() {
	m.connsClosed.Add(1)
	m.activeConns.Add(-1)
}

// RecordEOT records a close requested by the client.
func (m *MetricsCollector) RecordEOT() {
	m.eotCloses.Add(1)
}

// RecordChunk records a chunk read from a client.
func (m *MetricsCollector) RecordChunk(n int) {
	m.chunksReceived.Add(1)
	m.bytesReceived.Add(int64(n))
}

// RecordChunkDropped records a chunk without a word.
func (m *MetricsCollector) RecordChunkDropped() {
	m.chunksDropped.Add(1)
}

// RecordQueued records a request handed to the writer.
func (m *MetricsCollector) RecordQueued(hasReset bool) {
	m.requestsQueued.Add(1)
	if hasReset {
		m.counterResets.Add(1)
	}
}

// RecordResponse records a response written in full.
func (m *MetricsCollector) RecordResponse(bytes int, latency time.Duration) {
	m.responses.Add(1)
	m.bytesSent.Add(int64(bytes))
	m.recordLatency(latency.Microseconds())
}

// RecordDropped records a request that got no response.
func (m *MetricsCollector) RecordDropped() {
	m.dropped.Add(1)
}

// RecordRequeue records a request put back on the queue.
func (m *MetricsCollector) RecordRequeue() {
	m.requeued.Add(1)
}

// RecordReadError records a failed socket read.
func (m *MetricsCollector) RecordReadError() {
	m.readErrors.Add(1)
}

// RecordWriteError records a failed socket write.
func (m *MetricsCollector) RecordWriteError() {
	m.writeErrors.Add(1)
}

// RecordTransformError records a failed transform.
func (m *MetricsCollector) RecordTransformError() {
	m.transformErrors.Add(1)
}

// RecordBacklogSample records one sample of the backlog watch.
func (m *MetricsCollector) RecordBacklogSample(depth int, heapAlloc uint64, warned bool) {
	m.heapAlloc.Store(int64(heapAlloc))
	for {
		peak := m.peakQueueDepth.Load()
		if int64(depth) <= peak || m.peakQueueDepth.CompareAndSwap(peak, int64(depth)) {
			break
		}
	}
	if warned {
		m.backlogWarnings.Add(1)
	}
}

func (m *MetricsCollector) recordLatency(us int64) {
	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()

	// Keep only recent samples
	if len(m.latencies) >= maxLatencySamples {
		m.latencies = append(m.latencies[:0], m.latencies[maxLatencySamples/2:]...)
	}
	m.latencies = append(m.latencies, us)
}

// Snapshot returns current metrics.
func (m *MetricsCollector) Snapshot() *ServerMetrics {
	metrics := &ServerMetrics{
		ActiveConns:      m.activeConns.Load(),
		ConnsAccepted:    m.connsAccepted.Load(),
		ConnsClosed:      m.connsClosed.Load(),
		EOTCloses:        m.eotCloses.Load(),
		ChunksReceived:   m.chunksReceived.Load(),
		ChunksDropped:    m.chunksDropped.Load(),
		RequestsQueued:   m.requestsQueued.Load(),
		CounterResets:    m.counterResets.Load(),
		ResponsesWritten: m.responses.Load(),
		ResponsesDropped: m.dropped.Load(),
		Requeued:         m.requeued.Load(),
		BytesSent:        m.bytesSent.Load(),
		BytesReceived:    m.bytesReceived.Load(),
		ReadErrors:       m.readErrors.Load(),
		WriteErrors:      m.writeErrors.Load(),
		TransformErrors:  m.transformErrors.Load(),
		BacklogWarnings:  m.backlogWarnings.Load(),
		PeakQueueDepth:   m.peakQueueDepth.Load(),
		HeapAlloc:        m.heapAlloc.Load(),
		CollectedAt:      time.Now(),
	}

	metrics.LatencyP50, metrics.LatencyP99 = m.latencyPercentiles()

	return metrics
}

// Reset clears all counters except ActiveConns, which tracks live state.
func (m *MetricsCollector) Reset() {
	m.connsAccepted.Store(0)
	m.connsClosed.Store(0)
	m.eotCloses.Store(0)
	m.chunksReceived.Store(0)
	m.chunksDropped.Store(0)
	m.requestsQueued.Store(0)
	m.counterResets.Store(0)
	m.responses.Store(0)
	m.dropped.Store(0)
	m.requeued.Store(0)
	m.bytesSent.Store(0)
	m.bytesReceived.Store(0)
	m.readErrors.Store(0)
	m.writeErrors.Store(0)
	m.transformErrors.Store(0)
	m.backlogWarnings.Store(0)
	m.peakQueueDepth.Store(0)

	m.latencyMu.Lock()
	m.latencies = m.latencies[:0]
	m.latencyMu.Unlock()
}

func (m *MetricsCollector) latencyPercentiles() (p50, p99 int64) {
	m.latencyMu.Lock()
	sorted := slices.Clone(m.latencies)
	m.latencyMu.Unlock()

	n := len(sorted)
	if n == 0 {
		return 0, 0
	}
	slices.Sort(sorted)
	return sorted[n/2], sorted[(n*99)/100]
}
