package server

import (
	"log/slog"
	"strings"
	"time"

	"github.com/vango-dev/seqline/pkg/protocol"
)

// Dispatcher turns raw chunks into queued requests.
//
// It is shared by the reactor and by any other transport that feeds the
// writer, so every Sink goes through the same EOT check and tokenizer.
type Dispatcher struct {
	tokenizer *protocol.Tokenizer
	queue     *Queue
	metrics   *MetricsCollector
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher that pushes onto queue.
func NewDispatcher(queue *Queue, config *ServerConfig, metrics *MetricsCollector) *Dispatcher {
	if config == nil {
		config = DefaultServerConfig()
	}
	config = config.Clone()
	config.applyDefaults()
	if metrics == nil {
		metrics = NewMetricsCollector()
	}

	return &Dispatcher{
		tokenizer: protocol.NewTokenizer(!config.IgnoreResetToken),
		queue:     queue,
		metrics:   metrics,
		logger:    config.Logger.With("component", "dispatcher"),
	}
}

// Ingest processes one chunk read from sink. It reports false when the
// chunk carried EOT and the sink must be closed; nothing is queued then,
// even if text preceded the EOT.
//
// Chunks without a word and chunks arriving after the queue closed are
// dropped silently. chunk is not retained.
func (d *Dispatcher) Ingest(sink Sink, chunk []byte) bool {
	d.metrics.RecordChunk(len(chunk))

	if protocol.ContainsEOT(chunk) {
		d.metrics.RecordEOT()
		return false
	}

	text := strings.ToValidUTF8(string(chunk), "�")
	tok, err := d.tokenizer.Tokenize(text)
	if err != nil {
		d.metrics.RecordChunkDropped()
		d.logger.Debug("chunk dropped", "conn_id", sink.ID(), "bytes", len(chunk), "error", err)
		return true
	}
	if tok.ResetErr != nil {
		d.logger.Debug("counter reset ignored", "conn_id", sink.ID(), "error", tok.ResetErr)
	}

	req := Request{
		Conn:       sink,
		Text:       text,
		Word:       tok.Word,
		Reset:      tok.Reset,
		HasReset:   tok.HasReset,
		ReceivedAt: time.Now(),
	}
	if err := d.queue.Push(req); err != nil {
		d.metrics.RecordChunkDropped()
		d.logger.Debug("chunk dropped", "conn_id", sink.ID(), "error", err)
		return true
	}
	d.metrics.RecordQueued(tok.HasReset)
	return true
}
