// Package gateway serves the optional admin HTTP endpoint of seqlined.
//
// Routes:
//
//	GET /healthz   liveness check, always "ok"
//	GET /metrics   Prometheus exposition
//	GET /stats     JSON snapshot of server.ServerMetrics
//	GET /ws        WebSocket bridge (when enabled)
//
// The WebSocket bridge speaks the same text protocol as the TCP listener:
// every text or binary message is ingested like one TCP chunk, and each
// response line comes back as one text message. A message containing EOT
// closes the socket. Bridge connections share the TCP clients' sequence
// counter.
package gateway
