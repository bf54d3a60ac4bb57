// Package middleware provides observability middleware for the seqline writer.
//
// Every middleware here is a server.Middleware: it wraps the handler that
// transforms a request and writes its response, runs on the writer
// goroutine, and returns the wrapped handler's error unchanged so the retry
// policy still applies.
//
// # OpenTelemetry Middleware
//
// OpenTelemetry starts one span per request with the connection id, attempt
// number and counter reset, and marks the span as failed when the request
// got no response.
//
//	config := server.DefaultServerConfig().WithMiddleware(
//	    middleware.OpenTelemetry(),
//	)
//
// Configure with options:
//
//	middleware.OpenTelemetry(
//	    middleware.WithTracerName("my-service"),
//	    middleware.WithRequestFilter(func(req server.Request) bool {
//	        return req.Attempt == 0
//	    }),
//	)
//
// # Prometheus Metrics
//
// The Prometheus middleware collects request counts, durations, queue wait
// and error categories. Connection gauges are fed by RecordConnOpen and
// RecordConnClose, which match the server's lifecycle hook signature:
//
//	config := server.DefaultServerConfig().WithMiddleware(middleware.Prometheus())
//	config.OnConnOpen = middleware.RecordConnOpen
//	config.OnConnClose = middleware.RecordConnClose
//
//	http.Handle("/metrics", promhttp.Handler())
package middleware
