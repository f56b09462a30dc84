// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for oauth2u.
//
// It covers the HTTP handler, the authorization and token exchange flows, the
// security layer and every code store backend:
//   - Metrics: counters, histograms and gauges for monitoring OAuth operations
//   - Traces: spans for request flows across components
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		ServiceName:     "oauth2u",
//		ServiceVersion:  "1.0.0",
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	srv, err := server.New(store, cfg, logger, server.WithInstrumentation(inst))
//	...
//	mux.Handle("/metrics", inst.PrometheusHandler())
//
// The Prometheus exporter writes to a dedicated registry, so only oauth2u and
// Go runtime metrics are exposed.
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint} (ms)
//
// OAuth Flows:
//   - oauth.authorization.code_issued{client_id}
//   - oauth.authorization.code_collision
//   - oauth.code.exchanged{client_id}
//   - oauth.code.exchange_failed{reason}
//
// Security:
//   - oauth.rate_limit.exceeded{limiter_type}
//   - oauth.code.reuse_detected
//   - oauth.client.auth_failed{method}
//   - oauth.audit.events.total{event_type}
//
// Storage:
//   - storage.operation.total{storage_type, operation, result}
//   - storage.operation.duration{storage_type, operation} (ms)
//   - storage.clients.count
//   - storage.codes.count
//
// # Testing
//
// Config.MetricReader and Config.SpanProcessor accept an
// sdkmetric.ManualReader and a tracetest.SpanRecorder so tests can assert on
// recorded values without any exporter.
package instrumentation
