package instrumentation

import (
	"context"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func newTestInstrumentation(t *testing.T) (*Instrumentation, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	inst, err := New(Config{Enabled: true, MetricReader: reader})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst, reader
}

func TestMetrics_Counters(t *testing.T) {
	ctx := context.Background()
	inst, reader := newTestInstrumentation(t)
	m := inst.Metrics()

	m.RecordHTTPRequest(ctx, "GET", "/authorize", 302, 1.2)
	m.RecordHTTPRequest(ctx, "POST", "/access-token", 200, 2.3)
	m.RecordHTTPRequest(ctx, "POST", "/access-token", 400, 0.4)
	m.RecordAuthorizationCodeIssued(ctx, "client-1")
	m.RecordAuthorizationCodeIssued(ctx, "client-2")
	m.RecordCodeExchange(ctx, "client-1")
	m.RecordCodeExchangeFailed(ctx, "invalid_grant")
	m.RecordCodeReuseDetected(ctx)
	m.RecordRateLimitExceeded(ctx, "ip")
	m.RecordClientAuthFailed(ctx, "client_secret_basic")
	m.RecordAuditEvent(ctx, "token_issued")
	m.RecordCodeCollision(ctx)
	m.RecordStorageOperation(ctx, "memory", "save_authorization_code", "success", 0.1)

	rm := collect(t, reader)

	tests := []struct {
		name string
		want int64
	}{
		{"oauth.http.requests.total", 3},
		{"oauth.authorization.code_issued", 2},
		{"oauth.code.exchanged", 1},
		{"oauth.code.exchange_failed", 1},
		{"oauth.code.reuse_detected", 1},
		{"oauth.rate_limit.exceeded", 1},
		{"oauth.client.auth_failed", 1},
		{"oauth.audit.events.total", 1},
		{"oauth.authorization.code_collision", 1},
		{"storage.operation.total", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := counterValue(rm, tt.name); got != tt.want {
				t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	ctx := context.Background()
	inst, reader := newTestInstrumentation(t)

	const goroutines = 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst.Metrics().RecordCodeExchange(ctx, "client")
		}()
	}
	wg.Wait()

	if got := counterValue(collect(t, reader), "oauth.code.exchanged"); got != goroutines {
		t.Errorf("oauth.code.exchanged = %d, want %d", got, goroutines)
	}
}

func TestMetrics_NoOpBehavior(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	m := inst.Metrics()

	// All recorders must be safe on no-op providers
	m.RecordHTTPRequest(ctx, "GET", "/authorize", 302, 1)
	m.RecordAuthorizationCodeIssued(ctx, "client")
	m.RecordCodeExchange(ctx, "client")
	m.RecordCodeExchangeFailed(ctx, "invalid_grant")
	m.RecordCodeReuseDetected(ctx)
	m.RecordRateLimitExceeded(ctx, "ip")
	m.RecordClientAuthFailed(ctx, "client_secret_basic")
	m.RecordAuditEvent(ctx, "auth_failure")
	m.RecordCodeCollision(ctx)
	m.RecordStorageOperation(ctx, "sqlite", "consume_authorization_code", "error", 3)

	if err := inst.RegisterStorageSizeCallbacks(nil, nil); err != nil {
		t.Errorf("RegisterStorageSizeCallbacks() error = %v", err)
	}
}
