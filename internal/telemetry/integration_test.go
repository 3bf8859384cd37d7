package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTraceContextPropagation checks that a server span continues the
// caller's trace and that the context is injected into outbound headers.
func TestTraceContextPropagation(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	InstallPropagator()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var outbound http.Header
	r := mux.NewRouter()
	r.Use(otelmux.Middleware(ServiceName))
	r.HandleFunc("/v1/designs", func(w http.ResponseWriter, r *http.Request) {
		outbound = http.Header{}
		otel.GetTextMapPropagator().Inject(r.Context(), propagation.HeaderCarrier(outbound))
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name        string
		traceParent string
		wantTraceID string
	}{
		{
			name: "without existing trace",
		},
		{
			name:        "with existing trace",
			traceParent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			wantTraceID: "4bf92f3577b34da6a3ce929d0e0e4736",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter.Reset()

			req := httptest.NewRequest("GET", "/v1/designs", nil)
			if tt.traceParent != "" {
				req.Header.Set("traceparent", tt.traceParent)
			}

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Errorf("Expected status OK, got %d", rr.Code)
			}

			spans := exporter.GetSpans()
			if len(spans) == 0 {
				t.Fatal("Expected at least one span to be created")
			}
			traceID := spans[0].SpanContext.TraceID()
			if !traceID.IsValid() {
				t.Error("Expected valid trace ID in span")
			}
			if tt.wantTraceID != "" && traceID.String() != tt.wantTraceID {
				t.Errorf("Expected trace ID %s, got %s", tt.wantTraceID, traceID)
			}

			if outbound.Get("traceparent") == "" {
				t.Error("Expected traceparent to be injected into outbound headers")
			}
		})
	}
}
