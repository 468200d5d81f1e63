package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

func routed(m *ServerMetrics) http.Handler {
	r := chi.NewRouter()
	r.Get("/templates/hello/{name}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hi"))
	})
	r.Post("/contact", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	return m.Middleware(r)
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := New()
	h := routed(m)
	for _, name := range []string{"a", "b", "c"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/templates/hello/"+name, nil))
	}

	f := family(t, m, "http_requests_total")
	mt := labelled(f, "route", "/templates/hello/{name}")
	if mt == nil || mt.GetCounter().GetValue() != 3 {
		t.Fatalf("route series = %v", f)
	}
	if len(f.GetMetric()) != 1 {
		t.Fatalf("raw paths leaked into labels: %d series", len(f.GetMetric()))
	}
}

func TestMiddleware_UnmatchedCollapses(t *testing.T) {
	m := New()
	h := routed(m)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-login.php", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/.env", nil))

	mt := labelled(family(t, m, "http_requests_total"), "route", unmatchedRoute)
	if mt == nil || mt.GetCounter().GetValue() != 2 {
		t.Fatal("unmatched paths should share one series")
	}
}

func TestMiddleware_Counts5xx(t *testing.T) {
	m := New()
	h := routed(m)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/contact", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/templates/hello/x", nil))

	f := family(t, m, "http_errors_total")
	if f == nil || len(f.GetMetric()) != 1 {
		t.Fatalf("want one 5xx series, got %v", f)
	}
	if mt := labelled(f, "route", "/contact"); mt == nil || mt.GetCounter().GetValue() != 1 {
		t.Fatal("POST /contact 502 should count")
	}
}

func TestMiddleware_ResponseSizeAndInflight(t *testing.T) {
	m := New()
	routed(m).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/templates/hello/x", nil))

	mt := labelled(family(t, m, "http_response_size_bytes"), "route", "/templates/hello/{name}")
	if mt == nil || mt.GetHistogram().GetSampleSum() != 2 {
		t.Fatalf("size = %v", mt)
	}
	if g := family(t, m, "http_inflight_requests").GetMetric()[0].GetGauge().GetValue(); g != 0 {
		t.Fatalf("inflight = %v after request finished", g)
	}
}

func TestTraceExemplar(t *testing.T) {
	if traceExemplar(context.Background()) != nil {
		t.Fatal("no span, no exemplar")
	}
	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	unsampled := trace.ContextWithSpanContext(context.Background(),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid}))
	if traceExemplar(unsampled) != nil {
		t.Fatal("unsampled span should not produce an exemplar")
	}
	sampled := trace.ContextWithSpanContext(context.Background(),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled}))
	if ex := traceExemplar(sampled); ex["trace_id"] != tid.String() {
		t.Fatalf("exemplar = %v", ex)
	}
}
