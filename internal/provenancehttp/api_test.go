package provenancehttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/version"
)

var started = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func testInfo(dirty bool) version.Info {
	return version.Info{
		AppName:   "portfolio",
		Version:   "v1.2.0",
		Commit:    "3f9a1c2d4e5f60718293",
		BuildDate: "2025-01-15T11:00:00Z",
		BuildId:   "build-42",
		GoVersion: "go1.24.0",
		VCSDirty:  &dirty,
	}
}

func newRouter(t *testing.T, info version.Info, now time.Time) http.Handler {
	t.Helper()
	api := NewAPI(info, started, log.Nop())
	api.now = func() time.Time { return now }
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestHandleBuildProvenance(t *testing.T) {
	h := newRouter(t, testInfo(false), started.Add(90*time.Second+400*time.Millisecond))
	rec := get(t, h, "/api/provenance/build")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("Cache-Control = %q", cc)
	}

	var resp BuildProvenanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Build.Version != "v1.2.0" || resp.Build.BuildId != "build-42" {
		t.Fatalf("build = %+v", resp.Build)
	}
	if resp.Runtime.UptimeSeconds != 90 {
		t.Fatalf("uptime = %d, want 90", resp.Runtime.UptimeSeconds)
	}
	if !resp.Runtime.StartedAt.Equal(started) {
		t.Fatalf("started_at = %v", resp.Runtime.StartedAt)
	}
}

func TestHandleBuildProvenance_ClockBehindStart(t *testing.T) {
	h := newRouter(t, testInfo(false), started.Add(-time.Minute))
	var resp BuildProvenanceResponse
	if err := json.Unmarshal(get(t, h, "/api/provenance/build").Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Runtime.UptimeSeconds != 0 {
		t.Fatalf("uptime = %d, want 0", resp.Runtime.UptimeSeconds)
	}
}

func TestHandleBuildSummary(t *testing.T) {
	h := newRouter(t, testInfo(true), started)
	rec := get(t, h, "/api/provenance/build/summary")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp BuildSummaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != "v1.2.0" || resp.CommitShort != "3f9a1c2" || !resp.Dirty {
		t.Fatalf("summary = %+v", resp)
	}
}

func TestHandleBuildSummary_NoCommit(t *testing.T) {
	h := newRouter(t, version.Info{Version: "dev", Commit: "none"}, started)

	var resp BuildSummaryResponse
	if err := json.Unmarshal(get(t, h, "/api/provenance/build/summary").Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CommitShort != "" || resp.Dirty {
		t.Fatalf("summary = %+v", resp)
	}
}

func TestNewAPI_NilLogger(t *testing.T) {
	api := NewAPI(version.Info{}, started, nil)
	if api.logger == nil {
		t.Fatal("nil logger should default to nop")
	}
}
