package provenancehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/version"
)

// API serves build provenance for the running binary
type API struct {
	info      version.Info
	startedAt time.Time
	now       func() time.Time
	logger    log.Logger
}

// NewAPI creates a new provenance API handler, startedAt is the process start time
func NewAPI(info version.Info, startedAt time.Time, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{
		info:      info,
		startedAt: startedAt,
		now:       time.Now,
		logger:    logger,
	}
}

// RegisterRoutes attaches provenance endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/api/provenance/build", api.HandleBuildProvenance)
	r.Get("/api/provenance/build/summary", api.HandleBuildSummary)
}

// BuildProvenanceResponse is the full provenance response
type BuildProvenanceResponse struct {
	Build   version.Info `json:"build"`
	Runtime RuntimeInfo  `json:"runtime"`
}

// RuntimeInfo contains server-side runtime information
type RuntimeInfo struct {
	StartedAt     time.Time `json:"started_at"`
	ServerTime    time.Time `json:"server_time"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}

// BuildSummaryResponse is a lightweight summary for the page footer
type BuildSummaryResponse struct {
	Version     string `json:"version"`
	CommitShort string `json:"commit_short,omitempty"`
	BuildDate   string `json:"build_date,omitempty"`
	Dirty       bool   `json:"dirty"`
}

func (api *API) runtime() RuntimeInfo {
	now := api.now().UTC().Truncate(time.Second)
	started := api.startedAt.UTC().Truncate(time.Second)
	up := int64(now.Sub(started) / time.Second)
	if up < 0 {
		up = 0
	}
	return RuntimeInfo{
		StartedAt:     started,
		ServerTime:    now,
		UptimeSeconds: up,
	}
}

// HandleBuildProvenance serves the full build info with runtime details
func (api *API) HandleBuildProvenance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := BuildProvenanceResponse{
		Build:   api.info,
		Runtime: api.runtime(),
	}

	api.logger.Debug(ctx, "served build provenance", "version", api.info.Version)

	api.writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleBuildSummary serves a lightweight summary for UI display
func (api *API) HandleBuildSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := BuildSummaryResponse{
		Version:   api.info.Version,
		BuildDate: api.info.BuildDate,
		Dirty:     api.info.VCSDirty != nil && *api.info.VCSDirty,
	}
	if c := api.info.Commit; c != "" && c != "none" {
		if len(c) > 7 {
			c = c[:7]
		}
		resp.CommitShort = c
	}

	api.writeJSON(ctx, w, http.StatusOK, resp)
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
