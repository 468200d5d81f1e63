package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/health"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	Health       health.Probe
	Readiness    health.Probe
	ClientIPOpts httpmw.ClientIPOptions

	// APIRoutes registers cross-origin callable endpoints (the contact form)
	APIRoutes func(chi.Router)

	// CORSOrigins enables CORS on CORSPaths, or on every path when CORSPaths is empty.
	// Runs ahead of routing so preflights never hit the 405 fallback.
	CORSOrigins []string
	CORSPaths   []string

	// SiteRoutes registers pages and assets, SiteHandler answers everything unmatched
	SiteRoutes  func(chi.Router)
	SiteHandler http.Handler

	// MethodNotAllowed answers a known path hit with the wrong method, default SiteHandler
	MethodNotAllowed http.Handler

	// MaxBodyBytes caps every request body, default DefaultMaxBodyBytes
	MaxBodyBytes int64
}
