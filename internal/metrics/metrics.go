package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/version"
)

// contact outcomes, pre-created so dashboards see zeros before the first hit
var contactOutcomes = []string{
	"sent", "rate_limited", "invalid", "bad_request",
	"verify_failed", "verify_error", "delivery_failed",
}

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	profilingActive prometheus.Gauge

	contactTotal         *prometheus.CounterVec
	ratelimitDenied      prometheus.Counter
	ratelimitBackendErrs prometheus.Counter
	botVerifyTotal       *prometheus.CounterVec
	mailSendDur          *prometheus.HistogramVec
	archiveErrors        prometheus.Counter
}

// New returns a fresh registry with the go/process collectors, the HTTP
// metrics and the contact pipeline metrics. HTTP labels stay to method,
// route pattern and status so raw paths never become label values.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		contactTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contact_submissions_total",
			Help: "Contact form submissions by outcome",
		}, []string{"outcome"}),
		ratelimitDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contact_ratelimit_denied_total",
			Help: "Contact submissions rejected by the per-client limiter",
		}),
		ratelimitBackendErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contact_ratelimit_backend_errors_total",
			Help: "Limiter backend failures (requests were admitted)",
		}),
		botVerifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contact_botverify_total",
			Help: "Challenge token verifications by result",
		}, []string{"result"}),
		mailSendDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contact_mail_send_duration_seconds",
			Help:    "Time spent handing a message to the mail relay, including throttle wait",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"result"}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contact_archive_errors_total",
			Help: "Submissions that were delivered but could not be archived",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.contactTotal,
		m.ratelimitDenied,
		m.ratelimitBackendErrs,
		m.botVerifyTotal,
		m.mailSendDur,
		m.archiveErrors,
	)
	for _, o := range contactOutcomes {
		m.contactTotal.WithLabelValues(o)
	}

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// Registry is exposed for collectors owned by other packages
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *ServerMetrics) IncContactSubmission(outcome string) {
	m.contactTotal.WithLabelValues(outcome).Inc()
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDenied.Inc()
}

func (m *ServerMetrics) IncRateLimitBackendError() {
	m.ratelimitBackendErrs.Inc()
}

func (m *ServerMetrics) IncBotVerify(result string) {
	m.botVerifyTotal.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) ObserveMailSend(seconds float64, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.mailSendDur.WithLabelValues(result).Observe(seconds)
}

func (m *ServerMetrics) IncArchiveError() {
	m.archiveErrors.Inc()
}

// TrackLimiterKeys exports fn as contact_ratelimit_tracked_keys. Call at most once.
func (m *ServerMetrics) TrackLimiterKeys(fn func() int) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "contact_ratelimit_tracked_keys",
		Help: "Identifiers currently held by the in-memory contact limiter",
	}, func() float64 { return float64(fn()) }))
}
