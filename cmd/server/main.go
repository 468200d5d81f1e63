package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/contact"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/health"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/provenancehttp"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/secrets"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/sitehandler"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/webassets"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/prof"
	v "github.com/keithlinneman/linnemanlabs-portfolio/internal/version"
)

// drainPeriod is how long readiness fails before listeners close, the load
// balancer needs a few health check intervals to notice
const drainPeriod = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startedAt := time.Now()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	var envFile string

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.StringVar(&envFile, "env-file", ".env", "optional KEY=VALUE file loaded into the environment before env fill")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	if err := cfg.LoadDotEnv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Fill in config from environment variables with prefix PORTFOLIO_ and validate
	cfg.FillFromEnv(flag.CommandLine, "PORTFOLIO_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	var stackLvl slog.Level
	if conf.StacktraceLevel != "" {
		if stackLvl, err = log.ParseLevel(conf.StacktraceLevel); err != nil {
			fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
			os.Exit(1)
		}
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	// secrets are never logged, only whether they came from ssm
	L.Info(ctx, "initializing application",
		"version", vi.Short(),
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"contact_max_requests", conf.ContactMaxRequests,
		"contact_window_secs", conf.ContactWindowSecs,
		"contact_redis", conf.ContactRedisURL != "",
		"trusted_proxy_hops", conf.TrustedProxyHops,
		"cors_allowed_origins", conf.Origins(),
		"smtp_host", conf.SMTPHost,
		"smtp_password_ssm", secrets.IsReference(conf.SMTPPassword),
		"turnstile_enabled", conf.TurnstileSecret != "",
		"turnstile_secret_ssm", secrets.IsReference(conf.TurnstileSecret),
		"archive_bucket", conf.ArchiveBucket,
		"archive_kms", conf.ArchiveKMSKeyID != "",
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	profErr := err
	if profErr != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// aws is only needed for ssm secret references and the archive
	var awsCfg *aws.Config
	if secrets.NeedsSSM(conf.SMTPPassword, conf.TurnstileSecret) || conf.ArchiveBucket != "" {
		c, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		awsCfg = &c
	}

	if secrets.NeedsSSM(conf.SMTPPassword, conf.TurnstileSecret) {
		res := secrets.NewResolver(ssm.NewFromConfig(*awsCfg))
		if err := res.ResolveAll(ctx, &conf.SMTPPassword, &conf.TurnstileSecret); err != nil {
			L.Error(ctx, err, "failed to resolve secrets from ssm")
			os.Exit(1)
		}
	}

	// setup contact form pipeline
	limiter, closeLimiter, err := buildLimiter(ctx, L, conf, m)
	if err != nil {
		L.Error(ctx, err, "failed to create contact rate limiter")
		os.Exit(1)
	}
	defer func() { _ = closeLimiter() }()

	verifier, err := buildVerifier(ctx, L, conf)
	if err != nil {
		L.Error(ctx, err, "failed to create bot verifier")
		os.Exit(1)
	}

	sender, err := buildSender(ctx, L, conf)
	if err != nil {
		L.Error(ctx, err, "failed to create mail sender")
		os.Exit(1)
	}

	contactOpts := contact.Options{
		Limiter:  limiter,
		Verifier: verifier,
		Sender:   sender,
		Metrics:  m,
	}
	arch, err := buildArchiver(ctx, L, conf, awsCfg)
	if err != nil {
		L.Error(ctx, err, "failed to create contact archive")
		os.Exit(1)
	}
	if arch != nil {
		contactOpts.Archiver = arch
	}

	contactHandler, err := contact.New(contactOpts)
	if err != nil {
		L.Error(ctx, err, "failed to create contact handler")
		os.Exit(1)
	}

	// setup site handler that serves the embedded pages and assets
	siteHandler, err := sitehandler.New(&sitehandler.Options{
		Logger:           L,
		Templates:        webassets.TemplatesFS(),
		Static:           webassets.StaticFS(),
		TurnstileSiteKey: conf.TurnstileSiteKey,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}

	// setup provenance API for the running build
	provenanceAPI := provenancehttp.NewAPI(vi, startedAt, L)
	siteRoutes := func(r chi.Router) {
		siteHandler.Routes(r)
		provenanceAPI.RegisterRoutes(r)
	}

	// setup toggle for server shutdown
	var gate health.ShutdownGate
	readiness := health.All(gate.Probe())

	// start site http server
	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:           L,
		Port:             conf.HTTPPort,
		UseRecoverMW:     true,
		OnPanic:          m.IncHttpPanic,
		MetricsMW:        m.Middleware,
		Health:           health.Fixed(true, ""),
		Readiness:        readiness,
		ClientIPOpts:     httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		APIRoutes:        contactHandler.Routes,
		CORSOrigins:      conf.Origins(),
		CORSPaths:        []string{contact.Path},
		SiteRoutes:       siteRoutes,
		SiteHandler:      siteHandler,
		MethodNotAllowed: http.HandlerFunc(siteHandler.MethodNotAllowed),
		MaxBodyBytes:     contact.MaxBodyBytes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener port")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks and pprof
	// sg restricts inbound to internal monitoring infrastructure, the listener
	// also rejects public peers in case that is ever misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining", "drain_period", drainPeriod.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		if err := siteHTTPStop(shutdownCtx); err != nil {
			L.Error(context.Background(), err, "app http server shutdown")
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := opsHTTPStop(shutdownCtx); err != nil {
			L.Error(context.Background(), err, "ops http server shutdown")
			return err
		}
		return nil
	})
	shutdownErr := g.Wait()

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	if err := closeLimiter(); err != nil {
		L.Error(context.Background(), err, "rate limiter close")
	}

	stopProf()

	if shutdownErr != nil {
		L.Warn(context.Background(), "shutdown completed with errors")
		os.Exit(1)
	}
	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
