package cfg

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/mail"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// contact form limiter
	ContactMaxRequests int
	ContactWindowSecs  int
	ContactSweepSecs   int
	ContactRedisURL    string
	TrustedProxyHops   int
	CORSAllowedOrigins string

	SMTPHost          string
	SMTPPort          int
	SMTPUser          string
	SMTPPassword      string
	SMTPTLSPolicy     string
	MailFrom          string
	MailTo            string
	MailSubjectPrefix string
	MailPerMinute     int

	TurnstileSecret    string
	TurnstileSiteKey   string
	TurnstileVerifyURL string

	ArchiveBucket   string
	ArchivePrefix   string
	ArchiveKMSKeyID string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.IntVar(&c.ContactMaxRequests, "contact-ratelimit-max", 5, "contact submissions allowed per client per window")
	fs.IntVar(&c.ContactWindowSecs, "contact-ratelimit-window", 3600, "contact rate limit window in seconds")
	fs.IntVar(&c.ContactSweepSecs, "contact-ratelimit-sweep", 0, "evict idle limiter keys every N seconds (0 keeps them forever)")
	fs.StringVar(&c.ContactRedisURL, "contact-ratelimit-redis-url", "", "redis url for a shared limiter (redis://host:port/db), empty for in-memory")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 1, "number of reverse proxies in front of the server (0 uses the socket address)")
	fs.StringVar(&c.CORSAllowedOrigins, "cors-allowed-origins", "", "comma separated origins allowed to POST /contact cross-origin")

	fs.StringVar(&c.SMTPHost, "smtp-host", "", "smtp relay host, empty logs messages instead of sending")
	fs.IntVar(&c.SMTPPort, "smtp-port", 587, "smtp relay port")
	fs.StringVar(&c.SMTPUser, "smtp-user", "", "smtp auth username")
	fs.StringVar(&c.SMTPPassword, "smtp-password", "", "smtp auth password (literal or ssm:<param>)")
	fs.StringVar(&c.SMTPTLSPolicy, "smtp-tls", "mandatory", "mandatory|opportunistic|none")
	fs.StringVar(&c.MailFrom, "mail-from", "", "envelope and header From address")
	fs.StringVar(&c.MailTo, "mail-to", "", "address contact submissions are delivered to")
	fs.StringVar(&c.MailSubjectPrefix, "mail-subject-prefix", "[portfolio]", "subject prefix for contact mail")
	fs.IntVar(&c.MailPerMinute, "mail-per-minute", 30, "global outbound mail budget per minute")

	fs.StringVar(&c.TurnstileSecret, "turnstile-secret", "", "turnstile secret (literal or ssm:<param>), empty disables verification")
	fs.StringVar(&c.TurnstileSiteKey, "turnstile-site-key", "", "turnstile site key rendered into the contact form")
	fs.StringVar(&c.TurnstileVerifyURL, "turnstile-verify-url", "https://challenges.cloudflare.com/turnstile/v0/siteverify", "turnstile siteverify endpoint")

	fs.StringVar(&c.ArchiveBucket, "archive-s3-bucket", "", "s3 bucket to archive submissions to, empty disables archiving")
	fs.StringVar(&c.ArchivePrefix, "archive-s3-prefix", "contact", "s3 key prefix for archived submissions")
	fs.StringVar(&c.ArchiveKMSKeyID, "archive-kms-key-id", "", "KMS key id/arn for envelope encrypting archived submissions")
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// EnvKey maps flag "foo-bar" to PREFIX_FOO_BAR
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// Origins splits CORSAllowedOrigins, dropping blanks
func (c App) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Contact limiter
	if c.ContactMaxRequests < 1 {
		errs = append(errs, fmt.Errorf("CONTACT_RATELIMIT_MAX must be >= 1 (got %d)", c.ContactMaxRequests))
	}
	if c.ContactWindowSecs < 1 {
		errs = append(errs, fmt.Errorf("CONTACT_RATELIMIT_WINDOW must be >= 1 (got %d)", c.ContactWindowSecs))
	}
	if c.ContactSweepSecs < 0 {
		errs = append(errs, fmt.Errorf("CONTACT_RATELIMIT_SWEEP must be >= 0 (got %d)", c.ContactSweepSecs))
	}
	if c.ContactRedisURL != "" {
		if u, err := url.Parse(c.ContactRedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errs = append(errs, fmt.Errorf("CONTACT_RATELIMIT_REDIS_URL must be redis:// or rediss:// (got %q)", c.ContactRedisURL))
		}
	}
	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 8 {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXY_HOPS must be 0..8 (got %d)", c.TrustedProxyHops))
	}
	for _, o := range c.Origins() {
		if u, err := url.Parse(o); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("CORS_ALLOWED_ORIGINS entry must be scheme://host (got %q)", o))
		}
	}

	// Mail, only enforced when a relay is configured
	if c.SMTPHost != "" {
		if c.SMTPPort < 1 || c.SMTPPort > 65535 {
			errs = append(errs, fmt.Errorf("invalid SMTP_PORT %d (must be 1..65535)", c.SMTPPort))
		}
		switch c.SMTPTLSPolicy {
		case "mandatory", "opportunistic", "none":
		default:
			errs = append(errs, fmt.Errorf("SMTP_TLS must be mandatory|opportunistic|none (got %q)", c.SMTPTLSPolicy))
		}
		if _, err := mail.ParseAddress(c.MailFrom); err != nil {
			errs = append(errs, fmt.Errorf("MAIL_FROM required when SMTP_HOST is set (got %q): %v", c.MailFrom, err))
		}
		if _, err := mail.ParseAddress(c.MailTo); err != nil {
			errs = append(errs, fmt.Errorf("MAIL_TO required when SMTP_HOST is set (got %q): %v", c.MailTo, err))
		}
	}
	if c.MailPerMinute < 1 {
		errs = append(errs, fmt.Errorf("MAIL_PER_MINUTE must be >= 1 (got %d)", c.MailPerMinute))
	}

	if c.TurnstileSecret != "" {
		if u, err := url.Parse(c.TurnstileVerifyURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("TURNSTILE_VERIFY_URL must be a URL (got %q)", c.TurnstileVerifyURL))
		}
	}

	if c.ArchiveKMSKeyID != "" && c.ArchiveBucket == "" {
		errs = append(errs, fmt.Errorf("ARCHIVE_KMS_KEY_ID requires ARCHIVE_S3_BUCKET"))
	}
	if c.ArchiveBucket != "" && strings.TrimSpace(c.ArchivePrefix) == "" {
		errs = append(errs, fmt.Errorf("ARCHIVE_S3_PREFIX is required when ARCHIVE_S3_BUCKET is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
