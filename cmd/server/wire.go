package main

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/archive"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/botverify"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/mailer"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// limiterKeyPrefix namespaces the shared sorted sets
const limiterKeyPrefix = "portfolio:contact:"

// buildLimiter returns the shared redis window when a url is set, otherwise
// an in-memory window with an optional sweeper bound to ctx.
// closeFn releases the redis client, it is a no-op for the in-memory limiter.
func buildLimiter(ctx context.Context, L log.Logger, conf cfg.App, m *metrics.ServerMetrics) (lim ratelimit.Limiter, closeFn func() error, err error) {
	opts := []ratelimit.Option{
		ratelimit.WithPolicy(conf.ContactMaxRequests, conf.ContactWindowSecs),
		ratelimit.WithLogger(L),
		// increment prometheus counter on each denied request
		ratelimit.WithOnDenied(func(string) {
			m.IncRateLimitDenied()
		}),
	}

	if conf.ContactRedisURL != "" {
		ropts, err := ratelimit.ParseRedisURL(conf.ContactRedisURL)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(ropts)

		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			// limiter fails open, keep serving and let the error counter alert
			L.Warn(ctx, "redis not reachable at startup, contact limiter will admit until it is", "error", err)
		}

		rw, err := ratelimit.NewRedis(client, append(opts,
			ratelimit.WithKeyPrefix(limiterKeyPrefix),
			ratelimit.WithOnError(func(error) { m.IncRateLimitBackendError() }),
		)...)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		L.Info(ctx, "contact limiter using redis", "addr", ropts.Addr, "db", ropts.DB)
		return rw, client.Close, nil
	}

	sw, err := ratelimit.New(append(opts,
		// only log the first rejection of each streak
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "contact rate limit triggered", "client_ip", ip)
		}),
	)...)
	if err != nil {
		return nil, nil, err
	}
	if err := m.TrackLimiterKeys(sw.Keys); err != nil {
		L.Warn(ctx, "limiter key gauge not registered", "error", err)
	}
	if conf.ContactSweepSecs > 0 {
		go sw.RunSweeper(ctx, time.Duration(conf.ContactSweepSecs)*time.Second)
	}
	L.Info(ctx, "contact limiter using memory",
		"max_requests", conf.ContactMaxRequests,
		"window_secs", conf.ContactWindowSecs,
		"sweep_secs", conf.ContactSweepSecs,
	)
	return sw, func() error { return nil }, nil
}

func buildVerifier(ctx context.Context, L log.Logger, conf cfg.App) (botverify.Verifier, error) {
	if conf.TurnstileSecret == "" {
		L.Warn(ctx, "turnstile secret not set, bot verification disabled")
		return botverify.Disabled{}, nil
	}
	if conf.TurnstileSiteKey == "" {
		L.Warn(ctx, "turnstile secret set without a site key, the form will not render a challenge")
	}
	return botverify.NewTurnstile(botverify.Options{
		Secret:    conf.TurnstileSecret,
		VerifyURL: conf.TurnstileVerifyURL,
	})
}

// buildSender picks smtp or the log sender, then caps the global send rate
func buildSender(ctx context.Context, L log.Logger, conf cfg.App) (mailer.Sender, error) {
	var next mailer.Sender
	if conf.SMTPHost != "" {
		s, err := mailer.NewSMTP(mailer.SMTPOptions{
			Host:          conf.SMTPHost,
			Port:          conf.SMTPPort,
			Username:      conf.SMTPUser,
			Password:      conf.SMTPPassword,
			TLSPolicy:     conf.SMTPTLSPolicy,
			From:          conf.MailFrom,
			To:            conf.MailTo,
			SubjectPrefix: conf.MailSubjectPrefix,
		})
		if err != nil {
			return nil, err
		}
		next = s
		L.Info(ctx, "contact mail via smtp", "smtp_host", conf.SMTPHost, "smtp_port", conf.SMTPPort, "tls", conf.SMTPTLSPolicy)
	} else {
		L.Warn(ctx, "smtp host not set, contact submissions will only be logged")
		next = mailer.LogSender{Logger: L}
	}
	return mailer.NewThrottled(next, conf.MailPerMinute)
}

// buildArchiver returns nil when archiving is off
func buildArchiver(ctx context.Context, L log.Logger, conf cfg.App, awsCfg *aws.Config) (*archive.S3Archive, error) {
	if conf.ArchiveBucket == "" {
		return nil, nil
	}
	if awsCfg == nil {
		return nil, xerrors.New("archive requires aws config")
	}

	var sealer archive.Sealer
	if conf.ArchiveKMSKeyID != "" {
		env, err := cryptoutil.NewEnvelope(kms.NewFromConfig(*awsCfg), conf.ArchiveKMSKeyID)
		if err != nil {
			return nil, xerrors.Wrap(err, "archive envelope")
		}
		sealer = env
	}

	a, err := archive.New(s3.NewFromConfig(*awsCfg), archive.Options{
		Logger: L,
		Bucket: conf.ArchiveBucket,
		Prefix: conf.ArchivePrefix,
		Sealer: sealer,
	})
	if err != nil {
		return nil, err
	}
	L.Info(ctx, "contact archive enabled",
		"bucket", conf.ArchiveBucket,
		"prefix", conf.ArchivePrefix,
		"envelope", sealer != nil,
	)
	return a, nil
}
