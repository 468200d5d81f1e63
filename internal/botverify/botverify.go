// Package botverify checks Cloudflare Turnstile tokens with the siteverify API.
package botverify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

const (
	DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
	DefaultTimeout   = 5 * time.Second

	// tokens are at most 2048 characters
	maxTokenLen = 2048
	maxRespLen  = 64 << 10
)

// ErrMissingToken means the form arrived without a challenge response
var ErrMissingToken = errors.New("botverify: missing token")

// RejectedError is a well-formed answer of success=false
type RejectedError struct {
	Codes []string
}

func (e *RejectedError) Error() string {
	if len(e.Codes) == 0 {
		return "botverify: token rejected"
	}
	return "botverify: token rejected: " + strings.Join(e.Codes, ",")
}

// Verifier checks a challenge token for a client
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

type Options struct {
	Secret    string
	VerifyURL string
	Timeout   time.Duration
	// HTTPClient overrides the otelhttp-instrumented default
	HTTPClient *http.Client
}

type Turnstile struct {
	secret string
	url    string
	client *http.Client
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
	Action     string   `json:"action"`
}

func NewTurnstile(opts Options) (*Turnstile, error) {
	if opts.Secret == "" {
		return nil, xerrors.New("botverify: secret is required")
	}
	if opts.VerifyURL == "" {
		opts.VerifyURL = DefaultVerifyURL
	}
	u, err := url.Parse(opts.VerifyURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, xerrors.Newf("botverify: invalid verify url %q", opts.VerifyURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Turnstile{secret: opts.Secret, url: opts.VerifyURL, client: client}, nil
}

func (t *Turnstile) Verify(ctx context.Context, token, remoteIP string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrMissingToken
	}
	if len(token) > maxTokenLen {
		return &RejectedError{Codes: []string{"invalid-input-response"}}
	}

	form := url.Values{}
	form.Set("secret", t.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	form.Set("idempotency_key", uuid.NewString())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, strings.NewReader(form.Encode()))
	if err != nil {
		return xerrors.Wrap(err, "build siteverify request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return xerrors.Wrap(err, "siteverify request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxRespLen))
		return xerrors.Newf("siteverify status %d", resp.StatusCode)
	}

	var out siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRespLen)).Decode(&out); err != nil {
		return xerrors.Wrap(err, "decode siteverify response")
	}
	if !out.Success {
		return &RejectedError{Codes: out.ErrorCodes}
	}
	log.FromContext(ctx).Debug(ctx, "turnstile token verified", "hostname", out.Hostname, "action", out.Action)
	return nil
}

// Disabled passes every token, for development without a turnstile secret
type Disabled struct{}

func (Disabled) Verify(context.Context, string, string) error { return nil }

// IsRejection reports whether err is the client's fault (missing or rejected token)
// as opposed to the verifier being unreachable.
func IsRejection(err error) bool {
	var rej *RejectedError
	return errors.Is(err, ErrMissingToken) || errors.As(err, &rej)
}
