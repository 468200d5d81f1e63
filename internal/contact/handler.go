// Package contact serves the contact form submission endpoint.
//
// A submission runs limiter, validation, bot verification, mail delivery and
// an optional archive write, in that order. A rejected step ends the request
// before any later step runs.
package contact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/archive"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/botverify"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/mailer"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

const (
	Path = "/contact"

	// MaxBodyBytes fits the largest valid message with room for encoding
	MaxBodyBytes = 64 << 10

	archiveTimeout = 5 * time.Second
)

// outcome labels for contact_submissions_total
const (
	outcomeSent           = "sent"
	outcomeRateLimited    = "rate_limited"
	outcomeInvalid        = "invalid"
	outcomeBadRequest     = "bad_request"
	outcomeVerifyFailed   = "verify_failed"
	outcomeVerifyError    = "verify_error"
	outcomeDeliveryFailed = "delivery_failed"
)

type Metrics interface {
	IncContactSubmission(outcome string)
	IncBotVerify(result string)
	ObserveMailSend(seconds float64, ok bool)
	IncArchiveError()
}

type Archiver interface {
	Store(ctx context.Context, rec archive.Record) (string, error)
}

type Options struct {
	Limiter  ratelimit.Limiter
	Verifier botverify.Verifier
	Sender   mailer.Sender
	// optional
	Archiver Archiver
	Metrics  Metrics
	Now      func() time.Time
	NewID    func() string
}

type Handler struct {
	opts Options
}

func New(opts Options) (*Handler, error) {
	if opts.Limiter == nil {
		return nil, xerrors.New("contact: limiter is required")
	}
	if opts.Verifier == nil {
		return nil, xerrors.New("contact: verifier is required")
	}
	if opts.Sender == nil {
		return nil, xerrors.New("contact: sender is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Handler{opts: opts}, nil
}

// Routes mounts the endpoint, pass it as httpserver Options.APIRoutes
func (h *Handler) Routes(r chi.Router) {
	r.Post(Path, h.ServeHTTP)
}

type errorBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

type sentBody struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)
	m := h.opts.Metrics

	clientIP := httpmw.ClientIPFromContext(ctx)
	if clientIP == "" {
		clientIP = "0.0.0.0"
	}

	if !h.opts.Limiter.Allow(ctx, clientIP) {
		m.IncContactSubmission(outcomeRateLimited)
		secs := int(h.opts.Limiter.Window() / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	sub, err := parseSubmission(r)
	if err != nil {
		m.IncContactSubmission(outcomeBadRequest)
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request too large"})
		case errors.Is(err, errUnsupportedMedia):
			writeJSON(w, http.StatusUnsupportedMediaType, errorBody{Error: "unsupported media type"})
		default:
			L.Debug(ctx, "contact body rejected", "reason", err.Error())
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad request"})
		}
		return
	}
	if bad := sub.validate(); len(bad) > 0 {
		m.IncContactSubmission(outcomeInvalid)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid submission", Fields: bad})
		return
	}

	if err := h.opts.Verifier.Verify(ctx, sub.Token, clientIP); err != nil {
		if botverify.IsRejection(err) {
			m.IncBotVerify("reject")
			m.IncContactSubmission(outcomeVerifyFailed)
			L.Info(ctx, "contact bot verification rejected", "reason", err.Error())
			writeJSON(w, http.StatusForbidden, errorBody{Error: "verification failed"})
			return
		}
		m.IncBotVerify("error")
		m.IncContactSubmission(outcomeVerifyError)
		L.Error(ctx, err, "contact bot verification unavailable")
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "verification unavailable"})
		return
	}
	m.IncBotVerify("pass")

	rec := archive.Record{
		ID:         h.opts.NewID(),
		ReceivedAt: h.opts.Now().UTC(),
		Name:       sub.Name,
		Email:      sub.Email,
		Message:    sub.Message,
		ClientIP:   clientIP,
	}

	start := time.Now()
	err = h.opts.Sender.Send(ctx, mailFor(rec))
	m.ObserveMailSend(time.Since(start).Seconds(), err == nil)
	if err != nil {
		m.IncContactSubmission(outcomeDeliveryFailed)
		L.Error(ctx, err, "contact delivery failed", "submission_id", rec.ID)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "delivery failed"})
		return
	}

	if h.opts.Archiver != nil {
		// the mail is out, a client hanging up must not lose the archive copy
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		if _, err := h.opts.Archiver.Store(actx, rec); err != nil {
			m.IncArchiveError()
			L.Error(ctx, err, "contact archive failed", "submission_id", rec.ID)
		}
		cancel()
	}

	m.IncContactSubmission(outcomeSent)
	L.Info(ctx, "contact submission sent", "submission_id", rec.ID)
	writeJSON(w, http.StatusOK, sentBody{Status: "sent", ID: rec.ID})
}

func mailFor(rec archive.Record) mailer.Message {
	body := fmt.Sprintf("Name: %s\nEmail: %s\nClient IP: %s\nSubmission: %s\nReceived: %s\n\n%s\n",
		rec.Name, rec.Email, rec.ClientIP, rec.ID, rec.ReceivedAt.Format(time.RFC3339), rec.Message)
	return mailer.Message{
		ReplyToName: rec.Name,
		ReplyTo:     rec.Email,
		Subject:     "Contact from " + rec.Name,
		Body:        body,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type nopMetrics struct{}

func (nopMetrics) IncContactSubmission(string)   {}
func (nopMetrics) IncBotVerify(string)           {}
func (nopMetrics) ObserveMailSend(float64, bool) {}
func (nopMetrics) IncArchiveError()              {}
