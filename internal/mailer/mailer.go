// Package mailer delivers contact submissions by email.
package mailer

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// Message is one outbound notification. From and To are fixed by the sender.
type Message struct {
	ReplyToName string
	ReplyTo     string
	Subject     string
	Body        string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Throttled caps outbound mail across all clients. Send blocks until the
// budget allows or ctx ends.
type Throttled struct {
	next Sender
	lim  *rate.Limiter
}

// NewThrottled allows perMinute sends per minute, bursting up to the full budget
func NewThrottled(next Sender, perMinute int) (*Throttled, error) {
	if next == nil {
		return nil, xerrors.New("mailer: nil sender")
	}
	if perMinute <= 0 {
		return nil, xerrors.Newf("mailer: per minute budget must be > 0 (got %d)", perMinute)
	}
	return &Throttled{
		next: next,
		lim:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}, nil
}

func (t *Throttled) Send(ctx context.Context, m Message) error {
	if err := t.lim.Wait(ctx); err != nil {
		return xerrors.Wrap(err, "mail throttle")
	}
	return t.next.Send(ctx, m)
}

// LogSender writes messages to the log instead of delivering them
type LogSender struct {
	Logger log.Logger
}

func (s LogSender) Send(ctx context.Context, m Message) error {
	L := s.Logger
	if L == nil {
		L = log.FromContext(ctx)
	}
	L.Info(ctx, "mail delivery disabled, logging message",
		"subject", m.Subject,
		"reply_to", m.ReplyTo,
		"body_bytes", len(m.Body),
	)
	return nil
}
