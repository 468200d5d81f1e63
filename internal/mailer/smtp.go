package mailer

import (
	"context"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	// TLSPolicy is one of mandatory, opportunistic or none
	TLSPolicy     string
	From          string
	To            string
	SubjectPrefix string
	Timeout       time.Duration
}

type SMTPSender struct {
	opts SMTPOptions
	// deliver is swapped in tests
	deliver func(ctx context.Context, m *mail.Msg) error
}

// ParseTLSPolicy maps the config spelling onto go-mail's policy
func ParseTLSPolicy(s string) (mail.TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mandatory":
		return mail.TLSMandatory, nil
	case "opportunistic":
		return mail.TLSOpportunistic, nil
	case "none":
		return mail.NoTLS, nil
	default:
		return mail.TLSMandatory, xerrors.Newf("unknown smtp tls policy %q", s)
	}
}

func NewSMTP(opts SMTPOptions) (*SMTPSender, error) {
	if opts.Host == "" {
		return nil, xerrors.New("mailer: smtp host is required")
	}
	if opts.From == "" || opts.To == "" {
		return nil, xerrors.New("mailer: from and to addresses are required")
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	policy, err := ParseTLSPolicy(opts.TLSPolicy)
	if err != nil {
		return nil, err
	}

	clientOpts := []mail.Option{
		mail.WithPort(opts.Port),
		mail.WithTLSPolicy(policy),
		mail.WithTimeout(opts.Timeout),
	}
	if opts.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(opts.Username),
			mail.WithPassword(opts.Password),
		)
	}
	// validate the options once at startup, a client is built per send
	if _, err := mail.NewClient(opts.Host, clientOpts...); err != nil {
		return nil, xerrors.Wrap(err, "mailer: smtp client options")
	}

	s := &SMTPSender{opts: opts}
	s.deliver = func(ctx context.Context, m *mail.Msg) error {
		c, err := mail.NewClient(opts.Host, clientOpts...)
		if err != nil {
			return xerrors.Wrap(err, "smtp client")
		}
		return c.DialAndSendWithContext(ctx, m)
	}
	return s, nil
}

// build renders m as a plain text message with the submitter as Reply-To
func (s *SMTPSender) build(m Message) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.opts.From); err != nil {
		return nil, xerrors.Wrapf(err, "from address %q", s.opts.From)
	}
	if err := msg.To(s.opts.To); err != nil {
		return nil, xerrors.Wrapf(err, "to address %q", s.opts.To)
	}
	if m.ReplyTo != "" {
		var err error
		if m.ReplyToName != "" {
			err = msg.ReplyToFormat(m.ReplyToName, m.ReplyTo)
		} else {
			err = msg.ReplyTo(m.ReplyTo)
		}
		if err != nil {
			return nil, xerrors.Wrapf(err, "reply-to address %q", m.ReplyTo)
		}
	}
	subject := m.Subject
	if p := s.opts.SubjectPrefix; p != "" {
		subject = p + " " + subject
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	return msg, nil
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	msg, err := s.build(m)
	if err != nil {
		return err
	}
	if err := s.deliver(ctx, msg); err != nil {
		return xerrors.Wrapf(err, "smtp send via %s:%d", s.opts.Host, s.opts.Port)
	}
	return nil
}
