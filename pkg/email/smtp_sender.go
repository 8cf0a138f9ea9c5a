package email

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

type smtpDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type smtpSender struct {
	dialer smtpDialer
	config Config
	domain string
}

// NewSMTPSender creates a sender that delivers through an SMTP relay.
func NewSMTPSender(cfg Config) (Sender, error) {
	if cfg.SMTPHost == "" {
		return nil, fmt.Errorf("%w: SMTPHost is required", ErrInvalidConfig)
	}
	if cfg.SMTPPort <= 0 {
		return nil, fmt.Errorf("%w: SMTPPort must be positive", ErrInvalidConfig)
	}
	if err := checkIdentity(cfg); err != nil {
		return nil, err
	}

	return &smtpSender{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword),
		config: cfg,
		domain: senderDomain(cfg.SenderEmail),
	}, nil
}

// SendEmail dials the relay for each message. gomail has no context support,
// so the call is abandoned (not aborted) when ctx ends first.
func (s *smtpSender) SendEmail(ctx context.Context, msg Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}

	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.domain)

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SenderEmail)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", id)
	if s.config.SupportEmail != "" {
		m.SetHeader("Reply-To", s.config.SupportEmail)
	}
	if msg.Tag != "" {
		m.SetHeader("X-Tag", msg.Tag)
	}
	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HTMLBody)
	case msg.HTMLBody != "":
		m.SetBody("text/html", msg.HTMLBody)
	default:
		m.SetBody("text/plain", msg.TextBody)
	}

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return "", classifySMTPError(err)
		}
		return id, nil
	case <-ctx.Done():
		return "", errors.Join(ErrFailedToSendEmail, ctx.Err())
	}
}

// classifySMTPError marks 5xx replies as permanent.
func classifySMTPError(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return errors.Join(ErrFailedToSendEmail, ErrRecipientRejected, err)
	}
	return errors.Join(ErrFailedToSendEmail, err)
}

func senderDomain(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.TrimSuffix(addr[i+1:], ">")
	}
	return "localhost"
}
