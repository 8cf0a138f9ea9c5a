package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Sender delivers a single message and returns the provider message id.
type Sender interface {
	SendEmail(ctx context.Context, msg Message) (string, error)
}

// Message is a pre-rendered email.
type Message struct {
	To       string            `json:"to" validate:"required,email"`
	Subject  string            `json:"subject" validate:"required,max=998"`
	HTMLBody string            `json:"html_body,omitempty"`
	TextBody string            `json:"text_body,omitempty"`
	Tag      string            `json:"tag,omitempty" validate:"max=1000"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the address, subject and that at least one body is present.
func (m Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			names := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				names = append(names, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
			}
			return fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(names, ", "))
		}
		return errors.Join(ErrInvalidMessage, err)
	}
	if strings.TrimSpace(m.HTMLBody) == "" && strings.TrimSpace(m.TextBody) == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	return nil
}

// NewSender builds the sender selected by cfg.Provider.
func NewSender(cfg Config) (Sender, error) {
	switch cfg.Provider {
	case ProviderPostmark:
		return NewPostmarkClient(cfg)
	case ProviderSMTP:
		return NewSMTPSender(cfg)
	case ProviderDev, "":
		return NewDevSender(cfg.DevOutputDir), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

func validAddress(addr string) bool {
	return validate.Var(addr, "required,email") == nil
}
