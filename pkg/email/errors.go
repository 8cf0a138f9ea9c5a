package email

import "errors"

var (
	ErrFailedToSendEmail = errors.New("email: failed to send email")
	ErrInvalidConfig     = errors.New("email: invalid config")
	ErrInvalidMessage    = errors.New("email: invalid message")

	// ErrRecipientRejected marks failures that will not succeed on retry:
	// invalid or inactive addresses, suppressed recipients, 5xx SMTP replies.
	ErrRecipientRejected = errors.New("email: recipient rejected")
)

// IsPermanent reports whether err is a delivery failure that retrying cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrRecipientRejected) || errors.Is(err, ErrInvalidMessage)
}
