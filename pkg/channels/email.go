package channels

import (
	"context"
	"errors"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/email"
)

// DataHTMLBody is the notification data key holding an optional HTML body.
const DataHTMLBody = "html_body"

// Email delivers notifications through an email.Sender.
type Email struct {
	sender email.Sender
}

func NewEmail(sender email.Sender) *Email {
	return &Email{sender: sender}
}

func (e *Email) Channel() delivery.Channel { return delivery.ChannelEmail }

func (e *Email) Send(ctx context.Context, n delivery.Notification) delivery.Outcome {
	msg := email.Message{
		To:       n.Address,
		Subject:  n.Title,
		TextBody: n.Body,
		HTMLBody: n.Data[DataHTMLBody],
		Tag:      string(n.Category),
		Metadata: map[string]string{
			"notification_id": n.ID.String(),
			"recipient_id":    n.RecipientID,
		},
	}

	messageID, err := e.sender.SendEmail(ctx, msg)
	if err != nil {
		return classify(err, email.IsPermanent(err))
	}
	return delivery.Accepted(messageID)
}

// classify turns a transport error into an outcome. Context errors are always
// retryable: the engine, not the provider, gave up on the attempt.
func classify(err error, permanent bool) delivery.Outcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return delivery.RetryableFailure(err.Error())
	}
	if permanent {
		return delivery.PermanentFailure(err.Error())
	}
	return delivery.RetryableFailure(err.Error())
}
