package channels

import (
	"context"
	"errors"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/inbox"
)

// InApp stores notifications in the recipient's inbox.
type InApp struct {
	inbox *inbox.Inbox
}

func NewInApp(box *inbox.Inbox) *InApp {
	return &InApp{inbox: box}
}

func (a *InApp) Channel() delivery.Channel { return delivery.ChannelInApp }

// Send uses the notification id as the item id so a retried attempt after a
// lost acknowledgement does not create a second item.
func (a *InApp) Send(ctx context.Context, n delivery.Notification) delivery.Outcome {
	item, err := a.inbox.Deliver(ctx, inbox.Item{
		ID:             n.ID,
		RecipientID:    n.RecipientID,
		NotificationID: n.ID,
		Category:       string(n.Category),
		Priority:       n.Priority.String(),
		Title:          n.Title,
		Body:           n.Body,
		Data:           n.Data,
		ExpiresAt:      n.ExpiresAt,
	})
	switch {
	case err == nil:
		return delivery.Accepted(item.ID.String())
	case errors.Is(err, inbox.ErrDuplicateItem):
		return delivery.Accepted(n.ID.String())
	}
	return classify(err, errors.Is(err, inbox.ErrRecipientRequired))
}
