package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/webhook"
)

// PushConfig configures delivery to the push gateway.
type PushConfig struct {
	GatewayURL      string        `env:"PUSH_GATEWAY_URL"`
	SigningSecret   string        `env:"PUSH_SIGNING_SECRET"`
	Timeout         time.Duration `env:"PUSH_TIMEOUT" envDefault:"5s"`
	CircuitFailures int           `env:"PUSH_CIRCUIT_FAILURES" envDefault:"5"`
	CircuitRecovery time.Duration `env:"PUSH_CIRCUIT_RECOVERY" envDefault:"30s"`
}

// PushMessage is the body posted to the push gateway.
type PushMessage struct {
	NotificationID string            `json:"notification_id"`
	Token          string            `json:"token"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Category       string            `json:"category"`
	Priority       string            `json:"priority"`
	Data           map[string]string `json:"data,omitempty"`
}

// Push posts notifications to an HTTP push gateway that fans out to
// APNs/FCM. The gateway answers with {"id": "..."}; when it does not, the
// delivery id is used as the external reference.
type Push struct {
	sender  *webhook.Sender
	cfg     PushConfig
	breaker *webhook.CircuitBreaker
}

// NewPush validates cfg and creates the adapter. sender may be nil.
func NewPush(cfg PushConfig, sender *webhook.Sender) (*Push, error) {
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("%w: push gateway URL is required", ErrInvalidConfig)
	}
	if sender == nil {
		sender = webhook.NewSender()
	}
	return &Push{
		sender:  sender,
		cfg:     cfg,
		breaker: webhook.NewCircuitBreaker(cfg.CircuitFailures, 1, cfg.CircuitRecovery),
	}, nil
}

func (p *Push) Channel() delivery.Channel { return delivery.ChannelPush }

// Send makes a single attempt; the dispatcher owns retries. The notification
// id doubles as X-Webhook-ID so the gateway can drop replays.
func (p *Push) Send(ctx context.Context, n delivery.Notification) delivery.Outcome {
	if n.Address == "" {
		return delivery.PermanentFailure("push: device token is empty")
	}

	opts := []webhook.SendOption{
		webhook.WithNoRetry(),
		webhook.WithDeliveryID(n.ID.String()),
		webhook.WithCircuitBreaker(p.breaker),
		webhook.WithHeader("X-Notification-Priority", n.Priority.String()),
	}
	if p.cfg.Timeout > 0 {
		opts = append(opts, webhook.WithTimeout(p.cfg.Timeout))
	}
	if p.cfg.SigningSecret != "" {
		opts = append(opts, webhook.WithSignature(p.cfg.SigningSecret))
	}

	resp, err := p.sender.Send(ctx, p.cfg.GatewayURL, PushMessage{
		NotificationID: n.ID.String(),
		Token:          n.Address,
		Title:          n.Title,
		Body:           n.Body,
		Category:       string(n.Category),
		Priority:       n.Priority.String(),
		Data:           n.Data,
	}, opts...)
	if err != nil {
		return classify(err, webhook.IsPermanent(err))
	}

	return delivery.Accepted(gatewayRef(resp))
}

// Breaker exposes circuit state for health reporting.
func (p *Push) Breaker() webhook.CircuitStats {
	return p.breaker.Stats()
}

func gatewayRef(resp webhook.Response) string {
	var body struct {
		ID string `json:"id"`
	}
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &body) == nil && body.ID != "" {
		return body.ID
	}
	return resp.DeliveryID
}
