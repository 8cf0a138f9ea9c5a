package api

import (
	"time"

	"github.com/dmitrymomot/notifykit/pkg/ratelimiter"
)

// Config configures the HTTP API.
type Config struct {
	// WebhookSecret verifies X-Webhook-Signature on channel callbacks.
	// The webhook route is not mounted when it is empty.
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	WebhookMaxAge time.Duration `env:"WEBHOOK_MAX_AGE" envDefault:"5m"`

	MaxBodyBytes     int64         `env:"API_MAX_BODY_BYTES" envDefault:"1048576" validate:"min=1024"`
	RequestTimeout   time.Duration `env:"API_REQUEST_TIMEOUT" envDefault:"30s"`
	ReadinessTimeout time.Duration `env:"API_READINESS_TIMEOUT" envDefault:"3s"`
	StreamHeartbeat  time.Duration `env:"API_STREAM_HEARTBEAT" envDefault:"15s"`
	CORSOrigins      []string      `env:"API_CORS_ORIGINS" envSeparator:","`

	// IngressRate is the sustained number of enqueue requests per second
	// allowed from one client address. Zero disables throttling.
	IngressRate  int `env:"API_INGRESS_RATE" envDefault:"0" validate:"min=0"`
	IngressBurst int `env:"API_INGRESS_BURST" envDefault:"100" validate:"min=1"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		WebhookMaxAge:    5 * time.Minute,
		MaxBodyBytes:     1 << 20,
		RequestTimeout:   30 * time.Second,
		ReadinessTimeout: 3 * time.Second,
		StreamHeartbeat:  15 * time.Second,
		IngressBurst:     100,
	}
}

// IngressLimit returns the token bucket for enqueue throttling and whether
// throttling is enabled.
func (c Config) IngressLimit() (ratelimiter.Config, bool) {
	if c.IngressRate <= 0 {
		return ratelimiter.Config{}, false
	}
	return ratelimiter.Config{
		Capacity:       max(c.IngressBurst, c.IngressRate),
		RefillRate:     c.IngressRate,
		RefillInterval: time.Second,
	}, true
}
