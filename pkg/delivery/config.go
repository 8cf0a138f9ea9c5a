package delivery

import "time"

// Config holds the engine settings.
type Config struct {
	PollInterval    time.Duration `env:"NOTIFY_POLL_INTERVAL" envDefault:"1s"`
	BatchSize       int           `env:"NOTIFY_BATCH_SIZE" envDefault:"100" validate:"min=1"`
	Workers         int           `env:"NOTIFY_WORKERS" envDefault:"10" validate:"min=1"`
	StaleClaimAfter time.Duration `env:"NOTIFY_STALE_CLAIM_AFTER" envDefault:"10m"`

	SendTimeout  time.Duration `env:"NOTIFY_SEND_TIMEOUT" envDefault:"10s"`
	EmailTimeout time.Duration `env:"NOTIFY_EMAIL_TIMEOUT" envDefault:"15s"`
	SMSTimeout   time.Duration `env:"NOTIFY_SMS_TIMEOUT" envDefault:"10s"`
	PushTimeout  time.Duration `env:"NOTIFY_PUSH_TIMEOUT" envDefault:"5s"`
	InAppTimeout time.Duration `env:"NOTIFY_IN_APP_TIMEOUT" envDefault:"2s"`

	BackoffBase   time.Duration `env:"NOTIFY_BACKOFF_BASE" envDefault:"30s"`
	BackoffCap    time.Duration `env:"NOTIFY_BACKOFF_CAP" envDefault:"1h"`
	BackoffJitter float64       `env:"NOTIFY_BACKOFF_JITTER" envDefault:"0.1" validate:"min=0,max=1"`
	MaxRetries    int           `env:"NOTIFY_MAX_RETRIES" envDefault:"5" validate:"min=1"`

	RateWindow         time.Duration `env:"NOTIFY_RATE_WINDOW" envDefault:"1h"`
	RateLimit          int64         `env:"NOTIFY_RATE_LIMIT" envDefault:"0" validate:"min=0"`
	MarketingRateLimit int64         `env:"NOTIFY_MARKETING_RATE_LIMIT" envDefault:"0" validate:"min=0"`

	DedupWindow time.Duration `env:"NOTIFY_DEDUP_WINDOW" envDefault:"24h"`
	ClockSkew   time.Duration `env:"NOTIFY_CLOCK_SKEW" envDefault:"1m"`
}

// DefaultConfig mirrors the envDefault values.
func DefaultConfig() Config {
	return Config{
		PollInterval:    time.Second,
		BatchSize:       100,
		Workers:         10,
		StaleClaimAfter: 10 * time.Minute,
		SendTimeout:     10 * time.Second,
		EmailTimeout:    15 * time.Second,
		SMSTimeout:      10 * time.Second,
		PushTimeout:     5 * time.Second,
		InAppTimeout:    2 * time.Second,
		BackoffBase:     30 * time.Second,
		BackoffCap:      time.Hour,
		BackoffJitter:   0.1,
		MaxRetries:      5,
		RateWindow:      time.Hour,
		DedupWindow:     24 * time.Hour,
		ClockSkew:       time.Minute,
	}
}

// Backoff builds the retry policy.
func (c Config) Backoff() Backoff {
	return Backoff{
		Base:         c.BackoffBase,
		Cap:          c.BackoffCap,
		MaxRetries:   c.MaxRetries,
		JitterFactor: c.BackoffJitter,
	}
}

// LimitPolicy builds the rate limit policy. The marketing limit applies to
// every channel's marketing category.
func (c Config) LimitPolicy() LimitPolicy {
	p := LimitPolicy{Window: c.RateWindow, Max: c.RateLimit}
	if c.MarketingRateLimit > 0 {
		p.Overrides = map[LimitScope]int64{
			{Channel: ChannelEmail, Category: CategoryMarketing}: c.MarketingRateLimit,
			{Channel: ChannelSMS, Category: CategoryMarketing}:   c.MarketingRateLimit,
			{Channel: ChannelPush, Category: CategoryMarketing}:  c.MarketingRateLimit,
			{Channel: ChannelInApp, Category: CategoryMarketing}: c.MarketingRateLimit,
		}
	}
	return p
}

// Timeouts returns per-channel send timeouts.
func (c Config) Timeouts() map[Channel]time.Duration {
	return map[Channel]time.Duration{
		ChannelEmail: c.EmailTimeout,
		ChannelSMS:   c.SMSTimeout,
		ChannelPush:  c.PushTimeout,
		ChannelInApp: c.InAppTimeout,
	}
}
