package main

import (
	"time"

	"github.com/dmitrymomot/notifykit/pkg/api"
	"github.com/dmitrymomot/notifykit/pkg/channels"
	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/eventbus"
	"github.com/dmitrymomot/notifykit/pkg/httpserver"
	"github.com/dmitrymomot/notifykit/pkg/pg"
	"github.com/dmitrymomot/notifykit/pkg/redis"
)

type appConfig struct {
	Env string `env:"APP_ENV" envDefault:"development" validate:"oneof=development staging production"`

	// RedisLimits moves rate windows and dedup keys from Postgres to Redis.
	RedisLimits     bool          `env:"NOTIFY_REDIS_LIMITS" envDefault:"false"`
	SMSEnabled      bool          `env:"SMS_ENABLED" envDefault:"false"`
	BounceOptOut    bool          `env:"NOTIFY_BOUNCE_OPT_OUT" envDefault:"true"`
	PurgeInterval   time.Duration `env:"NOTIFY_PURGE_INTERVAL" envDefault:"1h"`
	WindowRetention time.Duration `env:"NOTIFY_WINDOW_RETENTION" envDefault:"24h"`
	InboxBuffer     int           `env:"INBOX_STREAM_BUFFER" envDefault:"16" validate:"min=1"`
	// SelectLease hides a polled batch from other dispatchers while this one works it.
	SelectLease time.Duration `env:"NOTIFY_SELECT_LEASE" envDefault:"1m"`

	Delivery delivery.Config
	Postgres pg.Config
	Redis    redis.Config
	HTTP     httpserver.Config
	API      api.Config
	Email    email.Config
	SMS      channels.SMSConfig
	Push     channels.PushConfig
	EventBus eventbus.Config
}
