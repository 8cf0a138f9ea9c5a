package eventbus

import "time"

// Config configures the AMQP connection and exchange.
type Config struct {
	URL            string        `env:"AMQP_URL"`
	Exchange       string        `env:"AMQP_EXCHANGE" envDefault:"notifykit.events"`
	ConnectionName string        `env:"AMQP_CONNECTION_NAME" envDefault:"notifyd"`
	Heartbeat      time.Duration `env:"AMQP_HEARTBEAT" envDefault:"10s"`
	PublishTimeout time.Duration `env:"AMQP_PUBLISH_TIMEOUT" envDefault:"5s"`
}

// Enabled reports whether an AMQP URL is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}
