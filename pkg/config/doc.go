// Package config loads typed configuration from environment variables.
//
// It wraps github.com/joho/godotenv (optional .env files) and
// github.com/caarlos0/env/v11 (struct tag parsing), then validates the result
// with github.com/go-playground/validator/v10 so misconfiguration stops the
// process at startup:
//
//	type Config struct {
//	    Env  string `env:"APP_ENV" envDefault:"development" validate:"oneof=development staging production"`
//	    Addr string `env:"HTTP_ADDR" envDefault:":8080"`
//	}
//
//	var cfg Config
//	config.MustLoad(&cfg)
//
// Errors can be matched with errors.Is against ErrParsingConfig,
// ErrInvalidConfig, ErrLoadingEnvFile and ErrNilPointer.
package config
