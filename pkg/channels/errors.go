package channels

import "errors"

var (
	// ErrInvalidConfig is returned when an adapter cannot be built from its config
	ErrInvalidConfig = errors.New("channels: invalid config")
)
