package ratelimiter

import "errors"

var (
	// ErrInvalidConfig is returned by NewBucket for non-positive settings
	ErrInvalidConfig = errors.New("invalid rate limiter configuration")

	// ErrInvalidTokenCount is returned when AllowN is asked for fewer than one token
	ErrInvalidTokenCount = errors.New("invalid token count")
)
