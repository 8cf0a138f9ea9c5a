// Package ratelimiter throttles inbound API traffic with token buckets.
//
// It guards the admission endpoints from a single misbehaving caller; the
// per-recipient send limits of the delivery engine are a separate concern
// handled by delivery.Limiter.
//
//	store := ratelimiter.NewMemoryStore()
//	defer store.Close()
//
//	bucket, err := ratelimiter.NewBucket(store, ratelimiter.Config{
//		Capacity:       50,
//		RefillRate:     10,
//		RefillInterval: time.Second,
//	})
//	if err != nil {
//		return err
//	}
//
//	r.With(ratelimiter.Middleware(bucket, ratelimiter.ByRemoteIP, nil)).
//		Post("/v1/notifications", create)
//
// Responses carry X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset; refused requests also get Retry-After.
package ratelimiter
