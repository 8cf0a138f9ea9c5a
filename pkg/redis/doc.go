// Package redis connects to Redis with go-redis/v9.
//
// Connect retries the initial ping according to Config, which is normally
// populated from REDIS_* environment variables:
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Healthcheck wraps PING for readiness checks.
package redis
