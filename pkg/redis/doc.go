// Package redis connects the go-redis client backing the tenant cache.
//
//	var cfg redis.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// Connect retries until the server answers a ping or ConnectTimeout elapses.
// Healthcheck returns a ping check for readiness endpoints.
package redis
