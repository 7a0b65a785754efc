// Package mongo connects the shared MongoDB client used by the mongodb
// tenancy driver.
//
//	var cfg mongo.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	client, err := mongo.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Disconnect(ctx)
//
// Healthcheck returns a ping check for readiness endpoints.
package mongo
