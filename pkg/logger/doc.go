// Package logger builds the *slog.Logger used across apartment.
//
// New creates a logger from functional options (format, level, output,
// static attributes) and wraps the handler so that attributes derived from
// context.Context are added at log time. The tenancy manager exposes such an
// extractor, which stamps every record with the tenant active in the calling
// scope:
//
//	log := logger.New(
//	    logger.WithEnvironment(os.Getenv("APP_ENV"), "apartment"),
//	    logger.WithContextExtractors(manager.LogExtractor()),
//	)
//
// Attribute helpers in attr.go keep key names stable: tenant, adapter,
// event, scope_id, generation, error and component.
package logger
