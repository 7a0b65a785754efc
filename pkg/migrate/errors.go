package migrate

import "errors"

var (
	ErrFailedToApplyMigrations = errors.New("failed to apply migrations")
	ErrFailedToApplySeeds      = errors.New("failed to apply seeds")
	ErrDirNotFound             = errors.New("migrations directory not found")
	ErrNilDB                   = errors.New("nil database handle")
)
