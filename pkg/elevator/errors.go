package elevator

import "errors"

var (
	// ErrNoTenant is returned by RequireTenant when the request runs on the default tenant.
	ErrNoTenant = errors.New("no tenant resolved for request")

	// ErrInvalidPosition is returned by a Path resolver built with a position below 1.
	ErrInvalidPosition = errors.New("invalid path position")
)
