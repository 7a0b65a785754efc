package tenancy

import "errors"

var (
	// ErrTenantAlreadyExists is returned by Create when the identifier is taken.
	ErrTenantAlreadyExists = errors.New("tenant already exists")

	// ErrTenantNotFound is returned when the tenant store does not exist.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrUnsupportedAdapter is returned when no constructor is registered for the adapter kind.
	ErrUnsupportedAdapter = errors.New("unsupported adapter")

	// ErrAdapterLoad is returned when a registered constructor fails to build a driver.
	ErrAdapterLoad = errors.New("failed to load adapter")

	// ErrBackendUnavailable is returned on connectivity failures against the backend.
	ErrBackendUnavailable = errors.New("tenant backend unavailable")

	// ErrInvalidIdentifier is returned for malformed or reserved tenant identifiers.
	ErrInvalidIdentifier = errors.New("invalid tenant identifier")

	// ErrCallbackFailure wraps the first failing lifecycle listener.
	ErrCallbackFailure = errors.New("tenant callback failed")

	// ErrRestoreFailed is returned when a scoped switch could not restore the
	// previous tenant. It takes precedence over the unit of work's own error.
	ErrRestoreFailed = errors.New("failed to restore previous tenant")

	// ErrNoScope is returned when the context carries no execution scope.
	ErrNoScope = errors.New("no tenancy scope in context")

	// ErrScopeClosed is returned when a released scope is used again.
	ErrScopeClosed = errors.New("tenancy scope already released")

	// ErrNotInitialized is returned before Init succeeded.
	ErrNotInitialized = errors.New("tenancy manager is not initialized")

	// ErrUnknownEvent is returned when registering a listener for an event outside the fixed set.
	ErrUnknownEvent = errors.New("unknown tenant lifecycle event")

	// ErrNilListener is returned when registering a nil listener.
	ErrNilListener = errors.New("nil tenant lifecycle listener")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid tenancy config")

	// ErrNoEntityRegistry is returned by RegisterEntity when the manager has no entity registry.
	ErrNoEntityRegistry = errors.New("no entity registry configured")
)
