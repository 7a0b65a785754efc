package logger

import "log/slog"

// Error records err under "error". Nil errors yield an empty Attr, which
// slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Tenant records the tenant identifier under "tenant".
func Tenant(name string) slog.Attr {
	return slog.String("tenant", name)
}

// Adapter records the adapter kind under "adapter".
func Adapter(kind string) slog.Attr {
	return slog.String("adapter", kind)
}

// Event records a lifecycle event name under "event".
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Scope records an execution scope identifier under "scope_id".
func Scope(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("scope_id", id)
}

// Generation records the configuration generation under "generation".
func Generation(gen uint64) slog.Attr {
	return slog.Uint64("generation", gen)
}

// Component records the component name under "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Duration records a duration under "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}
