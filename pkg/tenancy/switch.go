package tenancy

import "context"

// SwitchValue is Manager.Switch for units of work that produce a value.
func SwitchValue[T any](ctx context.Context, m *Manager, tenant string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := m.Switch(ctx, tenant, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}
