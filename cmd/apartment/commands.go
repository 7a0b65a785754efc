package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dasaradhy/apartment/pkg/tenancy"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingTenant  = errors.New("missing tenant argument")
)

// run executes one administrative command inside a fresh tenancy scope.
func run(ctx context.Context, m *tenancy.Manager, out io.Writer, args []string) error {
	if len(args) == 0 {
		return ErrUnknownCommand
	}
	cmd, tenants := args[0], args[1:]

	return m.Run(ctx, func(ctx context.Context) error {
		switch cmd {
		case "create":
			return eachArg(tenants, func(tenant string) error {
				if err := m.Create(ctx, tenant); err != nil {
					return err
				}
				_, err := fmt.Fprintf(out, "created %s\n", tenant)
				return err
			})

		case "drop":
			return eachArg(tenants, func(tenant string) error {
				if err := m.Drop(ctx, tenant); err != nil {
					return err
				}
				_, err := fmt.Fprintf(out, "dropped %s\n", tenant)
				return err
			})

		case "list":
			names, err := m.Tenants(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				if _, err := fmt.Fprintln(out, name); err != nil {
					return err
				}
			}
			return nil

		case "migrate":
			if len(tenants) == 0 {
				tenants = nil
			}
			return m.Migrate(ctx, tenants)

		case "seed":
			return eachArg(tenants, func(tenant string) error {
				if err := m.Switch(ctx, tenant, m.Seed); err != nil {
					return err
				}
				_, err := fmt.Fprintf(out, "seeded %s\n", tenant)
				return err
			})

		case "current":
			tenant, err := m.Current(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, tenant)
			return err

		case "ident":
			if len(tenants) == 0 {
				return ErrMissingTenant
			}
			id := tenancy.IdentifierFromName(strings.Join(tenants, " "))
			if err := tenancy.ValidateIdentifier(id, m.Policy().DefaultTenant(), false); err != nil {
				return err
			}
			_, err := fmt.Fprintln(out, id)
			return err

		case "tables":
			if len(tenants) != 1 {
				return ErrMissingTenant
			}
			return m.Switch(ctx, tenants[0], func(ctx context.Context) error {
				return printTables(ctx, m, out)
			})
		}
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	})
}

func printTables(ctx context.Context, m *tenancy.Manager, out io.Writer) error {
	cfg, _ := m.Config()
	for _, entity := range entities(cfg) {
		table, err := m.TableName(ctx, entity)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(out, "%s\t%s\n", entity, table); err != nil {
			return err
		}
	}
	return nil
}

func eachArg(tenants []string, fn func(tenant string) error) error {
	if len(tenants) == 0 {
		return ErrMissingTenant
	}
	for _, tenant := range tenants {
		if err := fn(tenant); err != nil {
			return fmt.Errorf("%s: %w", tenant, err)
		}
	}
	return nil
}
