package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dasaradhy/apartment/pkg/config"
	"github.com/dasaradhy/apartment/pkg/httpserver"
	"github.com/dasaradhy/apartment/pkg/mongo"
	"github.com/dasaradhy/apartment/pkg/pg"
	"github.com/dasaradhy/apartment/pkg/tenancy"
	"github.com/dasaradhy/apartment/pkg/tenancy/memory"
	"github.com/dasaradhy/apartment/pkg/tenancy/mongodb"
	"github.com/dasaradhy/apartment/pkg/tenancy/mysql"
	"github.com/dasaradhy/apartment/pkg/tenancy/pgdatabase"
	"github.com/dasaradhy/apartment/pkg/tenancy/pgschema"
	"github.com/dasaradhy/apartment/pkg/tenancy/sqlite"
)

// backend is the shared connection behind the configured adapter.
type backend struct {
	close  func() error
	checks []httpserver.Check
}

func noop() error { return nil }

// openBackend dials whatever the configured adapter shares across scopes and
// registers the adapter's constructor. Only the configured kind is opened.
func openBackend(ctx context.Context, reg *tenancy.Registry, cfg tenancy.Config, log *slog.Logger) (*backend, error) {
	switch cfg.Adapter {
	case tenancy.KindPostgresSchema:
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return nil, err
		}
		if cfg.ConnectionURL != "" {
			pgCfg.ConnectionString = cfg.ConnectionURL
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		reg.Register(cfg.Adapter, pgschema.New(pool, pgschema.WithLogger(log)))
		return &backend{
			close:  func() error { pool.Close(); return nil },
			checks: []httpserver.Check{pg.Healthcheck(pool)},
		}, nil

	case tenancy.KindPostgres:
		b := pgdatabase.NewBackend(pgdatabase.WithLogger(log))
		reg.Register(cfg.Adapter, b.Constructor())
		return &backend{close: b.Close}, nil

	case tenancy.KindMySQL:
		b := mysql.NewBackend(mysql.WithLogger(log))
		reg.Register(cfg.Adapter, b.Constructor())
		return &backend{close: b.Close}, nil

	case tenancy.KindSQLite:
		reg.Register(cfg.Adapter, sqlite.New(sqlite.WithLogger(log)))
		return &backend{close: noop}, nil

	case tenancy.KindMongoDB:
		var mongoCfg mongo.Config
		if err := config.Load(&mongoCfg); err != nil {
			return nil, err
		}
		if cfg.ConnectionURL != "" {
			mongoCfg.ConnectionURL = cfg.ConnectionURL
		}
		client, err := mongo.New(ctx, mongoCfg)
		if err != nil {
			return nil, err
		}
		reg.Register(cfg.Adapter, mongodb.New(client))
		return &backend{
			close:  func() error { return client.Disconnect(context.Background()) },
			checks: []httpserver.Check{mongo.Healthcheck(client)},
		}, nil

	case tenancy.KindMemory:
		reg.Register(cfg.Adapter, memory.NewBackend().Constructor())
		return &backend{close: noop}, nil
	}
	return nil, errors.Join(tenancy.ErrUnsupportedAdapter, fmt.Errorf("adapter %q", cfg.Adapter))
}
