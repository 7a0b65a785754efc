// Command apartment administers tenants of the configured backend and can
// serve a small tenant-aware HTTP API.
//
//	apartment [-config apartment.yml] <command> [tenant...]
//
// The backend is selected by APARTMENT_ADAPTER (or the adapter key of the
// config file). Connection settings come from APARTMENT_CONN_URL or the
// PG_*, MONGODB_* and REDIS_* variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dasaradhy/apartment/pkg/config"
	"github.com/dasaradhy/apartment/pkg/logger"
	"github.com/dasaradhy/apartment/pkg/requestid"
	"github.com/dasaradhy/apartment/pkg/tenancy"
	"github.com/dasaradhy/apartment/pkg/tenantmetrics"
)

type appConfig struct {
	Env          string `env:"APP_ENV" envDefault:"development"`
	RedisURL     string `env:"REDIS_URL"`
	TenantHeader string `env:"APARTMENT_TENANT_HEADER" envDefault:"X-Tenant-ID"`
	// Subdomains never treated as tenant names by the HTTP elevator.
	ExcludedSubdomains []string `env:"APARTMENT_EXCLUDED_SUBDOMAINS" envSeparator:"," envDefault:"www,api"`
}

func main() {
	configPath := flag.String("config", "", "YAML file overlaying the APARTMENT_* environment")
	flag.Usage = usage
	flag.Parse()

	if err := realMain(*configPath, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "apartment: %v\n", err)
		os.Exit(1)
	}
}

func realMain(configPath string, args []string) error {
	if len(args) == 0 {
		usage()
		return ErrUnknownCommand
	}

	var app appConfig
	if err := config.Load(&app); err != nil {
		return err
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The manager is created after the logger; the extractor reads it lazily.
	var m *tenancy.Manager
	log := logger.New(
		logger.WithEnvironment(app.Env, "apartment"),
		logger.WithOutput(os.Stderr),
		logger.WithContextExtractors(func(ctx context.Context) (slog.Attr, bool) {
			if m == nil {
				return slog.Attr{}, false
			}
			return m.LogExtractor()(ctx)
		}, requestid.LoggerExtractor()),
	)

	registry := tenancy.NewRegistry()
	b, err := openBackend(ctx, registry, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.close(); err != nil {
			log.Error("failed to close backend", logger.Error(err))
		}
	}()

	m = tenancy.NewManager(registry,
		tenancy.WithLogger(log),
		tenancy.WithEntityRegistry(tenancy.NewCatalog(entities(cfg)...)),
	)
	if err := m.Init(ctx, cfg); err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	metrics := tenantmetrics.New("apartment")
	if err := metrics.Register(promRegistry); err != nil {
		return err
	}
	if err := metrics.Attach(m); err != nil {
		return err
	}

	d := &deps{manager: m, log: log, app: app, gatherer: promRegistry, checks: b.checks}
	if app.RedisURL != "" {
		if err := d.attachCache(ctx); err != nil {
			return err
		}
		defer d.closeCache()
	}

	if args[0] == "serve" {
		return serve(ctx, d)
	}
	return run(ctx, m, os.Stdout, args)
}

func loadConfig(path string) (tenancy.Config, error) {
	if path != "" {
		return tenancy.LoadConfigFile(path)
	}
	return tenancy.LoadConfig()
}

func entities(cfg tenancy.Config) []string {
	return append(append([]string{}, cfg.IncludedModels...), cfg.ExcludedModels...)
}

func usage() {
	fmt.Fprint(flag.CommandLine.Output(), `usage: apartment [-config file] <command> [args]

commands:
  create <tenant>...     provision tenants (seeds them when seed_after_create is set)
  drop <tenant>...       remove tenants and their data
  list                   print known tenants
  migrate [tenant...]    apply migrations, to every known tenant when none given
  seed <tenant>...       load seed data into tenants
  ident <name>...        print the tenant identifier derived from a display name
  current                print the tenant a fresh scope starts on
  tables <tenant>        print the storage target of every configured entity
  serve                  run the tenant-aware HTTP API

flags:
`)
	flag.PrintDefaults()
}
