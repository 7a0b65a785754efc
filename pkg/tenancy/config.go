package tenancy

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dasaradhy/apartment/pkg/config"
)

// DefaultTenantName is used when Config.DefaultTenant is empty.
const DefaultTenantName = "public"

// Config describes the backend and the partitioning rules. It is treated as
// immutable once handed to Manager.Init or Manager.Reload.
type Config struct {
	// Adapter selects the registered driver constructor.
	Adapter Kind `env:"APARTMENT_ADAPTER,required" yaml:"adapter"`
	// ConnectionURL is consumed by drivers that dial the backend themselves.
	ConnectionURL string `env:"APARTMENT_CONN_URL" yaml:"connection_url"`
	// DefaultTenant is the schema or database used when no tenant is active.
	DefaultTenant string `env:"APARTMENT_DEFAULT_TENANT" envDefault:"public" yaml:"default_tenant"`

	// IncludedModels lists the only tenant-scoped entity types. Takes
	// precedence over ExcludedModels.
	IncludedModels []string `env:"APARTMENT_INCLUDED_MODELS" envSeparator:"," yaml:"included_models"`
	// ExcludedModels lists shared entity types; everything else is tenant-scoped.
	ExcludedModels []string `env:"APARTMENT_EXCLUDED_MODELS" envSeparator:"," yaml:"excluded_models"`

	// TenantNames, when set, is the tenant set Each iterates by default
	// instead of asking the backend.
	TenantNames []string `env:"APARTMENT_TENANT_NAMES" envSeparator:"," yaml:"tenant_names"`
	// PersistentSchemas stay on the search path after every switch (schema drivers only).
	PersistentSchemas []string `env:"APARTMENT_PERSISTENT_SCHEMAS" envSeparator:"," yaml:"persistent_schemas"`

	MigrationsPath  string `env:"APARTMENT_MIGRATIONS_PATH" yaml:"migrations_path"`
	MigrationsTable string `env:"APARTMENT_MIGRATIONS_TABLE" envDefault:"schema_migrations" yaml:"migrations_table"`
	SeedsPath       string `env:"APARTMENT_SEEDS_PATH" yaml:"seeds_path"`
	SeedAfterCreate bool   `env:"APARTMENT_SEED_AFTER_CREATE" envDefault:"false" yaml:"seed_after_create"`
}

// LoadConfig reads the configuration from the environment (and .env).
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return Config{}, errors.Join(ErrInvalidConfig, err)
	}
	return finish(cfg)
}

// LoadConfigFile reads the environment and then overlays the YAML file at path.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	if err := config.LoadFile(path, &cfg); err != nil {
		return Config{}, errors.Join(ErrInvalidConfig, err)
	}
	return finish(cfg)
}

func finish(cfg Config) (Config, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration is usable. It does not check that the
// adapter kind is registered; Manager.Init does that.
func (c Config) Validate() error {
	if c.Adapter == "" {
		return errors.Join(ErrInvalidConfig, errors.New("adapter is required"))
	}
	def := c.defaultTenant()
	if err := ValidateIdentifier(def, def, true); err != nil {
		return errors.Join(ErrInvalidConfig, fmt.Errorf("default tenant: %w", err))
	}
	for _, name := range c.TenantNames {
		if err := ValidateIdentifier(name, def, false); err != nil {
			return errors.Join(ErrInvalidConfig, fmt.Errorf("tenant names: %w", err))
		}
	}
	for _, name := range c.PersistentSchemas {
		if err := ValidateIdentifier(name, def, true); err != nil {
			return errors.Join(ErrInvalidConfig, fmt.Errorf("persistent schemas: %w", err))
		}
	}
	return nil
}

func (c Config) defaultTenant() string {
	if c.DefaultTenant == "" {
		return DefaultTenantName
	}
	return c.DefaultTenant
}

// withDefaults returns a copy with defaults filled and slices detached from
// the caller's backing arrays.
func (c Config) withDefaults() Config {
	c.DefaultTenant = c.defaultTenant()
	if c.MigrationsTable == "" {
		c.MigrationsTable = "schema_migrations"
	}
	c.IncludedModels = slices.Clone(c.IncludedModels)
	c.ExcludedModels = slices.Clone(c.ExcludedModels)
	c.TenantNames = slices.Clone(c.TenantNames)
	c.PersistentSchemas = slices.Clone(c.PersistentSchemas)
	return c
}
