package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var defaultEnvLoaded sync.Once

func loadDotEnv() {
	defaultEnvLoaded.Do(func() {
		// The .env file is optional.
		_ = godotenv.Load()
	})
}

// Load parses environment variables into v according to its `env` tags.
//
//	type DatabaseConfig struct {
//		URL string `env:"DATABASE_URL,required"`
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	loadDotEnv()

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// LoadFile parses the environment into v and then decodes the YAML file at
// path over it. Keys present in the file win over environment values.
func LoadFile[T any](path string, v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	loadDotEnv()

	// Defaults and required checks come from the env pass; a required variable
	// may legitimately live in the file instead, so only parse errors for
	// other reasons are fatal here.
	var aggErr env.AggregateError
	if err := env.Parse(v); err != nil {
		if !errors.As(err, &aggErr) || !onlyMissing(aggErr) {
			return errors.Join(ErrParsingConfig, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Join(ErrReadingFile, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return errors.Join(ErrReadingFile, fmt.Errorf("%s: %w", path, err))
	}
	return nil
}

// MustLoad works like Load but panics on failure.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("Failed to load required configuration: %v", err))
	}
}

func onlyMissing(agg env.AggregateError) bool {
	for _, e := range agg.Errors {
		var required env.VarIsNotSetError
		var empty env.EmptyVarError
		if !errors.As(e, &required) && !errors.As(e, &empty) {
			return false
		}
	}
	return true
}
