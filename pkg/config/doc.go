// Package config loads configuration structs from the environment and,
// optionally, from a YAML file.
//
// Environment parsing is delegated to github.com/caarlos0/env/v11 using
// `env` / `envDefault` struct tags; the default .env file is read once via
// github.com/joho/godotenv. LoadFile parses the environment first and then
// overlays the keys present in a YAML document (gopkg.in/yaml.v3), so a file
// can pin values that differ per deployment while secrets stay in the env.
//
// Unlike a process-wide cache, every call re-reads its sources: tenancy
// reloads must observe the current environment.
//
//	var cfg tenancy.Config
//	if err := config.LoadFile("config/apartment.yml", &cfg); err != nil {
//		return err
//	}
package config
