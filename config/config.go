package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"projectmatcher/solver"
)

const DefaultPath = "project-matcher.yaml"

type Config struct {
	Search   SearchConfig   `yaml:"search"`
	Input    InputConfig    `yaml:"input"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SearchConfig holds defaults for requests that leave them out.
type SearchConfig struct {
	Tries     int   `yaml:"tries"`
	Mutations int   `yaml:"mutations"`
	Seed      int64 `yaml:"seed"` // 0 seeds from the clock
	// MaxSteps bounds tries*mutations for one API request; 0 disables the limit.
	MaxSteps  int   `yaml:"max_steps"`
}

type InputConfig struct {
	PeopleInRows bool `yaml:"people_in_rows"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig selects the run store. An empty DSN keeps everything in memory.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type AuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Admins       []string `yaml:"admins"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

func DefaultConfig() *Config {
	return &Config{
		Search: SearchConfig{
			Tries:     solver.DefaultParams.NumTries,
			Mutations: solver.DefaultParams.NumMutations,
			MaxSteps:  100_000_000,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("PGCONN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("CLIENT_ID"); v != "" {
		c.Auth.ClientID = v
	}
	if v := os.Getenv("CLIENT_SECRET"); v != "" {
		c.Auth.ClientSecret = v
	}
	if v := os.Getenv("ADMINS"); v != "" {
		c.Auth.Admins = nil
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				c.Auth.Admins = append(c.Auth.Admins, a)
			}
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv("MATCHER_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MATCHER_SEED: %w", err)
		}
		c.Search.Seed = seed
	}
	return nil
}
