// Package config loads the engine configuration from defaults, a YAML file,
// EXTTABLE_ environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/syssam/exttable/dialect"
	"github.com/syssam/exttable/dialect/sql/schema"
)

// EnvPrefix prefixes the environment variables read by Load.
const EnvPrefix = "EXTTABLE_"

// Defaults.
const (
	DefaultDialect       = "mysql"
	DefaultSoftFK        = "constraint"
	DefaultSlowThreshold = 200 * time.Millisecond
	DefaultLogLevel      = "info"
	DefaultCacheTTL      = 5 * time.Minute
)

// Config is the engine configuration.
type Config struct {
	// Dialect is "mysql" or "postgres".
	Dialect string `koanf:"dialect"`
	// Driver is the database/sql driver name; derived from the dialect when
	// empty.
	Driver        string        `koanf:"driver"`
	DSN           string        `koanf:"dsn"`
	SoftFK        string        `koanf:"soft_fk_strategy"`
	SlowThreshold time.Duration `koanf:"slow_threshold"`
	LogLevel      string        `koanf:"log_level"`
	// CacheTTL bounds how long introspected headers are reused. Zero
	// disables the cache.
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// Load reads the configuration. path may be empty; flags may be nil. Only
// flags that were set on the command line override the other layers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(map[string]any{
		"dialect":          DefaultDialect,
		"soft_fk_strategy": DefaultSoftFK,
		"slow_threshold":   DefaultSlowThreshold.String(),
		"log_level":        DefaultLogLevel,
		"cache_ttl":        DefaultCacheTTL.String(),
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}
	// EXTTABLE_SOFT_FK_STRATEGY -> soft_fk_strategy
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("config: reading environment: %w", err)
	}
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if key == "soft_fk" {
				key = "soft_fk_strategy"
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("config: reading flags: %w", err)
		}
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown dialects, strategies and log levels.
func (c *Config) Validate() error {
	if _, err := dialect.Parse(c.Dialect); err != nil {
		return fmt.Errorf("config: dialect: %w", err)
	}
	if c.Driver != "" {
		d, err := dialect.Parse(c.Driver)
		if err != nil {
			return fmt.Errorf("config: driver: %w", err)
		}
		if cd, _ := dialect.Parse(c.Dialect); d != cd {
			return fmt.Errorf("config: driver %q does not serve dialect %q", c.Driver, c.Dialect)
		}
	}
	if _, err := schema.ParseSoftFK(c.SoftFK); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.SlowThreshold < 0 || c.CacheTTL < 0 {
		return fmt.Errorf("config: durations must not be negative")
	}
	return nil
}

// SQLDialect returns the parsed dialect.
func (c *Config) SQLDialect() dialect.Dialect {
	d, _ := dialect.Parse(c.Dialect)
	return d
}

// DriverName returns the database/sql driver to open.
func (c *Config) DriverName() string {
	if c.Driver != "" {
		return c.Driver
	}
	if c.SQLDialect() == dialect.Postgres {
		return "pgx"
	}
	return "mysql"
}

// SoftFKStrategy returns the parsed lookup column strategy.
func (c *Config) SoftFKStrategy() schema.SoftFK {
	s, _ := schema.ParseSoftFK(c.SoftFK)
	return s
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return l, nil
}
