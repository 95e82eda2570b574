// Package config aggregates every component's configuration struct and
// loads it through the same defaults -> file -> environment layering the
// teacher's cmd/config.go uses, generalized to this module's own component
// set (directory policy, scheduler, provider, cache, auth) per spec.md §6.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/cache"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/directory"
	"github.com/minvws/gfmodules-mcsd-update-client/internal/scheduler"
	"github.com/minvws/gfmodules-mcsd-update-client/lib/httpauth"
)

// StoreConfig configures the GORM-backed persistence layer (C1/C2).
type StoreConfig struct {
	// Driver selects the GORM dialect: "postgres" in production, "sqlite"
	// (pure-Go, no cgo) for local runs and the default test suite.
	Driver string `koanf:"driver"`
	// DSN is a Postgres connection string when Driver is "postgres", or a
	// sqlite path (":memory:" or a file path) when Driver is "sqlite".
	DSN string `koanf:"dsn"`
}

// ProviderConfig configures the Provider-Directory Refresher (C9).
type ProviderConfig struct {
	// URL is the provider's FHIR base URL; empty disables provider refresh.
	URL string `koanf:"url"`
	// RefreshInterval is how often the refresher re-reads the provider.
	RefreshInterval time.Duration `koanf:"refreshinterval"`
	// RemoveAfter is how long a directory may go unseen by the provider
	// before it is scheduled for cleanup; zero disables removal.
	RemoveAfter time.Duration `koanf:"removeafter"`
}

// Config is the complete configuration surface for the update client
// process, aggregating every component's own Config struct the way the
// teacher's cmd.Config aggregates component.Config fields.
type Config struct {
	StrictMode bool `koanf:"strictmode"`

	LocalFHIRBaseURL string `koanf:"localfhirbaseurl"`

	Store     StoreConfig            `koanf:"store"`
	Policy    directory.PolicyConfig `koanf:"policy"`
	Scheduler scheduler.Config       `koanf:"scheduler"`
	Provider  ProviderConfig         `koanf:"provider"`
	Cache     cache.Config           `koanf:"cache"`

	Auth         httpauth.OAuth2Config       `koanf:"auth"`
	JWTAssertion httpauth.JWTAssertionConfig `koanf:"jwtassertion"`
}

// DefaultConfig returns production-reasonable defaults; operators override
// via config file or environment.
func DefaultConfig() Config {
	return Config{
		StrictMode: true,
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    ":memory:",
		},
		Policy: directory.DefaultPolicyConfig(),
		Scheduler: scheduler.Config{
			PollInterval:             time.Minute,
			StaleAfter:               time.Hour,
			MaxConcurrentDirectories: 4,
		},
		Provider: ProviderConfig{
			RefreshInterval: 15 * time.Minute,
		},
	}
}

// Load loads configuration from defaults, an optional YAML file at
// configPath (skipped if it doesn't exist), and environment variables
// prefixed with envPrefix, in that layering order.
func Load(configPath, envPrefix string) (Config, error) {
	k := koanf.New(".")

	defaultConfig := DefaultConfig()
	if err := k.Load(structs.Provider(defaultConfig, "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load default configuration: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.TrimPrefix(s, envPrefix)
		parts := strings.Split(key, "_")
		result := make([]string, len(parts))
		for i, part := range parts {
			result[i] = strings.ToLower(part)
		}
		return strings.Join(result, ".")
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment configuration: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return Config{}, fmt.Errorf("unmarshal configuration: %w", err)
	}
	return config, nil
}
