package extension

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/xraph/payrelay"
)

// EnvPrefix prefixes environment overrides, e.g. PAYRELAY_MAX_ATTEMPTS or
// PAYRELAY_TIERS_PAYMENT_LIMIT.
const EnvPrefix = "PAYRELAY"

// Config holds configuration for the payrelay extension. It is loaded from
// a YAML/JSON/TOML file plus environment overrides by LoadConfig, or built
// in code.
type Config struct {
	// Config embeds the core payrelay configuration.
	payrelay.Config `json:",inline" yaml:",inline" mapstructure:",squash"`

	// BasePath is the URL prefix for all payrelay routes (default: "/payrelay").
	BasePath string `json:"base_path" yaml:"base_path" mapstructure:"base_path"`

	// DisableRoutes disables route registration with the Forge router.
	DisableRoutes bool `json:"disable_routes" yaml:"disable_routes" mapstructure:"disable_routes"`

	// DisableMigrate disables the schema migration run by Init.
	DisableMigrate bool `json:"disable_migrate" yaml:"disable_migrate" mapstructure:"disable_migrate"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Config:   payrelay.DefaultConfig(),
		BasePath: "/payrelay",
	}
}

// ToOptions converts the embedded Config into payrelay.Option values.
func (c Config) ToOptions() []payrelay.Option {
	return []payrelay.Option{payrelay.WithConfig(c.Config)}
}

// LoadConfig reads envFiles into the process environment (missing files
// are skipped, variables already set win), then decodes path over
// DefaultConfig with PAYRELAY_* environment overrides. An empty path
// loads defaults and environment only.
func LoadConfig(path string, envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("payrelay: load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("payrelay: read config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("payrelay: decode config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys the
// config file does not mention.
func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("base_path", c.BasePath)
	v.SetDefault("disable_routes", c.DisableRoutes)
	v.SetDefault("disable_migrate", c.DisableMigrate)

	v.SetDefault("concurrency", c.Concurrency)
	v.SetDefault("poll_interval", c.PollInterval)
	v.SetDefault("batch_size", c.BatchSize)
	v.SetDefault("request_timeout", c.RequestTimeout)
	v.SetDefault("max_attempts", c.MaxAttempts)
	v.SetDefault("backoff_base", c.BackoffBase)
	v.SetDefault("backoff_cap", c.BackoffCap)
	v.SetDefault("claim_lease", c.ClaimLease)
	v.SetDefault("shutdown_timeout", c.ShutdownTimeout)
	v.SetDefault("sweep_interval", c.SweepInterval)
	v.SetDefault("payment_timeout", c.PaymentTimeout)
	v.SetDefault("sweep_grace", c.SweepGrace)
	v.SetDefault("challenge_window", c.ChallengeWindow)
	v.SetDefault("challenge_skew", c.ChallengeSkew)

	for key, t := range map[string]struct {
		name   string
		window any
		limit  int
	}{
		"payment":    {c.Tiers.Payment.Name, c.Tiers.Payment.Window, c.Tiers.Payment.Limit},
		"suspicious": {c.Tiers.Suspicious.Name, c.Tiers.Suspicious.Window, c.Tiers.Suspicious.Limit},
		"general":    {c.Tiers.General.Name, c.Tiers.General.Window, c.Tiers.General.Limit},
	} {
		v.SetDefault("tiers."+key+".name", t.name)
		v.SetDefault("tiers."+key+".window", t.window)
		v.SetDefault("tiers."+key+".limit", t.limit)
	}
}
