// Package config loads types.Config from an optional YAML file and the
// environment, layering overrides on top of types.DefaultConfig(), in
// the teacher's viper.New()-per-load style (cmd/bd/config.go's
// validateSyncConfig) rather than a package-level viper singleton.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"

	"github.com/arcwright/recall/internal/types"
)

// EnvPrefix namespaces environment variable overrides: RECALL_POOL_SIZE
// overrides pool_size, RECALL_DECAY_RATE overrides decay_rate, etc.
const EnvPrefix = "RECALL"

// Load reads configPath (if non-empty and it exists) as YAML and
// environment variables prefixed with RECALL_, layering both over
// types.DefaultConfig(). A missing file is not an error: defaults plus
// any environment overrides are returned.
func Load(configPath string) (types.Config, error) {
	cfg := types.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return types.Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// bindDefaults registers cfg's zero-override values with viper so
// AutomaticEnv and Unmarshal see every key even when the file and
// environment are both silent on it.
func bindDefaults(v *viper.Viper, cfg types.Config) {
	v.SetDefault("pool_size", cfg.PoolSize)
	v.SetDefault("pool_timeout_s", cfg.PoolTimeoutSeconds)
	v.SetDefault("cache_max_entries", cfg.CacheMaxEntries)
	v.SetDefault("embedding_dim", cfg.EmbeddingDim)
	v.SetDefault("decay_rate", cfg.DecayRate)
	v.SetDefault("reinforcement_factor", cfg.ReinforcementFactor)
	v.SetDefault("reinforcement_cap", cfg.ReinforcementCap)
	v.SetDefault("low_importance_threshold", cfg.LowImportanceThresh)
	v.SetDefault("stale_days", cfg.StaleDays)
	v.SetDefault("breaker_threshold", cfg.BreakerThreshold)
	v.SetDefault("breaker_recovery_s", cfg.BreakerRecoverySecs)
	v.SetDefault("trigger_expiry_days", cfg.TriggerExpiryDays)
	v.SetDefault("semantic_weight", cfg.SemanticWeight)
	v.SetDefault("bm25_weight", cfg.BM25Weight)
}
