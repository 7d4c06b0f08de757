package types

import "time"

// Config holds the enumerated options of spec §6. Zero values are never
// used directly — callers get Config via config.Load (viper-backed),
// which applies DefaultConfig() first.
type Config struct {
	PoolSize              int     `mapstructure:"pool_size"`
	PoolTimeoutSeconds    float64 `mapstructure:"pool_timeout_s"`
	CacheMaxEntries       int     `mapstructure:"cache_max_entries"`
	EmbeddingDim          int     `mapstructure:"embedding_dim"`
	DecayRate             float64 `mapstructure:"decay_rate"`
	ReinforcementFactor   float64 `mapstructure:"reinforcement_factor"`
	ReinforcementCap      float64 `mapstructure:"reinforcement_cap"`
	LowImportanceThresh   float64 `mapstructure:"low_importance_threshold"`
	StaleDays             int     `mapstructure:"stale_days"`
	BreakerThreshold      int     `mapstructure:"breaker_threshold"`
	BreakerRecoverySecs   float64 `mapstructure:"breaker_recovery_s"`
	TriggerExpiryDays     int     `mapstructure:"trigger_expiry_days"`
	SemanticWeight        float64 `mapstructure:"semantic_weight"`
	BM25Weight            float64 `mapstructure:"bm25_weight"`
}

// DefaultConfig returns the default enumerated options of spec §6.
func DefaultConfig() Config {
	return Config{
		PoolSize:            5,
		PoolTimeoutSeconds:  30,
		CacheMaxEntries:     1000,
		EmbeddingDim:        EmbeddingDim,
		DecayRate:           0.99,
		ReinforcementFactor: 1.15,
		ReinforcementCap:    0.95,
		LowImportanceThresh: 0.2,
		StaleDays:           90,
		BreakerThreshold:    3,
		BreakerRecoverySecs: 60,
		TriggerExpiryDays:   90,
		SemanticWeight:      0.7,
		BM25Weight:          0.3,
	}
}

// PoolTimeout returns PoolTimeoutSeconds as a time.Duration.
func (c Config) PoolTimeout() time.Duration {
	return time.Duration(c.PoolTimeoutSeconds * float64(time.Second))
}

// BreakerRecovery returns BreakerRecoverySecs as a time.Duration.
func (c Config) BreakerRecovery() time.Duration {
	return time.Duration(c.BreakerRecoverySecs * float64(time.Second))
}

// BreakerState enumerates the three circuit breaker states of spec §4.G.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)
