package config

import (
    "time"
)

// CacheConfig defines settings for the per-user history cache.
// When Enabled is false or no Redis client is configured, caching is
// disabled.  TTL bounds how long a cached page lives even if no new analysis
// invalidates it.  Prefix namespaces keys and MaxBodyBytes caps what is stored.
type CacheConfig struct {
    Enabled      bool
    TTL          time.Duration
    Prefix       string
    MaxBodyBytes int
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
func LoadCacheConfig() CacheConfig {
    return CacheConfig{
        Enabled:      envBool("CACHE_ENABLED", true),
        TTL:          parseDur(envStr("CACHE_TTL", "60s")),
        Prefix:       envStr("CACHE_PREFIX", "leafguard:cache"),
        MaxBodyBytes: atoi(envStr("CACHE_MAX_BODY_BYTES", "1048576")),
    }
}

func parseDur(s string) time.Duration {
    d, err := time.ParseDuration(s)
    if err != nil {
        return time.Second
    }
    return d
}
