// Package config loads the proxy's configuration through viper, the way
// cmd/windermere/main.go in the teacher repo does: defaults are registered
// up front, a config file is read, and a handful of required keys are
// verified before the rest of the program is allowed to start.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Configuration keys, named the way the teacher names its CNF* constants.
const (
	KeyUpstreamBaseURL        = "UPSTREAM_BASE_URL"
	KeyUpstreamTimeout        = "UPSTREAM_TIMEOUT"
	KeyUpstreamMaxConns       = "UPSTREAM_MAX_CONNECTIONS"
	KeyUpstreamFetchRate      = "UPSTREAM_FETCH_RATE"
	KeyUpstreamNativePatch    = "UPSTREAM_NATIVE_PATCH"
	KeyProxyHost              = "PROXY_HOST"
	KeyProxyPort              = "PROXY_PORT"
	KeyProxyWorkers           = "PROXY_WORKERS"
	KeyCacheTTL               = "CACHE_TTL"
	KeyCacheMaxSize           = "CACHE_MAX_SIZE"
	KeyCacheBackend           = "CACHE_BACKEND"
	KeyCacheBackendDriver     = "CACHE_BACKEND_DRIVER"
	KeyCacheBackendDSN        = "CACHE_BACKEND_DSN"
	KeyCacheSnapshotPath      = "CACHE_SNAPSHOT_PATH"
	KeyMaxFilterComplexity    = "MAX_FILTER_COMPLEXITY"
	KeyMaxFilterFetchSize     = "MAX_FILTER_FETCH_SIZE"
	KeyFilterFetchMultiplier  = "FILTER_FETCH_MULTIPLIER"
	KeyAccessLogPath          = "ACCESS_LOG_PATH"
	KeyReadHeaderTimeout      = "READ_HEADER_TIMEOUT"
	KeyReadTimeout            = "READ_TIMEOUT"
	KeyWriteTimeout           = "WRITE_TIMEOUT"
	KeyIdleTimeout            = "IDLE_TIMEOUT"
)

// Config holds the validated, immutable configuration for one run of the
// proxy. It is built once at startup and passed around as a dependency
// (see DESIGN-NOTES in SPEC_FULL.md: "exposed as dependencies, not globals").
type Config struct {
	UpstreamBaseURL     string
	UpstreamTimeout     time.Duration
	UpstreamMaxConns    int
	UpstreamFetchRate   float64
	UpstreamNativePatch bool

	ProxyHost    string
	ProxyPort    int
	ProxyWorkers int

	CacheTTL           time.Duration
	CacheMaxSize       int
	CacheBackend       string
	CacheBackendDriver string
	CacheBackendDSN    string
	CacheSnapshotPath  string

	MaxFilterComplexity   int
	MaxFilterFetchSize    int
	FilterFetchMultiplier int

	AccessLogPath string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

func setDefaults(v *viper.Viper) {
	defaults := map[string]interface{}{
		KeyUpstreamTimeout:       30,
		KeyUpstreamMaxConns:      100,
		KeyUpstreamFetchRate:     0.0,
		KeyUpstreamNativePatch:   false,
		KeyProxyHost:             "0.0.0.0",
		KeyProxyPort:             8000,
		KeyProxyWorkers:          4,
		KeyCacheTTL:              300,
		KeyCacheMaxSize:          1000,
		KeyCacheBackend:          "memory",
		KeyCacheBackendDriver:    "sqlite",
		KeyCacheBackendDSN:       "scimproxy-cache.db",
		KeyCacheSnapshotPath:     "",
		KeyMaxFilterComplexity:   50,
		KeyMaxFilterFetchSize:    2000,
		KeyFilterFetchMultiplier: 20,
		KeyAccessLogPath:         "",
		KeyReadHeaderTimeout:     5,
		KeyReadTimeout:           20,
		KeyWriteTimeout:          40,
		KeyIdleTimeout:           60,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

func verifyRequired(v *viper.Viper, keys ...string) error {
	for _, key := range keys {
		if !v.IsSet(key) {
			return fmt.Errorf("missing required configuration setting: %s", key)
		}
	}
	return nil
}

func configuredSeconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Second
}

// Load reads configuration from the file at path (if non-empty) plus the
// environment, validates required settings, and returns an immutable
// Config. Environment variables override the file, matching viper's usual
// precedence.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	if err := verifyRequired(v, KeyUpstreamBaseURL); err != nil {
		return Config{}, err
	}

	cfg := Config{
		UpstreamBaseURL:       v.GetString(KeyUpstreamBaseURL),
		UpstreamTimeout:       configuredSeconds(v, KeyUpstreamTimeout),
		UpstreamMaxConns:      v.GetInt(KeyUpstreamMaxConns),
		UpstreamFetchRate:     v.GetFloat64(KeyUpstreamFetchRate),
		UpstreamNativePatch:   v.GetBool(KeyUpstreamNativePatch),
		ProxyHost:             v.GetString(KeyProxyHost),
		ProxyPort:             v.GetInt(KeyProxyPort),
		ProxyWorkers:          v.GetInt(KeyProxyWorkers),
		CacheTTL:              configuredSeconds(v, KeyCacheTTL),
		CacheMaxSize:          v.GetInt(KeyCacheMaxSize),
		CacheBackend:          v.GetString(KeyCacheBackend),
		CacheBackendDriver:    v.GetString(KeyCacheBackendDriver),
		CacheBackendDSN:       v.GetString(KeyCacheBackendDSN),
		CacheSnapshotPath:     v.GetString(KeyCacheSnapshotPath),
		MaxFilterComplexity:   v.GetInt(KeyMaxFilterComplexity),
		MaxFilterFetchSize:    v.GetInt(KeyMaxFilterFetchSize),
		FilterFetchMultiplier: v.GetInt(KeyFilterFetchMultiplier),
		AccessLogPath:         v.GetString(KeyAccessLogPath),
		ReadHeaderTimeout:     configuredSeconds(v, KeyReadHeaderTimeout),
		ReadTimeout:           configuredSeconds(v, KeyReadTimeout),
		WriteTimeout:          configuredSeconds(v, KeyWriteTimeout),
		IdleTimeout:           configuredSeconds(v, KeyIdleTimeout),
	}

	if cfg.UpstreamBaseURL == "" {
		return Config{}, fmt.Errorf("%s must not be empty", KeyUpstreamBaseURL)
	}

	return cfg, nil
}
