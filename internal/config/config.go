// Package config loads runtime configuration from environment variables,
// following the same typed-fallback-default idiom the rest of the stack
// uses for env loading.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the UICP runtime.
type Config struct {
	Port      int
	Version   string
	Telemetry TelemetryConfig
	Policy    PolicyConfig
	Guard     GuardConfig
	Store     StoreConfig
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// PolicyConfig seeds the Policy Engine's initial preset before any
// persisted policy file is loaded.
type PolicyConfig struct {
	DefaultPreset string
	PolicyPath    string // <appdata>/uicp/policy.json equivalent
}

// GuardConfig tunes the Network Guard's threat-intel and quota behavior.
type GuardConfig struct {
	ThreatIntelEnabled bool
	ThreatIntelURL     string
	ThreatIntelTTL     int // seconds
	CacheCapacity      int
	DefaultQuotaCap    int
	DefaultQuotaRate   float64 // tokens/sec
	RetryWindowSecs    int
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	DSN string // optional Postgres DSN; empty means file/in-memory
}

// Load reads configuration from environment variables with sensible
// defaults, matching the teacher's envStr/envInt/envBool/envFloat idiom.
func Load() *Config {
	return &Config{
		Port:    envInt("UICP_PORT", 8777),
		Version: envStr("UICP_VERSION", "0.1.0"),
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "uicp-runtime"),
		},
		Policy: PolicyConfig{
			DefaultPreset: envStr("UICP_POLICY_PRESET", "balanced"),
			PolicyPath:    envStr("UICP_POLICY_PATH", "uicp/policy.json"),
		},
		Guard: GuardConfig{
			ThreatIntelEnabled: envBool("UICP_THREAT_INTEL_ENABLED", true),
			ThreatIntelURL:     envStr("UICP_THREAT_INTEL_URL", "https://urlhaus-api.abuse.ch/v1/host/"),
			ThreatIntelTTL:     envInt("UICP_THREAT_INTEL_TTL_SECS", 3600),
			CacheCapacity:      envInt("UICP_THREAT_INTEL_CACHE_CAP", 500),
			DefaultQuotaCap:    envInt("UICP_QUOTA_CAPACITY", 60),
			DefaultQuotaRate:   envFloat("UICP_QUOTA_REFILL_RATE", 1.0),
			RetryWindowSecs:    envInt("UICP_RETRY_WINDOW_SECS", 120),
		},
		Store: StoreConfig{
			DSN: envStr("UICP_STORE_DSN", ""),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envStringList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
