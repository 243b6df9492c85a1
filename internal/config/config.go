package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the AgentForge registry server.
type Config struct {
	Port      int
	Version   string
	Registry  RegistryConfig
	Snapshot  SnapshotConfig
	Telemetry TelemetryConfig
}

// RegistryConfig is the registry's on-chain-style identity: its name and
// the privileged accounts, as 64-character hex identifiers.
type RegistryConfig struct {
	Name    string
	Symbol  string
	BaseURI string
	Owner   string
	Manager string
	Drainer string
	// GenesisBalance is credited to owner, manager, and drainer at first
	// startup so they can pay record rent.
	GenesisBalance uint64
}

// SnapshotConfig controls account-store persistence.
type SnapshotConfig struct {
	// Dir is the snapshot directory; empty keeps the store memory-only.
	Dir string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("REGISTRY_PORT", 8080),
		Version: envStr("REGISTRY_VERSION", "1.0.0"),
		Registry: RegistryConfig{
			Name:           envStr("REGISTRY_NAME", "agentforge-service-registry"),
			Symbol:         envStr("REGISTRY_SYMBOL", "AFR"),
			BaseURI:        envStr("REGISTRY_BASE_URI", "https://registry.agentforge.dev/services/"),
			Owner:          envStr("REGISTRY_OWNER", defaultOwner),
			Manager:        envStr("REGISTRY_MANAGER", defaultManager),
			Drainer:        envStr("REGISTRY_DRAINER", defaultDrainer),
			GenesisBalance: envUint("REGISTRY_GENESIS_BALANCE", 1_000_000_000),
		},
		Snapshot: SnapshotConfig{
			Dir: envStr("REGISTRY_SNAPSHOT_DIR", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "agentforge-registry"),
		},
	}
}

// Development defaults; any real deployment overrides these.
const (
	defaultOwner   = "0101010101010101010101010101010101010101010101010101010101010101"
	defaultManager = "0202020202020202020202020202020202020202020202020202020202020202"
	defaultDrainer = "0303030303030303030303030303030303030303030303030303030303030303"
)

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

func envUint(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u
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
