package config

import (
	"os"

	"github.com/joho/godotenv"
)

// DeviceConfig holds configuration of a handheld scanner agent
type DeviceConfig struct {
	DataPath     string // local SQLite file holding the pending queue, device id and sync mark
	DeviceID     string // optional override, normally generated once and persisted
	Token        string // device JWT issued by the server
	CheckpointID string // checkpoint this scanner is stationed at
	Routes       []SyncRouteConfig
	Log          LogConfig
	Sync         *SyncConfig

	// Warnings found while loading, for the caller to log once a logger exists
	Warnings []string
}

// LoadDeviceConfig loads device configuration from environment variables
func LoadDeviceConfig() *DeviceConfig {
	_ = godotenv.Load()

	cfg := &DeviceConfig{
		DataPath:     getEnv("SCANNER_DATA_PATH", "./.yatra/scanner.db"),
		DeviceID:     os.Getenv("DEVICE_ID"),
		Token:        os.Getenv("DEVICE_TOKEN"),
		CheckpointID: os.Getenv("CHECKPOINT_ID"),
		Routes:       getDefaultRoutes(),
		Log:          loadLogConfig(),
	}

	if len(cfg.Routes) == 0 {
		cfg.Warnings = append(cfg.Warnings, "No server routes configured (SCANNER_PRIMARY_URL and SCANNER_FALLBACK_URL not set)")
	}

	var err error
	if cfg.Sync, err = LoadSyncConfig(); err != nil {
		cfg.Warnings = append(cfg.Warnings, err.Error())
	}
	return cfg
}

// getDefaultRoutes returns the configured server routes in priority order
func getDefaultRoutes() []SyncRouteConfig {
	routes := []SyncRouteConfig{}

	// Primary server (usually the base camp LAN)
	if primary := os.Getenv("SCANNER_PRIMARY_URL"); primary != "" {
		routes = append(routes, SyncRouteConfig{
			URL:      primary,
			Type:     "primary",
			Timeout:  getIntEnv("SCANNER_PRIMARY_TIMEOUT", 5),
			Priority: 1,
		})
	}

	// Fallback server reachable over mobile data
	if fallback := os.Getenv("SCANNER_FALLBACK_URL"); fallback != "" {
		routes = append(routes, SyncRouteConfig{
			URL:      fallback,
			Type:     "fallback",
			Timeout:  getIntEnv("SCANNER_FALLBACK_TIMEOUT", 10),
			Priority: 2,
		})
	}

	return routes
}
