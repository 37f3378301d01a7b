package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SyncConfig holds device synchronization tunables
type SyncConfig struct {
	// ============ SCHEDULING ============
	PollInterval         int  `json:"poll_interval"`          // seconds, while online
	OfflineCheckInterval int  `json:"offline_check_interval"` // seconds, connectivity check cadence while offline
	SyncOnStartup        bool `json:"sync_on_startup"`

	// ============ LIMITS ============
	MaxRetries     int `json:"max_retries"`
	BatchSize      int `json:"batch_size"`
	RequestTimeout int `json:"request_timeout"` // seconds, per remote call

	// ============ BACKOFF ============
	FailureThreshold int `json:"failure_threshold"` // consecutive transport failures before backing off
	BackoffBase      int `json:"backoff_base"`      // seconds
	BackoffCap       int `json:"backoff_cap"`       // seconds

	// ============ RECONCILIATION ============
	SyncOverlap int `json:"sync_overlap"` // seconds re-read behind lastSyncMark

	// ============ REALTIME ============
	NotificationsEnabled bool `json:"notifications_enabled"`
}

// SyncRouteConfig represents a route to the authoritative store
type SyncRouteConfig struct {
	URL      string `json:"url"`
	Type     string `json:"type"`     // primary, fallback
	Timeout  int    `json:"timeout"`  // seconds
	Priority int    `json:"priority"` // lower = higher priority
}

// LoadSyncConfig loads sync configuration from a JSON file or the environment.
// An unreadable file yields the defaults together with an error to report.
func LoadSyncConfig() (*SyncConfig, error) {
	// Try to load from file first
	if configPath := os.Getenv("SYNC_CONFIG_PATH"); configPath != "" {
		cfg, err := loadSyncConfigFromFile(configPath)
		if err == nil {
			return cfg, nil
		}
		return DefaultSyncConfig(), fmt.Errorf("sync config %s unreadable, using defaults: %w", configPath, err)
	}

	return DefaultSyncConfig(), nil
}

// loadSyncConfigFromFile loads sync config from JSON file; missing keys keep their defaults
func loadSyncConfigFromFile(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultSyncConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultSyncConfig returns the default sync configuration, honoring env overrides
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		PollInterval:         getIntEnv("SYNC_POLL_INTERVAL", 5),
		OfflineCheckInterval: getIntEnv("SYNC_OFFLINE_CHECK_INTERVAL", 30),
		SyncOnStartup:        getBoolEnv("SYNC_ON_STARTUP", true),

		MaxRetries:     getIntEnv("SYNC_MAX_RETRIES", 5),
		BatchSize:      getIntEnv("SYNC_BATCH_SIZE", 50),
		RequestTimeout: getIntEnv("SYNC_TIMEOUT", 10),

		FailureThreshold: getIntEnv("SYNC_FAILURE_THRESHOLD", 3),
		BackoffBase:      getIntEnv("SYNC_BACKOFF_BASE", 2),
		BackoffCap:       getIntEnv("SYNC_BACKOFF_CAP", 30),

		SyncOverlap: getIntEnv("SYNC_OVERLAP", 5),

		NotificationsEnabled: getBoolEnv("SYNC_NOTIFICATIONS", true),
	}
}

// PollEvery returns the online poll cadence
func (c *SyncConfig) PollEvery() time.Duration {
	return seconds(c.PollInterval, 5)
}

// OfflineCheckEvery returns the offline connectivity check cadence
func (c *SyncConfig) OfflineCheckEvery() time.Duration {
	return seconds(c.OfflineCheckInterval, 30)
}

// Timeout returns the per-call remote timeout
func (c *SyncConfig) Timeout() time.Duration {
	return seconds(c.RequestTimeout, 10)
}

// BackoffBaseDelay returns the first backoff delay
func (c *SyncConfig) BackoffBaseDelay() time.Duration {
	return seconds(c.BackoffBase, 2)
}

// BackoffMaxDelay returns the backoff cap
func (c *SyncConfig) BackoffMaxDelay() time.Duration {
	return seconds(c.BackoffCap, 30)
}

// Overlap returns how far behind lastSyncMark incremental reads start
func (c *SyncConfig) Overlap() time.Duration {
	if c.SyncOverlap < 0 {
		return 0
	}
	return time.Duration(c.SyncOverlap) * time.Second
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}
