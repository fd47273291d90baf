// Package config holds the recognized configuration options from the
// on-disk volume/replication/directory design, loadable from a YAML file
// whose path each cmd/ entrypoint takes as a flag.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized option. Load starts from Default() and
// overlays the YAML file, so options the file omits keep their defaults.
type Config struct {
	// Store
	DataDir                       string        `yaml:"data_dir"`
	MaxVolumeSize                 int64         `yaml:"max_volume_size"`
	CompactionEfficiencyThreshold float64       `yaml:"compaction_efficiency_threshold"`
	HeartbeatInterval             time.Duration `yaml:"heartbeat_interval"`
	GCInterval                    time.Duration `yaml:"gc_interval"`

	// Directory
	LeaderTimeout        time.Duration `yaml:"leader_timeout"` // T_lease
	FollowerSyncInterval time.Duration `yaml:"follower_sync_interval"`
	HealthWindow         time.Duration `yaml:"health_window"`
	Followers            []string      `yaml:"followers"`

	// Replication
	DefaultReplicaCount int           `yaml:"default_replica_count"`
	MaxReplicaCount     int           `yaml:"max_replica_count"`
	ReplicationInterval time.Duration `yaml:"replication_interval"`
	ReplockTTL          time.Duration `yaml:"replock_ttl"` // T_replock
	NightlyAuditHour    int           `yaml:"nightly_audit_hour"`
	HotnessThreshold    int64         `yaml:"hotness_threshold"` // reads/60s

	// Cache
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Shared
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
	LogLevel   string `yaml:"log_level"`
	LogJSON    bool   `yaml:"log_json"`
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a Config populated with the spec's stated defaults.
func Default() *Config {
	return &Config{
		DataDir:                       "./data",
		MaxVolumeSize:                 100 << 20, // 100MiB
		CompactionEfficiencyThreshold: 0.6,
		HeartbeatInterval:             5 * time.Second,
		GCInterval:                    5 * time.Minute,

		LeaderTimeout:        10 * time.Second,
		FollowerSyncInterval: 5 * time.Second,
		HealthWindow:         60 * time.Second,

		DefaultReplicaCount: 3,
		MaxReplicaCount:     5,
		ReplicationInterval: 30 * time.Second,
		ReplockTTL:          30 * time.Second,
		NightlyAuditHour:    3,
		HotnessThreshold:    100,

		CacheTTL: 24 * time.Hour,

		RedisAddr:  "127.0.0.1:6379",
		RedisDB:    0,
		LogLevel:   "info",
		LogJSON:    false,
		ListenAddr: ":8080",
	}
}

// Load reads a YAML config file and layers it over Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ElectionRefreshInterval is the Directory leader's refresh period, T_lease/3
// per the spec's leader-election design.
func (c *Config) ElectionRefreshInterval() time.Duration {
	return c.LeaderTimeout / 3
}
