// Package config loads cmd/synapd's configuration the way cuemby-warren's
// cmd/warren does: viper layering flags over environment over an optional
// YAML file, unmarshaled into a plain struct the rest of the program uses.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full on-disk/env/flag configuration for a synapd process.
type Config struct {
	NodeID string `mapstructure:"node_id"`
	Listen string `mapstructure:"listen"`

	Log struct {
		Level string `mapstructure:"level"`
		JSON  bool   `mapstructure:"json"`
	} `mapstructure:"log"`

	KV struct {
		ShardCount     int    `mapstructure:"shard_count"`
		EvictionPolicy string `mapstructure:"eviction_policy"`
		MaxBytes       int64  `mapstructure:"max_bytes"`
	} `mapstructure:"kv"`

	WAL struct {
		Enabled   bool   `mapstructure:"enabled"`
		Dir       string `mapstructure:"dir"`
		FsyncMode string `mapstructure:"fsync_mode"`
	} `mapstructure:"wal"`

	Snapshot struct {
		Dir          string `mapstructure:"dir"`
		MaxSnapshots int    `mapstructure:"max_snapshots"`
		Compress     bool   `mapstructure:"compress"`
		Schedule     string `mapstructure:"schedule"` // cron expression, empty = op-count triggered only
	} `mapstructure:"snapshot"`

	Replication struct {
		MasterListen     string        `mapstructure:"master_listen"`
		ReplicaOf        string        `mapstructure:"replica_of"`
		ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
		LogCapacity      int           `mapstructure:"log_capacity"`
	} `mapstructure:"replication"`

	Cluster struct {
		Enabled         bool     `mapstructure:"enabled"`
		RaftBindAddr    string   `mapstructure:"raft_bind_addr"`
		RaftDataDir     string   `mapstructure:"raft_data_dir"`
		Bootstrap       bool     `mapstructure:"bootstrap"`
		CoordinatorAddr string   `mapstructure:"coordinator_addr"`
		Seeds           []string `mapstructure:"seeds"`
	} `mapstructure:"cluster"`

	Metrics struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"metrics"`
}

// Load builds a Config from (in increasing priority) defaults, an optional
// YAML file at path (ignored if empty or missing), SYNAPD_-prefixed
// environment variables, and whatever flags the caller already bound into
// v via BindPFlag.
func Load(v *viper.Viper, path string) (Config, error) {
	v.SetDefault("node_id", "")
	v.SetDefault("listen", ":8081")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("kv.shard_count", 64)
	v.SetDefault("kv.eviction_policy", "lru")
	v.SetDefault("wal.enabled", true)
	v.SetDefault("wal.dir", "./data/wal")
	v.SetDefault("wal.fsync_mode", "periodic")
	v.SetDefault("snapshot.dir", "./data/snapshots")
	v.SetDefault("snapshot.max_snapshots", 3)
	v.SetDefault("snapshot.compress", true)
	v.SetDefault("replication.reconnect_delay", 2*time.Second)
	v.SetDefault("replication.log_capacity", 16384)
	v.SetDefault("metrics.listen", ":9090")

	v.SetEnvPrefix("synapd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
