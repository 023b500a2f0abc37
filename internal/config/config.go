// Package config implements layered configuration: command-line flags
// override environment variables override a YAML file, with typed
// per-component sub-configs handed to each component's constructor.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ListenerConfig is one bind point.
type ListenerConfig struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Network    string `mapstructure:"network" yaml:"network"` // "tcp" or "unix"
	Address    string `mapstructure:"address" yaml:"address"`
	Service    string `mapstructure:"service" yaml:"service"` // name of the Service this listener feeds
	SkipAuth   bool   `mapstructure:"skip_auth" yaml:"skip_auth"`
	ReusePort  bool   `mapstructure:"reuse_port" yaml:"reuse_port"`
}

// ServerConfig is one configured backend.
type ServerConfig struct {
	Name              string `mapstructure:"name" yaml:"name"`
	Address           string `mapstructure:"address" yaml:"address"`
	Port              int    `mapstructure:"port" yaml:"port"`
	Protocol          string `mapstructure:"protocol" yaml:"protocol"`
	Rank              int    `mapstructure:"rank" yaml:"rank"`
	MonitorUser       string `mapstructure:"monitor_user" yaml:"monitor_user"`
	MonitorPassword   string `mapstructure:"monitor_password" yaml:"monitor_password"` // may be AES-256-CBC encrypted, see internal/secret
}

// ServiceConfig binds a router policy to a set of servers.
type ServiceConfig struct {
	Name              string   `mapstructure:"name" yaml:"name"`
	Router            string   `mapstructure:"router" yaml:"router"` // "connrouter" | "rwsplit" | "hint"
	Servers           []string `mapstructure:"servers" yaml:"servers"`
	RoleMask          []string `mapstructure:"role_mask" yaml:"role_mask"` // e.g. ["RUNNING", "PRIMARY"]
	MaxReplicationLag int      `mapstructure:"max_replication_lag" yaml:"max_replication_lag"`
	WriteServer       string   `mapstructure:"write_server" yaml:"write_server"`
	DefaultHint       string   `mapstructure:"default_hint" yaml:"default_hint"` // "primary" | "replica" | "named" | "all"
	DefaultHintName   string   `mapstructure:"default_hint_name" yaml:"default_hint_name"`
}

// PoolConfig tunes the per-server connection pool.
type PoolConfig struct {
	Capacity    int           `mapstructure:"capacity" yaml:"capacity"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	AcquireWait time.Duration `mapstructure:"acquire_wait" yaml:"acquire_wait"`
}

// MonitorConfig tunes the cluster monitor.
type MonitorConfig struct {
	ProbeInterval          time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	ConnectTimeout         time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout            time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout           time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ScriptHook             string        `mapstructure:"script_hook" yaml:"script_hook"`
	Events                 []string      `mapstructure:"events" yaml:"events"`
	DiskSpaceCheckInterval time.Duration `mapstructure:"disk_space_check_interval" yaml:"disk_space_check_interval"`
	JournalPath            string        `mapstructure:"journal_path" yaml:"journal_path"`
	JournalMaxAge          time.Duration `mapstructure:"journal_max_age" yaml:"journal_max_age"`
	DetectStalePrimary     bool          `mapstructure:"detect_stale_primary" yaml:"detect_stale_primary"`
	User                   string        `mapstructure:"user" yaml:"user"`
	Password               string        `mapstructure:"password" yaml:"password"`
	AMQPURL                string        `mapstructure:"amqp_url" yaml:"amqp_url"`
	AMQPExchange           string        `mapstructure:"amqp_exchange" yaml:"amqp_exchange"`
}

// WorkerPoolConfig tunes the reactor pool.
type WorkerPoolConfig struct {
	WorkerCount       int           `mapstructure:"worker_count" yaml:"worker_count"`
	InboxSize         int           `mapstructure:"inbox_size" yaml:"inbox_size"`
	RebalanceInterval time.Duration `mapstructure:"rebalance_interval" yaml:"rebalance_interval"`
	RebalanceMargin   int           `mapstructure:"rebalance_margin" yaml:"rebalance_margin"`
}

// AdminConfig tunes the read-only HTTP introspection surface.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// SecretConfig points at the password-encryption key file.
type SecretConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Config is the fully-resolved configuration tree.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	Listeners []ListenerConfig `mapstructure:"listeners" yaml:"listeners"`
	Servers   []ServerConfig   `mapstructure:"servers" yaml:"servers"`
	Services  []ServiceConfig  `mapstructure:"services" yaml:"services"`

	Pool       PoolConfig       `mapstructure:"pool" yaml:"pool"`
	Monitor    MonitorConfig    `mapstructure:"monitor" yaml:"monitor"`
	WorkerPool WorkerPoolConfig `mapstructure:"worker_pool" yaml:"worker_pool"`
	Admin      AdminConfig      `mapstructure:"admin" yaml:"admin"`
	Secret     SecretConfig     `mapstructure:"secret" yaml:"secret"`
}

// Default returns the configuration a fresh install starts from.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Pool: PoolConfig{
			Capacity:    0,
			IdleTimeout: 5 * time.Minute,
			AcquireWait: 10 * time.Second,
		},
		Monitor: MonitorConfig{
			ProbeInterval:          2 * time.Second,
			ConnectTimeout:         3 * time.Second,
			ReadTimeout:            3 * time.Second,
			WriteTimeout:           3 * time.Second,
			DiskSpaceCheckInterval: time.Minute,
			JournalMaxAge:          5 * time.Second,
			DetectStalePrimary:     true,
		},
		WorkerPool: WorkerPoolConfig{
			WorkerCount:       0, // 0 selects runtime.NumCPU() in internal/workerpool
			InboxSize:         64,
			RebalanceInterval: 5 * time.Second,
			RebalanceMargin:   2,
		},
		Admin: AdminConfig{
			Enabled: true,
			Address: "127.0.0.1:8989",
		},
	}
}

// BindFlags registers every configurable flag on cmd, seeded from
// Default(), and binds them into v so flag > env > file precedence holds.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	d := Default()

	cmd.Flags().String("log-level", d.LogLevel, "log level (trace, debug, info, warn, error)")
	cmd.Flags().String("config", "", "path to a YAML config file")

	cmd.Flags().Int("pool-capacity", d.Pool.Capacity, "per-server idle connection pool capacity (0 disables pooling)")
	cmd.Flags().Duration("pool-idle-timeout", d.Pool.IdleTimeout, "idle channel eviction timeout")
	cmd.Flags().Duration("pool-acquire-wait", d.Pool.AcquireWait, "max time a session waits on the pool waitlist")

	cmd.Flags().Duration("monitor-probe-interval", d.Monitor.ProbeInterval, "cluster monitor probe interval")
	cmd.Flags().Duration("monitor-connect-timeout", d.Monitor.ConnectTimeout, "monitor connect timeout")
	cmd.Flags().String("monitor-script-hook", d.Monitor.ScriptHook, "script run on monitored state transitions")
	cmd.Flags().String("monitor-journal-path", d.Monitor.JournalPath, "path to the monitor's status journal file")
	cmd.Flags().Duration("monitor-journal-max-age", d.Monitor.JournalMaxAge, "max interval between unconditional journal rewrites")
	cmd.Flags().Bool("monitor-detect-stale-primary", d.Monitor.DetectStalePrimary, "keep PRIMARY set with STALE during a transient outage")
	cmd.Flags().String("monitor-user", d.Monitor.User, "monitor connection username")
	cmd.Flags().String("monitor-password", d.Monitor.Password, "monitor connection password")
	cmd.Flags().String("monitor-amqp-url", d.Monitor.AMQPURL, "AMQP broker URL for the optional transition event bus")
	cmd.Flags().String("monitor-amqp-exchange", d.Monitor.AMQPExchange, "fanout exchange transition events are published to")

	cmd.Flags().Int("worker-count", d.WorkerPool.WorkerCount, "number of reactor workers (0 selects NumCPU)")
	cmd.Flags().Duration("rebalance-interval", d.WorkerPool.RebalanceInterval, "worker rebalance check interval")
	cmd.Flags().Int("rebalance-margin", d.WorkerPool.RebalanceMargin, "session-count gap that triggers a rebalance move")

	cmd.Flags().Bool("admin-enabled", d.Admin.Enabled, "enable the read-only admin HTTP surface")
	cmd.Flags().String("admin-address", d.Admin.Address, "admin HTTP bind address")

	cmd.Flags().String("secret-path", d.Secret.Path, "path to the AES-256-CBC secret file")

	v.BindPFlags(cmd.Flags())
}

// Load resolves the final Config from v (flags and env already bound by
// BindFlags) plus an optional YAML file at v.GetString("config").
func Load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("MAXPROXY")
	v.AutomaticEnv()

	cfg := Default()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	if v.IsSet("log_level") || v.IsSet("log-level") {
		cfg.LogLevel = v.GetString("log_level")
		if cfg.LogLevel == "" {
			cfg.LogLevel = v.GetString("log-level")
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	overlayFlags(cfg, v)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayFlags re-applies the flag-bound scalar fields that viper's
// dashed-vs-underscore key mismatch between pflag and mapstructure tags
// would otherwise drop during Unmarshal.
func overlayFlags(cfg *Config, v *viper.Viper) {
	cfg.Pool.Capacity = v.GetInt("pool-capacity")
	cfg.Pool.IdleTimeout = v.GetDuration("pool-idle-timeout")
	cfg.Pool.AcquireWait = v.GetDuration("pool-acquire-wait")

	cfg.Monitor.ProbeInterval = v.GetDuration("monitor-probe-interval")
	cfg.Monitor.ConnectTimeout = v.GetDuration("monitor-connect-timeout")
	if v.GetString("monitor-script-hook") != "" {
		cfg.Monitor.ScriptHook = v.GetString("monitor-script-hook")
	}
	if v.GetString("monitor-journal-path") != "" {
		cfg.Monitor.JournalPath = v.GetString("monitor-journal-path")
	}
	cfg.Monitor.JournalMaxAge = v.GetDuration("monitor-journal-max-age")
	cfg.Monitor.DetectStalePrimary = v.GetBool("monitor-detect-stale-primary")
	if v.GetString("monitor-user") != "" {
		cfg.Monitor.User = v.GetString("monitor-user")
	}
	if v.GetString("monitor-password") != "" {
		cfg.Monitor.Password = v.GetString("monitor-password")
	}
	if v.GetString("monitor-amqp-url") != "" {
		cfg.Monitor.AMQPURL = v.GetString("monitor-amqp-url")
	}
	if v.GetString("monitor-amqp-exchange") != "" {
		cfg.Monitor.AMQPExchange = v.GetString("monitor-amqp-exchange")
	}

	cfg.WorkerPool.WorkerCount = v.GetInt("worker-count")
	cfg.WorkerPool.RebalanceInterval = v.GetDuration("rebalance-interval")
	cfg.WorkerPool.RebalanceMargin = v.GetInt("rebalance-margin")

	cfg.Admin.Enabled = v.GetBool("admin-enabled")
	if v.GetString("admin-address") != "" {
		cfg.Admin.Address = v.GetString("admin-address")
	}
	if v.GetString("secret-path") != "" {
		cfg.Secret.Path = v.GetString("secret-path")
	}
}

// Validate rejects a configuration tree that the rest of the proxy could
// not act on: a listener naming a service that was never declared, or a
// service naming a server that was never declared.
func (c *Config) Validate() error {
	services := make(map[string]ServiceConfig, len(c.Services))
	for _, s := range c.Services {
		services[s.Name] = s
	}
	servers := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		servers[s.Name] = true
	}
	for _, l := range c.Listeners {
		svc, ok := services[l.Service]
		if !ok {
			return fmt.Errorf("config: listener %q references unknown service %q", l.Name, l.Service)
		}
		for _, name := range svc.Servers {
			if !servers[name] {
				return fmt.Errorf("config: service %q references unknown server %q", svc.Name, name)
			}
		}
	}
	return nil
}
