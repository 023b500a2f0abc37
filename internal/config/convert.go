package config

import (
	"strings"

	"github.com/mariadb-corporation/maxscale-sub025/internal/monitor"
	"github.com/mariadb-corporation/maxscale-sub025/internal/pool"
	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
	"github.com/mariadb-corporation/maxscale-sub025/internal/router"
	"github.com/mariadb-corporation/maxscale-sub025/internal/workerpool"
)

var statusByName = map[string]registry.StatusBit{
	"RUNNING":    registry.Running,
	"PRIMARY":    registry.Primary,
	"REPLICA":    registry.Replica,
	"SYNCED":     registry.Synced,
	"MAINT":      registry.Maint,
	"DRAINING":   registry.Draining,
	"STALE":      registry.Stale,
	"DISK_SPACE": registry.DiskSpace,
}

// ParseRoleMask turns configured status names (e.g. ["RUNNING", "PRIMARY"])
// into the bitmask routers filter candidates by.
func ParseRoleMask(names []string) registry.StatusBit {
	var mask registry.StatusBit
	for _, name := range names {
		if bit, ok := statusByName[strings.ToUpper(name)]; ok {
			mask |= bit
		}
	}
	return mask
}

var hintKindByName = map[string]router.HintKind{
	"primary": router.HintPrimary,
	"replica": router.HintReplica,
	"named":   router.HintNamed,
	"all":     router.HintAll,
}

// ToRouterConfig converts one ServiceConfig to a router.Config.
func (s ServiceConfig) ToRouterConfig() router.Config {
	kind, ok := hintKindByName[strings.ToLower(s.DefaultHint)]
	if !ok {
		kind = router.HintPrimary
	}
	return router.Config{
		RoleMask:          ParseRoleMask(s.RoleMask),
		MaxReplicationLag: s.MaxReplicationLag,
		WriteServer:       s.WriteServer,
		DefaultHintKind:   kind,
		DefaultHintName:   s.DefaultHintName,
	}
}

// ToPoolConfig converts PoolConfig to the pool package's Config.
func (c PoolConfig) ToPoolConfig() pool.Config {
	return pool.Config{
		Capacity:    c.Capacity,
		IdleTimeout: c.IdleTimeout,
		AcquireWait: c.AcquireWait,
	}
}

// ToMonitorConfig converts MonitorConfig to the monitor package's Config.
func (c MonitorConfig) ToMonitorConfig() monitor.Config {
	return monitor.Config{
		ProbeInterval:          c.ProbeInterval,
		ConnectTimeout:         c.ConnectTimeout,
		ReadTimeout:            c.ReadTimeout,
		WriteTimeout:           c.WriteTimeout,
		ScriptHook:             c.ScriptHook,
		EventMask:              monitor.ParseEventNames(c.Events),
		DiskSpaceCheckInterval: c.DiskSpaceCheckInterval,
		JournalPath:            c.JournalPath,
		JournalMaxAge:          c.JournalMaxAge,
		DetectStalePrimary:     c.DetectStalePrimary,
		Credentials:            monitor.Credentials{User: c.User, Password: c.Password},
	}
}

// ToWorkerPoolConfig converts WorkerPoolConfig to the workerpool package's
// Config.
func (c WorkerPoolConfig) ToWorkerPoolConfig() workerpool.Config {
	return workerpool.Config{
		WorkerCount:       c.WorkerCount,
		InboxSize:         c.InboxSize,
		RebalanceInterval: c.RebalanceInterval,
		RebalanceMargin:   c.RebalanceMargin,
	}
}
