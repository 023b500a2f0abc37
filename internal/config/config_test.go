package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mariadb-corporation/maxscale-sub025/internal/registry"
	"github.com/mariadb-corporation/maxscale-sub025/internal/router"
)

func TestLoadAppliesDefaultsWithNoFlagsSet(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	BindFlags(cmd, v)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Monitor.ProbeInterval != Default().Monitor.ProbeInterval {
		t.Fatalf("got %v, want default probe interval", cfg.Monitor.ProbeInterval)
	}
	if cfg.WorkerPool.RebalanceMargin != 2 {
		t.Fatalf("got %d, want 2", cfg.WorkerPool.RebalanceMargin)
	}
}

func TestLoadHonoursExplicitFlagOverride(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	BindFlags(cmd, v)
	if err := cmd.Flags().Set("worker-count", "7"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkerPool.WorkerCount != 7 {
		t.Fatalf("got %d, want 7", cfg.WorkerPool.WorkerCount)
	}
}

func TestValidateRejectsListenerWithUnknownService(t *testing.T) {
	cfg := Default()
	cfg.Listeners = []ListenerConfig{{Name: "l1", Service: "missing"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown service reference")
	}
}

func TestValidateRejectsServiceWithUnknownServer(t *testing.T) {
	cfg := Default()
	cfg.Services = []ServiceConfig{{Name: "svc", Servers: []string{"missing"}}}
	cfg.Listeners = []ListenerConfig{{Name: "l1", Service: "svc"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown server reference")
	}
}

func TestValidateAcceptsConsistentTopology(t *testing.T) {
	cfg := Default()
	cfg.Servers = []ServerConfig{{Name: "m1"}}
	cfg.Services = []ServiceConfig{{Name: "svc", Servers: []string{"m1"}}}
	cfg.Listeners = []ListenerConfig{{Name: "l1", Service: "svc"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseRoleMaskCombinesBits(t *testing.T) {
	mask := ParseRoleMask([]string{"running", "PRIMARY"})
	if !mask.Has(registry.Running) || !mask.Has(registry.Primary) {
		t.Fatalf("got %v", mask)
	}
	if mask.Has(registry.Replica) {
		t.Fatalf("did not expect REPLICA set")
	}
}

func TestServiceConfigToRouterConfigDefaultsHintToPrimary(t *testing.T) {
	svc := ServiceConfig{RoleMask: []string{"RUNNING"}}
	rc := svc.ToRouterConfig()
	if rc.DefaultHintKind != router.HintPrimary {
		t.Fatalf("got %v, want HintPrimary", rc.DefaultHintKind)
	}
}

func TestServiceConfigToRouterConfigHonoursNamedHint(t *testing.T) {
	svc := ServiceConfig{DefaultHint: "named", DefaultHintName: "m1"}
	rc := svc.ToRouterConfig()
	if rc.DefaultHintKind != router.HintNamed || rc.DefaultHintName != "m1" {
		t.Fatalf("got %+v", rc)
	}
}
