package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.DBPath != "./port-registry.db" {
		t.Errorf("DBPath = %q, want default", cfg.DBPath)
	}
	if cfg.SocketPath != "/tmp/port-daddy.sock" {
		t.Errorf("SocketPath = %q, want default", cfg.SocketPath)
	}
	if cfg.HTTPPort != 9876 {
		t.Errorf("HTTPPort = %d, want 9876", cfg.HTTPPort)
	}
	if cfg.PortRangeMin != 3100 || cfg.PortRangeMax != 9999 {
		t.Errorf("port range = [%d, %d], want [3100, 9999]", cfg.PortRangeMin, cfg.PortRangeMax)
	}
	if len(cfg.ReservedPorts) != 2 || cfg.ReservedPorts[0] != 8080 || cfg.ReservedPorts[1] != 8000 {
		t.Errorf("ReservedPorts = %v, want [8080, 8000]", cfg.ReservedPorts)
	}
	if cfg.AgentTTL != 2*time.Minute {
		t.Errorf("AgentTTL = %v, want 2m", cfg.AgentTTL)
	}
	if cfg.StaleAfter != 10*time.Minute || cfg.DeadAfter != 20*time.Minute {
		t.Errorf("thresholds = %v/%v, want 10m/20m", cfg.StaleAfter, cfg.DeadAfter)
	}
	if cfg.LockDefaultTTL != 5*time.Minute || cfg.LockMaxTTL != time.Hour {
		t.Errorf("lock ttls = %v/%v, want 5m/1h", cfg.LockDefaultTTL, cfg.LockMaxTTL)
	}
	if cfg.JanitorInterval != 5*time.Second {
		t.Errorf("JanitorInterval = %v, want 5s", cfg.JanitorInterval)
	}
	if cfg.ActivityLogCap != 10000 {
		t.Errorf("ActivityLogCap = %d, want 10000", cfg.ActivityLogCap)
	}
	if cfg.WebhookQueueCap != 10000 || cfg.WebhookMax != 100 {
		t.Errorf("webhook caps = %d/%d, want 10000/100", cfg.WebhookQueueCap, cfg.WebhookMax)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("PORT_DADDY_DB", "/tmp/custom.db")
	t.Setenv("PORT_DADDY_HTTP_PORT", "9999")
	t.Setenv("PORT_DADDY_AGENT_TTL", "30s")
	t.Setenv("PORT_DADDY_RESERVED_PORTS", "1111, 2222 ,3333")

	cfg := Load()

	if cfg.DBPath != "/tmp/custom.db" {
		t.Errorf("DBPath = %q, want override", cfg.DBPath)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("HTTPPort = %d, want 9999", cfg.HTTPPort)
	}
	if cfg.AgentTTL != 30*time.Second {
		t.Errorf("AgentTTL = %v, want 30s", cfg.AgentTTL)
	}
	if len(cfg.ReservedPorts) != 3 || cfg.ReservedPorts[0] != 1111 || cfg.ReservedPorts[2] != 3333 {
		t.Errorf("ReservedPorts = %v, want [1111 2222 3333]", cfg.ReservedPorts)
	}
}

func TestLoadIgnoresMalformedOverrides(t *testing.T) {
	t.Setenv("PORT_DADDY_HTTP_PORT", "not-a-number")
	t.Setenv("PORT_DADDY_AGENT_TTL", "not-a-duration")

	cfg := Load()

	if cfg.HTTPPort != 9876 {
		t.Errorf("HTTPPort = %d, want fallback default on malformed input", cfg.HTTPPort)
	}
	if cfg.AgentTTL != 2*time.Minute {
		t.Errorf("AgentTTL = %v, want fallback default on malformed input", cfg.AgentTTL)
	}
}
