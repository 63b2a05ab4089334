package config

import (
	"strings"
	"testing"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{Bus: BusConfig{URL: "mqtt://broker:1883"}}
	cfg.ApplyDefaults()

	if cfg.Initiator == "" || !strings.HasPrefix(cfg.Initiator, "go-sdk-") {
		t.Errorf("initiator not auto-generated: %q", cfg.Initiator)
	}
	if cfg.State != StateInternal {
		t.Errorf("state: got %q want %q", cfg.State, StateInternal)
	}
	if got := []int{cfg.Threads.Heartbeats, cfg.Threads.Notifications, cfg.Threads.Payloads}; got[0] != 1 || got[1] != 1 || got[2] != 1 {
		t.Errorf("thread defaults: got %v", got)
	}
	if len(cfg.Fleet) != 1 || cfg.Fleet[0] != "*" {
		t.Errorf("fleet default: got %v", cfg.Fleet)
	}
}

func TestValidateMissingBusURL(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing bus.url")
	}
}

func TestValidateExternalNeedsHost(t *testing.T) {
	cfg := &Config{
		Bus:   BusConfig{URL: "mqtt://broker:1883"},
		State: StateExternal,
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing external.host")
	}

	cfg.External.Host = "localhost"
	cfg.External.Port = 6379
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if cfg.External.Addr() != "localhost:6379" {
		t.Errorf("Addr: got %q", cfg.External.Addr())
	}
}

func TestValidateUnknownStateManager(t *testing.T) {
	cfg := &Config{
		Bus:   BusConfig{URL: "mqtt://broker:1883"},
		State: "galactic",
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown state manager")
	}
}
