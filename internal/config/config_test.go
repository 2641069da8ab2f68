package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() failed Validate(): %v", err)
	}
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	yamlContent := `
can_buses:
  - name: CAN1
    backend: socketcan
    channel: can0
    baudrate: 500000
    enabled: true
  - name: CAN2
    backend: serial
    channel: /dev/ttyUSB0
    baudrate: 250000
    enabled: true
diff_mode:
  enabled: true
  mode: highlight
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(cfg.CANBuses) != 2 {
		t.Fatalf("expected 2 buses, got %d", len(cfg.CANBuses))
	}
	if cfg.LogFormat != "text" || cfg.LogLevel != "info" {
		t.Fatalf("expected default log_format/log_level to survive merge, got %q/%q", cfg.LogFormat, cfg.LogLevel)
	}
	if !cfg.DiffMode.Enabled || cfg.DiffMode.Mode != "highlight" {
		t.Fatalf("expected diff_mode overrides to apply, got %#v", cfg.DiffMode)
	}
	if cfg.DiffMode.MinMessageRate != 10.0 {
		t.Fatalf("expected default min_message_rate to survive merge, got %v", cfg.DiffMode.MinMessageRate)
	}
}

func TestLoad_ParsesGatewaySection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	yamlContent := `
gateway:
  enabled: true
  loop_prevention_enabled: true
  max_hops: 2
  routes:
    - source: CAN1
      destination: CAN2
      enabled: true
  block_rules:
    - can_id: 291
      channel: CAN1
      enabled: true
      block_display: true
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !cfg.Gateway.Enabled || cfg.Gateway.MaxHops != 2 {
		t.Fatalf("expected gateway section to parse, got %#v", cfg.Gateway)
	}
	if len(cfg.Gateway.Routes) != 1 || cfg.Gateway.Routes[0].Destination != "CAN2" {
		t.Fatalf("expected one route to CAN2, got %#v", cfg.Gateway.Routes)
	}
	if len(cfg.Gateway.BlockRules) != 1 || cfg.Gateway.BlockRules[0].CANID != 291 {
		t.Fatalf("expected one block rule for CAN ID 291, got %#v", cfg.Gateway.BlockRules)
	}
}

func TestValidate_RejectsDuplicateBusNames(t *testing.T) {
	cfg := Default()
	cfg.CANBuses = append(cfg.CANBuses, BusConfig{Name: "CAN1", Backend: "serial", Channel: "/dev/ttyUSB0"})
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected duplicate bus name to fail validation")
	}
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.CANBuses[0].Backend = "bluetooth"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown backend to fail validation")
	}
}

func TestValidate_RejectsInvalidDiffMode(t *testing.T) {
	cfg := Default()
	cfg.DiffMode.Mode = "loud"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid diff_mode.mode to fail validation")
	}
}

func TestApplyEnvOverrides_OnlyFillsZeroValues(t *testing.T) {
	t.Setenv("CAN_GATEWAY_METRICS_ADDR", ":9100")
	t.Setenv("CAN_GATEWAY_HTTP_ADDR", ":8081")

	cfg := Default()
	cfg.HTTPAddr = ":8080" // explicit YAML value should win
	cfg.ApplyEnvOverrides()

	if cfg.MetricsAddr != ":9100" {
		t.Fatalf("MetricsAddr = %q, want :9100 (env fills zero value)", cfg.MetricsAddr)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want :8080 (explicit value must win over env)", cfg.HTTPAddr)
	}
}
