package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nrfnetd.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeTempConfig(t, `station_address = "0xCAFEBABE"`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StationAddress != 0xCAFEBABE {
		t.Errorf("StationAddress = %#x, want 0xCAFEBABE", cfg.StationAddress)
	}
	if cfg.BeaconInterval != Default().BeaconInterval {
		t.Errorf("BeaconInterval = %v, want default %v", cfg.BeaconInterval, Default().BeaconInterval)
	}
	if cfg.StorePath != Default().StorePath {
		t.Errorf("StorePath = %v, want default %v", cfg.StorePath, Default().StorePath)
	}
}

func TestLoadOverridesAllFields(t *testing.T) {
	path := writeTempConfig(t, `
station_address = "1000"
beacon_interval = "50ms"
send_timeout = "3s"
store_path = "/tmp/custom.db"
monitor_listen_addr = ":9090"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StationAddress != 0x1000 {
		t.Errorf("StationAddress = %#x, want 0x1000", cfg.StationAddress)
	}
	if cfg.BeaconInterval != 50*time.Millisecond {
		t.Errorf("BeaconInterval = %v, want 50ms", cfg.BeaconInterval)
	}
	if cfg.SendTimeout != 3*time.Second {
		t.Errorf("SendTimeout = %v, want 3s", cfg.SendTimeout)
	}
	if cfg.StorePath != "/tmp/custom.db" {
		t.Errorf("StorePath = %v, want /tmp/custom.db", cfg.StorePath)
	}
	if cfg.MonitorListenAddr != ":9090" {
		t.Errorf("MonitorListenAddr = %v, want :9090", cfg.MonitorListenAddr)
	}
}

func TestLoadRejectsMalformedAddress(t *testing.T) {
	path := writeTempConfig(t, `station_address = "not-hex!"`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want error for malformed station_address")
	}
}
