// Package config loads nrfnetd's daemon configuration from a TOML file,
// applying defaults for anything the file leaves unspecified.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds everything nrfnetd needs to wire up a Transport, store, and
// monitor HTTP server.
type Config struct {
	StationAddress    uint32
	BeaconInterval    time.Duration
	SendTimeout       time.Duration
	StorePath         string
	MonitorListenAddr string
}

// Default returns the built-in configuration used when a file omits a
// setting.
func Default() Config {
	return Config{
		StationAddress:    0x00000001,
		BeaconInterval:    100 * time.Millisecond,
		SendTimeout:       2 * time.Second,
		StorePath:         "nrfnetd.db",
		MonitorListenAddr: ":8088",
	}
}

type fileConfig struct {
	StationAddress    string `toml:"station_address"`
	BeaconInterval    string `toml:"beacon_interval"`
	SendTimeout       string `toml:"send_timeout"`
	StorePath         string `toml:"store_path"`
	MonitorListenAddr string `toml:"monitor_listen_addr"`
}

// Load reads and parses the TOML file at path, starting from Default()
// and overriding only the fields the file defines.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	if meta.IsDefined("station_address") {
		addr, err := parseAddress(raw.StationAddress)
		if err != nil {
			return Config{}, fmt.Errorf("config: station_address: %w", err)
		}
		if addr == 0 || addr == 0xFFFFFFFF {
			return Config{}, fmt.Errorf("config: station_address %#x is reserved", addr)
		}
		cfg.StationAddress = addr
	}

	if meta.IsDefined("beacon_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BeaconInterval))
		if err != nil {
			return Config{}, fmt.Errorf("config: beacon_interval: %w", err)
		}
		cfg.BeaconInterval = d
	}

	if meta.IsDefined("send_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SendTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("config: send_timeout: %w", err)
		}
		cfg.SendTimeout = d
	}

	if meta.IsDefined("store_path") {
		if v := strings.TrimSpace(raw.StorePath); v != "" {
			cfg.StorePath = v
		}
	}

	if meta.IsDefined("monitor_listen_addr") {
		if v := strings.TrimSpace(raw.MonitorListenAddr); v != "" {
			cfg.MonitorListenAddr = v
		}
	}

	return cfg, nil
}

func parseAddress(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	var addr uint32
	if _, err := fmt.Sscanf(s, "%x", &addr); err != nil {
		return 0, fmt.Errorf("invalid station address %q: %w", s, err)
	}
	return addr, nil
}
