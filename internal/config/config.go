// Package config manages persistent user preferences for the NT4 client.
// Settings are stored as JSON at os.UserConfigDir()/nt4client/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"nt4client/internal/address"
)

// Config holds all persistent user preferences.
type Config struct {
	ClientName            string        `json:"client_name"`
	LastMode              address.Mode  `json:"last_mode"`
	LastTeamNumber        int           `json:"last_team_number"`
	LastCustomHost        string        `json:"last_custom_host"`
	ConnectTimeoutMillis  int           `json:"connect_timeout_millis"`
	DisconnectRetryMillis int           `json:"disconnect_retry_millis"`
	Servers               []ServerEntry `json:"servers"`
}

// ServerEntry is a saved server shown in a server picker.
type ServerEntry struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		ClientName:            "nt4client",
		LastMode:              address.ModeLocalhost,
		ConnectTimeoutMillis:  5000,
		DisconnectRetryMillis: 1000,
		Servers: []ServerEntry{
			{Name: "Simulator", Addr: "localhost:5810"},
		},
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "nt4client", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned — never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
