package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRelayCommands() RelayCommandSet {
	return RelayCommandSet{
		Off:       RelayCommand{0x00},
		FanOnly:   RelayCommand{0x01},
		Cool:      RelayCommand{0x02},
		Heat:      RelayCommand{0x04},
		Emergency: RelayCommand{0x08},
	}
}

func TestConfig_Validate(t *testing.T) {
	base := Defaults()
	base.DeviceID = "device-1"
	base.RelayPins = []int{4, 17, 27, 22}
	base.DHTSensorPin = 23
	base.RelayCommands = validRelayCommands()

	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, expectError: false},
		{
			name:        "bad deployment type",
			mutate:      func(c *Config) { c.DeploymentType = "Bogus" },
			expectError: true,
		},
		{
			name:        "bad mode",
			mutate:      func(c *Config) { c.Mode = "BSD" },
			expectError: true,
		},
		{
			name:        "bad temperature unit",
			mutate:      func(c *Config) { c.TemperatureUnit = "K" },
			expectError: true,
		},
		{
			name:        "duplicate relay pins",
			mutate:      func(c *Config) { c.RelayPins = []int{4, 4, 27, 22} },
			expectError: true,
		},
		{
			name:        "dht pin overlaps relay pin",
			mutate:      func(c *Config) { c.DHTSensorPin = 4 },
			expectError: true,
		},
		{
			name:        "too few relay pins",
			mutate:      func(c *Config) { c.RelayPins = []int{4, 17} },
			expectError: true,
		},
		{
			name:        "empty relay command",
			mutate:      func(c *Config) { c.RelayCommands.Heat = nil },
			expectError: true,
		},
		{
			name:        "ftdi enabled without serial number",
			mutate:      func(c *Config) { c.EnableFTDIRelay = true; c.FTDISerialNumber = "" },
			expectError: true,
		},
		{
			name:        "server deployment skips hardware validation",
			mutate:      func(c *Config) { c.DeploymentType = DeploymentServer; c.RelayPins = nil; c.RelayCommands = RelayCommandSet{} },
			expectError: false,
		},
		{
			name:        "missing device id",
			mutate:      func(c *Config) { c.DeviceID = "" },
			expectError: true,
		},
		{
			name:        "negative compressor cool-down",
			mutate:      func(c *Config) { c.CompressorMinOffMinutes = -1 },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.RelayPins = append([]int(nil), base.RelayPins...)
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_ParsesAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	raw := map[string]interface{}{
		"device_id":           "dev-1",
		"relay_pins":          []int{4, 17, 27, 22},
		"dht_sensor_pin":      23,
		"temperature_unit":    "F",
		"relay_commands": map[string]interface{}{
			"off":       0,
			"fan_only":  "0x01",
			"cool":      "0x02",
			"heat":      "0b00000100",
			"emergency": []int{8, 9},
		},
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", cfg.DeviceID)
	assert.Equal(t, RelayCommand{0x01}, cfg.RelayCommands.FanOnly)
	assert.Equal(t, RelayCommand{0x04}, cfg.RelayCommands.Heat)
	assert.Equal(t, RelayCommand{0x08, 0x09}, cfg.RelayCommands.Emergency)
	// Defaults not present in the file still apply.
	assert.Equal(t, 9600, cfg.BaudRate)
	assert.Equal(t, 5001, cfg.APIPort)
}

func TestLoad_RejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"device_id": ""}`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
