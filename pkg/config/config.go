// Package config loads and validates the controller's persisted JSON
// configuration, grounded on the teacher's JSON-backed configuration
// structs, scoped down to a single file for a single device (no
// template/version/tenant machinery — that belongs to the out-of-scope
// server role).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/wrale/heatpump-thermostat/internal/herrors"
)

// DeploymentType selects which components run on this device.
type DeploymentType string

const (
	DeploymentThermostat   DeploymentType = "Thermostat"
	DeploymentProbe        DeploymentType = "Probe"
	DeploymentServer       DeploymentType = "Server"
	DeploymentHybridProbe  DeploymentType = "HybridProbe"
	DeploymentHybridThermo DeploymentType = "HybridThermo"
)

// HardwareMode restricts the hardware probe order (component A).
type HardwareMode string

const (
	ModeAuto    HardwareMode = "Auto"
	ModeWindows HardwareMode = "Windows"
	ModeLinux   HardwareMode = "Linux"
)

// TemperatureUnit selects the unit for all temperatures in the API and
// logs.
type TemperatureUnit string

const (
	UnitFahrenheit TemperatureUnit = "F"
	UnitCelsius    TemperatureUnit = "C"
)

// Config is the full set of recognized configuration keys from the
// external interfaces section of the specification.
type Config struct {
	DeploymentType DeploymentType `json:"deployment_type"`
	Mode           HardwareMode   `json:"mode"`

	ArduinoComPort string `json:"arduino_com_port"`
	RelayComPort   string `json:"relay_com_port"`
	BaudRate       int    `json:"baud_rate"`
	ComTimeoutMs   int    `json:"com_timeout_ms"`

	EnableFTDIRelay  bool   `json:"enable_ftdi_relay"`
	FTDISerialNumber string `json:"ftdi_serial_number"`

	RelayPins    []int `json:"relay_pins"`
	DHTSensorPin int   `json:"dht_sensor_pin"`

	RelayCommands RelayCommandSet `json:"relay_commands"`

	TemperatureUnit TemperatureUnit `json:"temperature_unit"`

	CoolingOffset                   float64 `json:"cooling_offset"`
	HeatingOffset                   float64 `json:"heating_offset"`
	TemperatureDifferenceThreshold  float64 `json:"temperature_difference_threshold"`
	MinimumHeatingRatePer10Min      float64 `json:"minimum_heating_rate_per_10min"`
	CompressorMinOffMinutes         float64 `json:"compressor_min_off_minutes"`

	SensorPollIntervalSeconds int `json:"sensor_poll_interval_seconds"`
	DataSendIntervalSeconds   int `json:"data_send_interval_seconds"`
	ControlLoopIntervalMs     int `json:"control_loop_interval_ms"`

	HTTPRetryCount        int `json:"http_retry_count"`
	SensorFailureThreshold int `json:"sensor_failure_threshold"`

	APIHost string `json:"api_host"`
	APIPort int    `json:"api_port"`

	VMServer string `json:"vm_server"`

	DeviceID                     string  `json:"device_id"`
	DefaultUserSetTemperature    float64 `json:"default_user_set_temperature"`
}

// Defaults returns a Config with every documented default applied. Load
// starts from this before overlaying the file on disk.
func Defaults() Config {
	return Config{
		DeploymentType:            DeploymentThermostat,
		Mode:                      ModeAuto,
		BaudRate:                  9600,
		ComTimeoutMs:              2000,
		TemperatureUnit:           UnitFahrenheit,
		CoolingOffset:             0.5,
		HeatingOffset:             0.5,
		TemperatureDifferenceThreshold: 1.3,
		CompressorMinOffMinutes:   3,
		SensorPollIntervalSeconds: 10,
		DataSendIntervalSeconds:   120,
		ControlLoopIntervalMs:     5000,
		HTTPRetryCount:            3,
		SensorFailureThreshold:    3,
		APIPort:                   5001,
		DefaultUserSetTemperature: 72,
	}
}

// Load reads, parses and validates the JSON configuration file at path.
// Any failure is wrapped as a ConfigInvalid error: the caller must
// refuse to start (nonzero exit code) rather than run with a partial
// configuration.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, herrors.Wrap(herrors.ConfigInvalid, "config.Load", "reading file", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, herrors.Wrap(herrors.ConfigInvalid, "config.Load", "parsing JSON", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, herrors.Wrap(herrors.ConfigInvalid, "config.Load", "validating", err)
	}

	return &cfg, nil
}

// Validate checks the invariants the specification requires before any
// component starts: pin exclusivity, non-empty relay commands, sane
// deployment/mode combinations, and positive intervals.
func (c *Config) Validate() error {
	switch c.DeploymentType {
	case DeploymentThermostat, DeploymentProbe, DeploymentServer, DeploymentHybridProbe, DeploymentHybridThermo:
	default:
		return &herrors.ValidationError{Field: "deployment_type", Value: c.DeploymentType, Err: fmt.Errorf("unrecognized deployment type")}
	}

	switch c.Mode {
	case ModeAuto, ModeWindows, ModeLinux:
	default:
		return &herrors.ValidationError{Field: "mode", Value: c.Mode, Err: fmt.Errorf("unrecognized hardware mode")}
	}

	switch c.TemperatureUnit {
	case UnitFahrenheit, UnitCelsius:
	default:
		return &herrors.ValidationError{Field: "temperature_unit", Value: c.TemperatureUnit, Err: fmt.Errorf("must be F or C")}
	}

	if c.RequiresControlLoop() {
		if len(c.RelayPins) > 0 {
			if err := validatePinExclusivity(c.RelayPins, c.DHTSensorPin); err != nil {
				return err
			}
			if len(c.RelayPins) < 4 {
				return &herrors.ValidationError{Field: "relay_pins", Value: c.RelayPins, Err: fmt.Errorf("need at least 4 pins for thermostat control")}
			}
		}

		if err := c.RelayCommands.Validate(); err != nil {
			return &herrors.ValidationError{Field: "relay_commands", Value: nil, Err: err}
		}

		if c.EnableFTDIRelay && c.FTDISerialNumber == "" {
			return &herrors.ValidationError{Field: "ftdi_serial_number", Value: c.FTDISerialNumber, Err: fmt.Errorf("required when enable_ftdi_relay is set")}
		}
	}

	if c.BaudRate <= 0 {
		return &herrors.ValidationError{Field: "baud_rate", Value: c.BaudRate, Err: fmt.Errorf("must be positive")}
	}
	if c.ComTimeoutMs <= 0 {
		return &herrors.ValidationError{Field: "com_timeout_ms", Value: c.ComTimeoutMs, Err: fmt.Errorf("must be positive")}
	}
	if c.SensorPollIntervalSeconds <= 0 {
		return &herrors.ValidationError{Field: "sensor_poll_interval_seconds", Value: c.SensorPollIntervalSeconds, Err: fmt.Errorf("must be positive")}
	}
	if c.DataSendIntervalSeconds <= 0 {
		return &herrors.ValidationError{Field: "data_send_interval_seconds", Value: c.DataSendIntervalSeconds, Err: fmt.Errorf("must be positive")}
	}
	if c.ControlLoopIntervalMs <= 0 {
		return &herrors.ValidationError{Field: "control_loop_interval_ms", Value: c.ControlLoopIntervalMs, Err: fmt.Errorf("must be positive")}
	}
	if c.CompressorMinOffMinutes < 0 {
		return &herrors.ValidationError{Field: "compressor_min_off_minutes", Value: c.CompressorMinOffMinutes, Err: fmt.Errorf("must not be negative")}
	}
	if c.DeviceID == "" {
		return &herrors.ValidationError{Field: "device_id", Value: c.DeviceID, Err: fmt.Errorf("required")}
	}

	return nil
}

// RequiresControlLoop reports whether this deployment type runs the core
// control engine (all non-Server types, per the external interfaces
// table). A Server-deployed device never probes hardware, polls a
// sensor, or ticks the control loop.
func (c *Config) RequiresControlLoop() bool {
	return c.DeploymentType != DeploymentServer
}

func validatePinExclusivity(relayPins []int, dhtPin int) error {
	seen := make(map[int]bool, len(relayPins))
	for _, p := range relayPins {
		if seen[p] {
			return &herrors.ValidationError{Field: "relay_pins", Value: relayPins, Err: fmt.Errorf("duplicate pin %d", p)}
		}
		seen[p] = true
	}
	if seen[dhtPin] {
		return &herrors.ValidationError{Field: "dht_sensor_pin", Value: dhtPin, Err: fmt.Errorf("overlaps a relay pin")}
	}
	return nil
}

// SensorPollInterval returns the poll interval as a time.Duration.
func (c *Config) SensorPollInterval() time.Duration {
	return time.Duration(c.SensorPollIntervalSeconds) * time.Second
}

// DataSendInterval returns the telemetry publish interval.
func (c *Config) DataSendInterval() time.Duration {
	return time.Duration(c.DataSendIntervalSeconds) * time.Second
}

// ControlLoopInterval returns the engine tick cadence.
func (c *Config) ControlLoopInterval() time.Duration {
	return time.Duration(c.ControlLoopIntervalMs) * time.Millisecond
}

// ComTimeout returns the per-operation serial timeout.
func (c *Config) ComTimeout() time.Duration {
	return time.Duration(c.ComTimeoutMs) * time.Millisecond
}

// CompressorMinOff returns the compressor cool-down minimum as a
// time.Duration.
func (c *Config) CompressorMinOff() time.Duration {
	return time.Duration(c.CompressorMinOffMinutes * float64(time.Minute))
}
