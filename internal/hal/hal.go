// Package hal is the hardware abstraction layer (component A): a single
// capability set — initialize, write relay, read sensor, cleanup —
// implemented by three backends (serial-bridge, GPIO, FTDI) so the
// control engine can drive any of them identically. Grounded on the
// teacher's metal package: a small public interface with internal
// variants registered behind constructors, except probe selection here
// is a static, spec-defined order rather than a runtime factory
// registry (§4.A has no notion of swapping backends at runtime).
package hal

import (
	"context"
	"time"

	"github.com/wrale/heatpump-thermostat/pkg/config"
)

// RelayCommand is the byte sequence written to the relay controller for
// one logical mode. Backends only ever index the five commands parsed
// from configuration; they never synthesize bytes.
type RelayCommand = config.RelayCommand

// RelayMode names the five logical relay states a backend can be asked
// to assert.
type RelayMode string

const (
	RelayOff       RelayMode = "off"
	RelayFanOnly   RelayMode = "fan_only"
	RelayCool      RelayMode = "cool"
	RelayHeat      RelayMode = "heat"
	RelayEmergency RelayMode = "emergency"
)

// Reading is an immutable sensor sample. Once emitted by a Hardware
// backend it is never mutated; invalid readings are never emitted.
type Reading struct {
	Temperature float64 // in the unit configured for the device
	Humidity    float64 // percent, 0-100
	ObservedAt  time.Time
}

// Hardware is the uniform interface component A exposes to the sensor
// poller and control engine, regardless of backend.
//
// WriteRelay never returns an error through this interface: internal
// failures are logged by the implementation and the call is a no-op,
// per §4.A. ReadSensor returns ok=false on any protocol or parse
// failure instead of an error, so callers never need to distinguish
// "no reading yet" from "transient failure" — the poller does that
// bookkeeping (component B).
type Hardware interface {
	// Initialize opens underlying handles. It may fail with a
	// ProbeFailure describing why (port not found, device busy, ...).
	Initialize(ctx context.Context) error

	// WriteRelay asserts the relay bytes for mode. Implementations
	// serialize concurrent calls internally.
	WriteRelay(mode RelayMode, cmd RelayCommand)

	// ReadSensor returns the latest sensor reading, or ok=false if the
	// read failed for any reason.
	ReadSensor(ctx context.Context) (reading Reading, ok bool)

	// Cleanup releases all acquired handles. The GPIO and FTDI
	// backends drive every relay output off before releasing; the
	// serial-bridge backend closes its ports without writing relay
	// bytes.
	Cleanup(ctx context.Context) error
}

// ProbeFailureReason enumerates why Initialize failed, per §4.A.
type ProbeFailureReason string

const (
	PortNotFound        ProbeFailureReason = "port_not_found"
	DeviceBusy          ProbeFailureReason = "device_busy"
	PermissionDenied    ProbeFailureReason = "permission_denied"
	DriverMissing       ProbeFailureReason = "driver_missing"
	ConfigIncompatible  ProbeFailureReason = "config_incompatible"
)

// ProbeFailure is returned from Initialize when a backend cannot start.
type ProbeFailure struct {
	Backend string
	Reason  ProbeFailureReason
	Err     error
}

func (f *ProbeFailure) Error() string {
	if f.Err != nil {
		return f.Backend + ": " + string(f.Reason) + ": " + f.Err.Error()
	}
	return f.Backend + ": " + string(f.Reason)
}

func (f *ProbeFailure) Unwrap() error { return f.Err }
