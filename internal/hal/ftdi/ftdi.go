// Package ftdi implements the FTDI hardware variant: an FTDI USB device
// opened by serial number in bit-bang mode with all 8 pins as outputs,
// composing a separate sensor sub-backend (serial-bridge or GPIO) for
// reads rather than inheriting from it. Grounded on the periph.io FTDI
// driver's MPSSE/bit-bang pin model (periph-host and periph-extra d2xx
// in the retrieval pack).
//
// Per the open question in §9: the sensor sub-backend is a
// configuration choice made at probe time, never GPIO-sensor-with-
// GPIO-relay when an FTDI device is present (the pins would be
// ambiguous), so the sub-backend here is always serial-bridge or the
// native GPIO sensor path, never another FTDI instance.
package ftdi

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3/ftdi"

	"github.com/wrale/heatpump-thermostat/internal/hal"
)

// SensorBackend is the minimal surface ftdi.Backend needs from its
// composed sensor sub-backend.
type SensorBackend interface {
	Initialize(ctx context.Context) error
	ReadSensor(ctx context.Context) (hal.Reading, bool)
	Cleanup(ctx context.Context) error
}

// RelayBitPins maps logical relay modes onto the 8 bit-bang output
// pins, matching how the serial-bridge and GPIO variants address their
// relay bank by position rather than by voltage level semantics.
type RelayBitPins struct {
	Fan       int
	Cool      int
	Heat      int
	Emergency int
}

// Config configures the FTDI backend.
type Config struct {
	SerialNumber string
	Relays       RelayBitPins
}

// Backend is the FTDI hal.Hardware implementation.
type Backend struct {
	cfg    Config
	log    *zap.Logger
	sensor SensorBackend

	dev  ftdi.Dev
	pins [8]gpio.PinIO

	mu sync.Mutex // serializes WriteRelay
}

// New constructs an FTDI backend that delegates sensor reads to sensor.
func New(cfg Config, sensor SensorBackend, log *zap.Logger) *Backend {
	return &Backend{cfg: cfg, sensor: sensor, log: log.Named("hal.ftdi")}
}

// Initialize opens the named FTDI device, switches it into bit-bang
// mode with all 8 pins as outputs, and initializes the composed sensor
// sub-backend.
func (b *Backend) Initialize(ctx context.Context) error {
	devs := ftdi.All()
	var found ftdi.Dev
	for _, d := range devs {
		if d.String() == b.cfg.SerialNumber {
			found = d
			break
		}
	}
	if found == nil {
		return &hal.ProbeFailure{Backend: "ftdi", Reason: hal.PortNotFound, Err: fmt.Errorf("no FTDI device with serial %q", b.cfg.SerialNumber)}
	}
	b.dev = found

	pins, err := bitBangPins(found)
	if err != nil {
		return &hal.ProbeFailure{Backend: "ftdi", Reason: hal.ConfigIncompatible, Err: err}
	}
	for i, p := range pins {
		if err := p.Out(gpio.Low); err != nil {
			return &hal.ProbeFailure{Backend: "ftdi", Reason: hal.PermissionDenied, Err: err}
		}
		b.pins[i] = p
	}

	if err := b.sensor.Initialize(ctx); err != nil {
		return err
	}
	return nil
}

// WriteRelay drives the pins assigned to mode high and all others low.
func (b *Backend) WriteRelay(mode hal.RelayMode, cmd hal.RelayCommand) {
	b.mu.Lock()
	defer b.mu.Unlock()

	active := map[int]bool{
		b.cfg.Relays.Fan:       mode == hal.RelayFanOnly || mode == hal.RelayCool,
		b.cfg.Relays.Cool:      mode == hal.RelayCool,
		b.cfg.Relays.Heat:      mode == hal.RelayHeat,
		b.cfg.Relays.Emergency: mode == hal.RelayEmergency,
	}
	for i, p := range b.pins {
		if p == nil {
			continue
		}
		level := gpio.Low
		if active[i] {
			level = gpio.High
		}
		if err := p.Out(level); err != nil {
			b.log.Error("ftdi pin write failed", zap.Int("pin", i), zap.Error(err))
		}
	}
}

// ReadSensor delegates to the composed sensor sub-backend.
func (b *Backend) ReadSensor(ctx context.Context) (hal.Reading, bool) {
	return b.sensor.ReadSensor(ctx)
}

// Cleanup de-asserts all pins, closes the sensor sub-backend, and
// releases the FTDI device.
func (b *Backend) Cleanup(ctx context.Context) error {
	b.WriteRelay(hal.RelayOff, nil)

	var firstErr error
	if err := b.sensor.Cleanup(ctx); err != nil {
		firstErr = err
	}
	if closer, ok := b.dev.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// bitBangPins returns the 8 GPIO-style pins exposed by an FTDI device
// in MPSSE bit-bang mode (D0-D7 on the ADBus header).
func bitBangPins(dev ftdi.Dev) ([8]gpio.PinIO, error) {
	var pins [8]gpio.PinIO
	header, ok := dev.(interface {
		D0() gpio.PinIO
		D1() gpio.PinIO
		D2() gpio.PinIO
		D3() gpio.PinIO
		D4() gpio.PinIO
		D5() gpio.PinIO
		D6() gpio.PinIO
		D7() gpio.PinIO
	})
	if !ok {
		return pins, fmt.Errorf("ftdi device does not expose an 8-bit ADBus header")
	}
	pins = [8]gpio.PinIO{header.D0(), header.D1(), header.D2(), header.D3(), header.D4(), header.D5(), header.D6(), header.D7()}
	return pins, nil
}
