package gpio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/wrale/heatpump-thermostat/internal/hal"
)

// joinTimeout bounds how long Cleanup waits for the native polling
// thread to terminate before it stops waiting.
const joinTimeout = 15 * time.Second

// RelayPinSet names the four output pins driving the relay bank, one
// per logical mode slot: fan, compressor/cool, heat, emergency. The
// off command de-asserts whichever of these are active.
type RelayPinSet struct {
	Fan       int
	Cool      int
	Heat      int
	Emergency int
}

// Config configures the GPIO backend.
type Config struct {
	Relays      RelayPinSet
	SensorPin   int
	ActiveLow   bool
	Fahrenheit  bool // convert native Celsius readings to Fahrenheit
}

// Backend is the GPIO hal.Hardware implementation. Relay writes go
// through periph.io; sensor reads go through the native pigpio polling
// thread (see pigpio.go).
type Backend struct {
	cfg Config
	log *zap.Logger

	mu   sync.Mutex
	pins map[int]gpio.PinIO
}

// New constructs a GPIO backend. Initialize must be called before use.
func New(cfg Config, log *zap.Logger) (*Backend, error) {
	if err := validatePins(cfg); err != nil {
		return nil, err
	}
	return &Backend{cfg: cfg, log: log.Named("hal.gpio"), pins: make(map[int]gpio.PinIO)}, nil
}

// validatePins enforces the pin-exclusivity invariant from §4.A: the
// relay pin set contains no duplicates, and the sensor pin does not
// overlap any relay pin.
func validatePins(cfg Config) error {
	relayPins := []int{cfg.Relays.Fan, cfg.Relays.Cool, cfg.Relays.Heat, cfg.Relays.Emergency}
	seen := make(map[int]bool, len(relayPins))
	for _, p := range relayPins {
		if seen[p] {
			return fmt.Errorf("gpio: duplicate relay pin %d", p)
		}
		seen[p] = true
	}
	if seen[cfg.SensorPin] {
		return fmt.Errorf("gpio: sensor pin %d overlaps a relay pin", cfg.SensorPin)
	}
	return nil
}

// Initialize opens the periph.io host driver, resolves the four relay
// pins, and starts the native sensor polling thread.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := host.Init(); err != nil {
		return &hal.ProbeFailure{Backend: "gpio", Reason: hal.DriverMissing, Err: err}
	}

	for _, pin := range []int{b.cfg.Relays.Fan, b.cfg.Relays.Cool, b.cfg.Relays.Heat, b.cfg.Relays.Emergency} {
		p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
		if p == nil {
			return &hal.ProbeFailure{Backend: "gpio", Reason: hal.PortNotFound, Err: fmt.Errorf("pin GPIO%d not found", pin)}
		}
		level := gpio.Low
		if b.cfg.ActiveLow {
			level = gpio.High
		}
		if err := p.Out(level); err != nil {
			return &hal.ProbeFailure{Backend: "gpio", Reason: hal.PermissionDenied, Err: err}
		}
		b.pins[pin] = p
	}

	if err := acquirePigpio(b.cfg.SensorPin); err != nil {
		return &hal.ProbeFailure{Backend: "gpio", Reason: hal.DriverMissing, Err: err}
	}

	return nil
}

// WriteRelay asserts the given mode by driving the corresponding pin(s)
// active and all others inactive. The cmd bytes are accepted for
// interface uniformity with the other backends but are not interpreted
// here: GPIO relays are addressed by pin, not by byte sequence.
func (b *Backend) WriteRelay(mode hal.RelayMode, cmd hal.RelayCommand) {
	b.mu.Lock()
	defer b.mu.Unlock()

	active := map[int]bool{
		b.cfg.Relays.Fan:       mode == hal.RelayFanOnly || mode == hal.RelayCool,
		b.cfg.Relays.Cool:      mode == hal.RelayCool,
		b.cfg.Relays.Heat:      mode == hal.RelayHeat,
		b.cfg.Relays.Emergency: mode == hal.RelayEmergency,
	}

	for pinNum, p := range b.pins {
		want := active[pinNum]
		level := gpio.Low
		if want != b.cfg.ActiveLow {
			level = gpio.High
		}
		if err := p.Out(level); err != nil {
			b.log.Error("relay pin write failed", zap.Int("pin", pinNum), zap.Error(err))
		}
	}
}

// ReadSensor returns the native polling thread's latest valid reading.
func (b *Backend) ReadSensor(ctx context.Context) (hal.Reading, bool) {
	temp, hum, ok := readNative(b.cfg.Fahrenheit)
	if !ok {
		return hal.Reading{}, false
	}
	return hal.Reading{Temperature: temp, Humidity: hum, ObservedAt: time.Now()}, true
}

// Cleanup de-asserts every relay pin, then signals and joins the native
// polling thread.
func (b *Backend) Cleanup(ctx context.Context) error {
	b.WriteRelay(hal.RelayOff, nil)
	releasePigpio(joinTimeout)
	return nil
}
