// Package serialbridge implements the serial-bridge hardware variant:
// a microcontroller that answers a single request byte with a
// temperature/humidity line, plus a separate relay controller that
// accepts raw bytes. Grounded on the pack's serial-instrument drivers
// (nasa-jpl-golaborate's thermotek/lakeshore, cybojanek's gridfan),
// which all wrap github.com/tarm/serial behind a mutex-guarded struct.
package serialbridge

import (
	"bufio"
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"

	"github.com/wrale/heatpump-thermostat/internal/hal"
)

const settleDelay = 2 * time.Second

// requestByte is sent to the microcontroller to request a sample.
const requestByte = 'R'

// Config configures the two serial ports this backend opens.
type Config struct {
	ArduinoPort string
	RelayPort   string
	BaudRate    int
	Timeout     time.Duration
}

// Backend is the serial-bridge hal.Hardware implementation. A single
// mutex serializes access to both ports, matching the hardware
// abstraction's "internally serialized" requirement — external callers
// may invoke concurrently.
type Backend struct {
	cfg Config
	log *zap.Logger

	mu        sync.Mutex
	arduino   *serial.Port
	relay     *serial.Port
}

// New constructs a serial-bridge backend. Initialize must be called
// before use.
func New(cfg Config, log *zap.Logger) *Backend {
	return &Backend{cfg: cfg, log: log.Named("hal.serialbridge")}
}

// Initialize opens both serial ports and waits for them to settle.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	arduinoCfg := &serial.Config{Name: b.cfg.ArduinoPort, Baud: b.cfg.BaudRate, ReadTimeout: b.cfg.Timeout}
	arduino, err := serial.OpenPort(arduinoCfg)
	if err != nil {
		return &hal.ProbeFailure{Backend: "serialbridge", Reason: classifyOpenError(err), Err: err}
	}
	b.arduino = arduino

	relayCfg := &serial.Config{Name: b.cfg.RelayPort, Baud: b.cfg.BaudRate, ReadTimeout: b.cfg.Timeout}
	relay, err := serial.OpenPort(relayCfg)
	if err != nil {
		_ = b.arduino.Close()
		b.arduino = nil
		return &hal.ProbeFailure{Backend: "serialbridge", Reason: classifyOpenError(err), Err: err}
	}
	b.relay = relay

	// Ports need a settle period after open before they answer reliably.
	time.Sleep(settleDelay)
	return nil
}

// WriteRelay writes the relay command bytes. Per §4.A, failures never
// propagate through the interface: they are logged and the call is a
// no-op.
func (b *Backend) WriteRelay(mode hal.RelayMode, cmd hal.RelayCommand) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.relay == nil {
		b.log.Warn("write_relay called before initialize", zap.String("mode", string(mode)))
		return
	}
	if _, err := b.relay.Write(cmd); err != nil {
		b.log.Error("relay write failed", zap.String("mode", string(mode)), zap.Error(err))
	}
}

// ReadSensor requests a sample from the microcontroller and parses its
// response. Any protocol or parse failure yields ok=false.
func (b *Backend) ReadSensor(ctx context.Context) (hal.Reading, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.arduino == nil {
		return hal.Reading{}, false
	}

	// Discard stale input/output before each request.
	_ = b.arduino.Flush()

	if _, err := b.arduino.Write([]byte{requestByte}); err != nil {
		b.log.Debug("sensor request write failed", zap.Error(err))
		return hal.Reading{}, false
	}

	line, err := readLine(b.arduino)
	if err != nil {
		b.log.Debug("sensor response read failed", zap.Error(err))
		return hal.Reading{}, false
	}

	temp, hum, ok := parseSample(line)
	if !ok {
		b.log.Debug("sensor response malformed", zap.String("line", line))
		return hal.Reading{}, false
	}

	return hal.Reading{Temperature: temp, Humidity: hum, ObservedAt: time.Now()}, true
}

// Cleanup closes both handles. It writes no relay bytes first: the
// backend holds no OFF command of its own, so the relay controller
// keeps whatever command was last written through WriteRelay.
func (b *Backend) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	if b.relay != nil {
		if err := b.relay.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.relay = nil
	}
	if b.arduino != nil {
		if err := b.arduino.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.arduino = nil
	}
	return firstErr
}

// readLine reads a single "T:<float>,H:<float>\n" response, bounded so
// a silent microcontroller cannot hang the tick.
func readLine(port *serial.Port) (string, error) {
	reader := bufio.NewReader(port)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// parseSample parses "T:<float>,H:<float>" lines. Values are degrees
// Fahrenheit per the wire interface.
func parseSample(line string) (temp, hum float64, ok bool) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}

	t, tOK := parseField(parts[0], "T:")
	h, hOK := parseField(parts[1], "H:")
	if !tOK || !hOK {
		return 0, 0, false
	}
	return t, h, true
}

func parseField(field, prefix string) (float64, bool) {
	field = strings.TrimSpace(field)
	if !strings.HasPrefix(field, prefix) {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimPrefix(field, prefix), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func classifyOpenError(err error) hal.ProbeFailureReason {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "cannot find"):
		return hal.PortNotFound
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return hal.DeviceBusy
	case strings.Contains(msg, "permission"), strings.Contains(msg, "access is denied"):
		return hal.PermissionDenied
	default:
		return hal.DriverMissing
	}
}
