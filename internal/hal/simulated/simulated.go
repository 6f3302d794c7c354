// Package simulated provides a no-op hal.Hardware backend used by unit
// tests for the components above the hardware abstraction (sensor
// poller, control engine): it never touches real ports or pins, and
// lets a test script drive readings and record written relay commands.
// Grounded on the teacher's GPIO controller simulation mode
// (Controller.SetSimulated/IsSimulated).
package simulated

import (
	"context"
	"sync"

	"github.com/wrale/heatpump-thermostat/internal/hal"
)

// Backend is a fully in-memory hal.Hardware implementation.
type Backend struct {
	mu sync.Mutex

	initErr    error
	nextReading hal.Reading
	hasReading  bool

	lastMode hal.RelayMode
	writes   []hal.RelayMode
	cleaned  bool
}

// New constructs a simulated backend.
func New() *Backend {
	return &Backend{}
}

// SetInitError makes the next Initialize call fail, for exercising
// probe-order fallback.
func (b *Backend) SetInitError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initErr = err
}

// SetReading queues the reading ReadSensor will return next.
func (b *Backend) SetReading(r hal.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextReading = r
	b.hasReading = true
}

// ClearReading makes the next ReadSensor call report no reading.
func (b *Backend) ClearReading() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hasReading = false
}

// LastMode returns the most recently written relay mode.
func (b *Backend) LastMode() hal.RelayMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastMode
}

// Writes returns every relay mode written so far, in order.
func (b *Backend) Writes() []hal.RelayMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]hal.RelayMode, len(b.writes))
	copy(out, b.writes)
	return out
}

// Cleaned reports whether Cleanup has been called.
func (b *Backend) Cleaned() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cleaned
}

func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initErr
}

func (b *Backend) WriteRelay(mode hal.RelayMode, cmd hal.RelayCommand) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastMode = mode
	b.writes = append(b.writes, mode)
}

func (b *Backend) ReadSensor(ctx context.Context) (hal.Reading, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasReading {
		return hal.Reading{}, false
	}
	return b.nextReading, true
}

func (b *Backend) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleaned = true
	return nil
}
