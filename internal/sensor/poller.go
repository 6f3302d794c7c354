// Package sensor implements the background sensor poller (component
// B): a periodic loop that keeps a shared "latest valid reading" slot
// fresh, with a warm-up policy so that a DHT22-class sensor's expected
// early failures don't spam operational logs. Grounded on the teacher's
// thermal manager monitor loop (ticker + context cancellation over a
// mutex-guarded state struct).
package sensor

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wrale/heatpump-thermostat/internal/hal"
	"github.com/wrale/heatpump-thermostat/pkg/metrics"
)

// WarmupSuccessCount is the number of successful reads after which the
// poller is considered "warmed up" — only then do consecutive failures
// beyond the configured threshold escalate to a warning.
const WarmupSuccessCount = 3

// Poller owns a periodic timer and a shared current-reading slot.
type Poller struct {
	hw       hal.Hardware
	interval time.Duration
	failureThreshold int
	log      *zap.Logger

	mu                   sync.RWMutex
	current              *hal.Reading
	successfulReads      int
	consecutiveFailures  int
	metrics              *metrics.Collectors
}

// SetMetrics wires the prometheus collectors this poller updates. A nil
// collector (the default) disables all metric updates.
func (p *Poller) SetMetrics(m *metrics.Collectors) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
}

// New constructs a sensor poller. Run must be started in its own
// goroutine.
func New(hw hal.Hardware, interval time.Duration, failureThreshold int, log *zap.Logger) *Poller {
	return &Poller{
		hw:               hw,
		interval:         interval,
		failureThreshold: failureThreshold,
		log:              log.Named("sensor.poller"),
	}
}

// Run executes the poll loop until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	reading, ok := p.hw.ReadSensor(ctx)
	if !ok {
		p.recordFailure()
		return
	}
	if !valid(reading) {
		p.recordFailure()
		return
	}

	reading.Temperature = roundTo(reading.Temperature, 1)
	reading.Humidity = roundTo(reading.Humidity, 2)

	p.mu.Lock()
	p.current = &reading
	p.successfulReads++
	p.consecutiveFailures = 0
	m := p.metrics
	p.mu.Unlock()

	if m != nil {
		m.SensorReadsTotal.WithLabelValues("success").Inc()
		m.CurrentTemperature.Set(reading.Temperature)
		m.CurrentHumidity.Set(reading.Humidity)
	}
}

func (p *Poller) recordFailure() {
	p.mu.Lock()
	p.consecutiveFailures++
	warmedUp := p.successfulReads >= WarmupSuccessCount
	failures := p.consecutiveFailures
	m := p.metrics
	p.mu.Unlock()

	if m != nil {
		m.SensorReadsTotal.WithLabelValues("failure").Inc()
	}

	if !warmedUp {
		p.log.Debug("sensor read failed during warm-up", zap.Int("consecutive_failures", failures))
		return
	}
	if failures > p.failureThreshold {
		if m != nil {
			m.SensorFailuresTotal.Inc()
		}
		p.log.Warn("sensor read failing repeatedly", zap.Int("consecutive_failures", failures))
	} else {
		p.log.Debug("sensor read failed", zap.Int("consecutive_failures", failures))
	}
}

// CurrentReading returns an atomic snapshot of the latest valid reading,
// or ok=false if none has ever been recorded.
func (p *Poller) CurrentReading() (hal.Reading, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return hal.Reading{}, false
	}
	return *p.current, true
}

// WarmedUp reports whether WarmupSuccessCount successful reads have
// been recorded.
func (p *Poller) WarmedUp() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.successfulReads >= WarmupSuccessCount
}

func valid(r hal.Reading) bool {
	if r.Humidity < 0 || r.Humidity > 100 {
		return false
	}
	return true
}

func roundTo(v float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor
}
