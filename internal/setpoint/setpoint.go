// Package setpoint implements the thread-safe target-temperature holder
// (component C): a single mutex-guarded cell seeded from configuration
// and overridden, at most once, by a boot-time server fetch, after
// which it is mutated only by the local API. Grounded on the teacher's
// single-cell config-cache pattern (mutex-guarded struct with a
// cheap Get and a logging Set).
package setpoint

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wrale/heatpump-thermostat/pkg/metrics"
)

// Source identifies where the current target came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceServer  Source = "server"
	SourceUser    Source = "user"
)

// bootFetchAttempts and bootFetchBackoff bound the one-time server fetch
// attempted at startup, per §4.C.
const (
	bootFetchAttempts = 3
	bootFetchBackoff  = 2 * time.Second
)

// Store is the mutex-guarded set-point cell.
type Store struct {
	log          *zap.Logger
	bootBackoff  time.Duration

	mu          sync.RWMutex
	target      float64
	source      Source
	lastUpdated time.Time

	metrics *metrics.Collectors
}

// SetMetrics wires the prometheus collectors this store updates. A nil
// collector (the default) disables all metric updates.
func (s *Store) SetMetrics(m *metrics.Collectors) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	if m != nil {
		m.TargetTemperature.Set(s.target)
	}
}

// New seeds the store from the configured default. A separate call to
// FetchFromServer may override it once, at boot.
func New(defaultTarget float64, log *zap.Logger) *Store {
	return &Store{
		log:         log.Named("setpoint.store"),
		bootBackoff: bootFetchBackoff,
		target:      defaultTarget,
		source:      SourceDefault,
		lastUpdated: time.Time{},
	}
}

// Get returns the current target temperature.
func (s *Store) Get() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

// Snapshot returns the full set-point state for status reporting.
func (s *Store) Snapshot() (target float64, source Source, lastUpdated time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target, s.source, s.lastUpdated
}

// Set overrides the target and logs the change. now is accepted as a
// parameter rather than read internally so the boot fetch and the API
// shim share one clock source.
func (s *Store) Set(value float64, source Source, now time.Time) {
	s.mu.Lock()
	s.target = value
	s.source = source
	s.lastUpdated = now
	m := s.metrics
	s.mu.Unlock()

	if m != nil {
		m.TargetTemperature.Set(value)
	}
	s.log.Info("set-point updated", zap.Float64("target", value), zap.String("source", string(source)))
}

// ServerSettings is the device-settings payload returned by the
// coordinating server.
type ServerSettings struct {
	SetTemperature float64 `json:"set_temperature"`
	Mode           string  `json:"mode"`
}

// SettingsFetcher fetches the server's view of this device's settings,
// satisfied by the telemetry client's HTTP client in production and by
// a stub in tests.
type SettingsFetcher interface {
	FetchSettings(ctx context.Context) (ServerSettings, error)
}

// FetchFromServer attempts, at most bootFetchAttempts times with a
// fixed back-off, to seed the store from the server's recorded
// set-point. A persistent failure is logged and the configured default
// is kept — the engine must proceed normally either way (scenario 6).
func (s *Store) FetchFromServer(ctx context.Context, fetcher SettingsFetcher, now func() time.Time) {
	var lastErr error
	for attempt := 1; attempt <= bootFetchAttempts; attempt++ {
		settings, err := fetcher.FetchSettings(ctx)
		if err == nil {
			s.Set(settings.SetTemperature, SourceServer, now())
			return
		}
		lastErr = err
		s.log.Debug("server set-point fetch failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt < bootFetchAttempts {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = bootFetchAttempts
			case <-time.After(s.bootBackoff):
			}
		}
	}

	s.log.Warn("server unreachable at boot, keeping configured default set-point",
		zap.Float64("target", s.Get()), zap.Error(lastErr))
}
