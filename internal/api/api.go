// Package api implements the local API shim (component G): thin
// translations from external requests into operations on the control
// engine and set-point store. It never interprets device state on its
// own — every decision still belongs to the engine. Grounded on the
// teacher's handler layer (user/api/server), narrowed from a full HTTP
// router down to the operation surface the specification calls out;
// the HTTP binding itself (gorilla/mux) lives in internal/apihttp and
// only maps requests onto these methods.
package api

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wrale/heatpump-thermostat/internal/engine"
	"github.com/wrale/heatpump-thermostat/internal/hal"
	"github.com/wrale/heatpump-thermostat/internal/herrors"
	"github.com/wrale/heatpump-thermostat/internal/setpoint"
	"github.com/wrale/heatpump-thermostat/pkg/config"
)

// ReadingSource supplies the latest valid sensor reading for status
// reporting.
type ReadingSource interface {
	CurrentReading() (hal.Reading, bool)
}

// StatusSnapshot is the full externally visible device status.
type StatusSnapshot struct {
	State                        string    `json:"state"`
	HasReading                   bool      `json:"has_reading"`
	Temperature                  float64   `json:"temperature,omitempty"`
	Humidity                     float64   `json:"humidity,omitempty"`
	Target                       float64   `json:"target"`
	TargetSource                 string    `json:"target_source"`
	TargetUpdatedAt              time.Time `json:"target_updated_at"`
	EmergencyStop                bool      `json:"emergency_stop"`
	FanMode                      bool      `json:"fan_mode"`
	RemainingCooldownSeconds     float64   `json:"remaining_cooldown_seconds"`
	StateTimeSeconds             float64   `json:"state_time_seconds"`
	HeatingTimeSeconds           float64   `json:"heating_time_seconds"`
	EstimatedTimeToTargetSeconds float64   `json:"estimated_time_to_target_seconds"`
}

// ConfigUpdate is the subset of configuration the local API is allowed
// to mutate at runtime — the hysteresis and cool-down tuning, never
// hardware wiring or identity fields.
type ConfigUpdate struct {
	CoolingOffset                  *float64
	HeatingOffset                  *float64
	TemperatureDifferenceThreshold *float64
	CompressorMinOffMinutes        *float64
}

// Shim is the local API's operation surface.
type Shim struct {
	log      *zap.Logger
	eng      *engine.Engine
	setpoint *setpoint.Store
	readings ReadingSource
	cfg      config.Config
}

// New constructs the local API shim over an already-wired engine,
// set-point store, and sensor poller.
func New(eng *engine.Engine, sp *setpoint.Store, readings ReadingSource, cfg config.Config, log *zap.Logger) *Shim {
	return &Shim{
		log:      log.Named("api.shim"),
		eng:      eng,
		setpoint: sp,
		readings: readings,
		cfg:      cfg,
	}
}

// StatusSnapshot composes the engine's state, the set-point, and the
// latest sensor reading into one externally visible snapshot.
func (s *Shim) StatusSnapshot() StatusSnapshot {
	now := time.Now()
	engSnap := s.eng.Snapshot(now)
	target, source, updatedAt := s.setpoint.Snapshot()

	snapshot := StatusSnapshot{
		State:                        string(engSnap.State),
		Target:                       target,
		TargetSource:                 string(source),
		TargetUpdatedAt:              updatedAt,
		EmergencyStop:                engSnap.EmergencyStop,
		FanMode:                      engSnap.FanMode,
		RemainingCooldownSeconds:     engSnap.RemainingCooldownSeconds,
		StateTimeSeconds:             engSnap.StateTimeSeconds,
		HeatingTimeSeconds:           engSnap.HeatingTimeSeconds,
		EstimatedTimeToTargetSeconds: s.eng.EstimatedTimeToTargetSeconds(),
	}

	if reading, ok := s.readings.CurrentReading(); ok {
		snapshot.HasReading = true
		snapshot.Temperature = reading.Temperature
		snapshot.Humidity = reading.Humidity
	}
	return snapshot
}

// requestLogger returns a child logger carrying a freshly minted
// request ID, so every log line an operation emits can be correlated
// back to the call that caused it. Grounded on the teacher's
// uuid.New().String() identifier minting in internal/fleet/config.
func (s *Shim) requestLogger() *zap.Logger {
	return s.log.With(zap.String("request_id", uuid.New().String()))
}

// SetTarget forwards a new target temperature to the set-point store.
// The next engine tick consumes it (P5: set-point freshness).
func (s *Shim) SetTarget(value float64) error {
	log := s.requestLogger()
	if value <= 0 {
		log.Warn("rejected set-target request", zap.Float64("target", value))
		return &herrors.ValidationError{Field: "target", Value: value, Err: errTargetMustBePositive}
	}
	s.setpoint.Set(value, setpoint.SourceUser, time.Now())
	log.Info("set-target request applied", zap.Float64("target", value))
	return nil
}

// SetFan forwards a fan-mode change to the engine.
func (s *Shim) SetFan(on bool) {
	s.requestLogger().Info("set-fan request applied", zap.Bool("fan_mode", on))
	s.eng.SetFanMode(on, time.Now())
}

// SetEmergencyStop forwards an emergency-stop change to the engine.
func (s *Shim) SetEmergencyStop(on bool) {
	s.requestLogger().Info("set-emergency-stop request applied", zap.Bool("emergency_stop", on))
	if on {
		s.eng.EnableEmergencyStop(time.Now())
		return
	}
	s.eng.DisableEmergencyStop()
}

// GetConfigSnapshot returns a copy of the configuration in effect.
func (s *Shim) GetConfigSnapshot() config.Config {
	return s.cfg
}

// UpdateConfig applies the runtime-tunable subset of configuration to
// the engine, leaving hardware wiring and identity fields untouched.
func (s *Shim) UpdateConfig(update ConfigUpdate) {
	thresholds := s.eng.Thresholds()

	if update.CoolingOffset != nil {
		thresholds.CoolingOffset = *update.CoolingOffset
		s.cfg.CoolingOffset = *update.CoolingOffset
	}
	if update.HeatingOffset != nil {
		thresholds.HeatingOffset = *update.HeatingOffset
		s.cfg.HeatingOffset = *update.HeatingOffset
	}
	if update.TemperatureDifferenceThreshold != nil {
		thresholds.DiffThreshold = *update.TemperatureDifferenceThreshold
		s.cfg.TemperatureDifferenceThreshold = *update.TemperatureDifferenceThreshold
	}
	if update.CompressorMinOffMinutes != nil {
		thresholds.CompressorMinOff = time.Duration(*update.CompressorMinOffMinutes * float64(time.Minute))
		s.cfg.CompressorMinOffMinutes = *update.CompressorMinOffMinutes
	}

	s.eng.SetThresholds(thresholds)
	s.requestLogger().Info("configuration updated via local API",
		zap.Float64("cooling_offset", thresholds.CoolingOffset),
		zap.Float64("heating_offset", thresholds.HeatingOffset),
		zap.Float64("temperature_difference_threshold", thresholds.DiffThreshold),
		zap.Duration("compressor_min_off", thresholds.CompressorMinOff))
}

var errTargetMustBePositive = herrors.New(herrors.InvalidApiRequest, "api.SetTarget", "target must be positive")
