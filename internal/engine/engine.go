// Package engine implements the closed-loop control engine (component
// E): the state machine that decides when to engage heat, cool, or
// emergency heat, enforces compressor cool-down, and upgrades from
// heat-pump to emergency strip heat when the pump cannot keep up.
// Grounded on the teacher's thermal manager (mutex-guarded state
// struct driven by a periodic tick, exposing read-only accessors and a
// handful of external mutators) generalized from CPU/GPU thermal
// zones to the five-relay HVAC state machine the specification
// defines.
package engine

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wrale/heatpump-thermostat/internal/hal"
	"github.com/wrale/heatpump-thermostat/internal/herrors"
	"github.com/wrale/heatpump-thermostat/pkg/config"
	"github.com/wrale/heatpump-thermostat/pkg/metrics"
)

// State names the six control states the engine can occupy.
type State string

const (
	StateOff           State = "off"
	StateBetweenStates State = "between_states"
	StateFanOnly       State = "fan_only"
	StateCooling       State = "cooling"
	StateHeating       State = "heating"
	StateEmergencyHeat State = "emergency_heat"
)

// Ineffective-heating thresholds, per §4.E.3.
const (
	ineffectiveMinStateAge  = 10 * time.Minute
	ineffectiveMinHistory   = 10 * time.Minute
	ineffectiveConfirmDelay = 5 * time.Minute
)

// ReadingSource supplies the latest valid sensor reading, satisfied by
// *sensor.Poller.
type ReadingSource interface {
	CurrentReading() (hal.Reading, bool)
}

// TargetSource supplies the current set-point, satisfied by
// *setpoint.Store.
type TargetSource interface {
	Get() float64
}

// HistoryStore is the subset of *history.History the engine drives.
type HistoryStore interface {
	Record(now time.Time, temp float64)
	RatePerMinute() float64
	Span() time.Duration
	Len() int
	Clear()
}

// ModeObserver is notified of committed, de-duplicated mode changes —
// the hook component F (telemetry) uses to publish mode-change events.
type ModeObserver interface {
	OnModeChange(mode hal.RelayMode)
}

// Thresholds carries the hysteresis and cool-down parameters read from
// configuration, converted once to engine-native units.
type Thresholds struct {
	CoolingOffset     float64
	HeatingOffset     float64
	DiffThreshold     float64
	CompressorMinOff  time.Duration
}

// Snapshot is a point-in-time, lock-free copy of the engine's state for
// status reporting.
type Snapshot struct {
	State                    State
	EmergencyStop            bool
	FanMode                  bool
	StateEnteredAt           time.Time
	RemainingCooldownSeconds float64
	StateTimeSeconds         float64
	HeatingTimeSeconds       float64
	EstimatedTimeToTarget    float64
}

// Engine is the control engine. It owns no I/O of its own beyond the
// hal.Hardware relay writes; sensor reads, the set-point, and history
// are all injected collaborators (components B, C, D).
type Engine struct {
	log      *zap.Logger
	hw       hal.Hardware
	commands config.RelayCommandSet
	readings ReadingSource
	target   TargetSource
	history  HistoryStore
	cfg      Thresholds

	mu sync.RWMutex

	state             State
	stateEnteredAt    time.Time
	stateEntryTemp    float64
	poorPerfFirstSeen *time.Time

	emergencyStop bool
	fanMode       bool

	lastCompressorOff time.Time
	lastNotifiedMode  hal.RelayMode

	modeObserver ModeObserver
	metrics      *metrics.Collectors
}

// New constructs an Engine in the initial Off state with an unset
// compressor cool-down clock, per §3's lifecycle note: a fresh boot
// conservatively blocks no new cycles.
func New(hw hal.Hardware, commands config.RelayCommandSet, readings ReadingSource, target TargetSource, hist HistoryStore, cfg Thresholds, log *zap.Logger) *Engine {
	return &Engine{
		log:      log.Named("engine"),
		hw:       hw,
		commands: commands,
		readings: readings,
		target:   target,
		history:  hist,
		cfg:      cfg,
		state:    StateOff,
	}
}

// SetModeObserver wires the mode-change hook. Called once during
// startup wiring, before Tick is ever invoked.
func (e *Engine) SetModeObserver(obs ModeObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modeObserver = obs
}

// SetMetrics wires the prometheus collectors this engine updates.
// Called once during startup; a nil collector (the default) disables
// all metric updates.
func (e *Engine) SetMetrics(m *metrics.Collectors) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
	if e.metrics != nil {
		e.publishStateGaugeLocked()
	}
}

// Thresholds returns the hysteresis and cool-down parameters currently
// in effect.
func (e *Engine) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetThresholds replaces the hysteresis and cool-down parameters,
// effective on the next tick. Used by the local API's config-update
// operation.
func (e *Engine) SetThresholds(t Thresholds) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = t
}

// Tick runs one evaluation of the state machine. Ticks never overlap —
// the engine's write lock is held for the full duration, which is
// acceptable because the decision logic performs no I/O beyond a relay
// write and completes in milliseconds.
func (e *Engine) Tick(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.metrics != nil {
		start := time.Now()
		defer func() { e.metrics.TickDuration.Observe(time.Since(start).Seconds()) }()
	}

	// 1. Emergency stop dominates everything else, and re-asserts OFF
	// bytes every tick even if already Off (invariant 2).
	if e.emergencyStop {
		e.forceOffLocked(now)
		return nil
	}

	// 2. No reading: retain state and last relay output.
	reading, ok := e.readings.CurrentReading()
	if !ok || reading.Temperature <= 0 {
		e.log.Warn("no valid sensor reading available, holding state", zap.String("state", string(e.state)))
		return nil
	}
	current := reading.Temperature

	// 3. Record history unconditionally.
	e.history.Record(now, current)

	target := e.target.Get()
	diff := current - target
	needsCooling := diff > e.cfg.DiffThreshold
	needsHeating := diff < -e.cfg.DiffThreshold
	coolingCutoff := target - e.cfg.CoolingOffset
	heatingCutoff := target + e.cfg.HeatingOffset
	compressorBlocked := now.Sub(e.lastCompressorOff) < e.cfg.CompressorMinOff
	idle := e.idleStateLocked()

	// 4. Cool-down gate: only idle states are subject to the
	// compressor-protection invariant against new starts.
	if isIdle(e.state) && compressorBlocked {
		e.settleIdleLocked(idle, now)
		return nil
	}

	// 5. Active-state cut-offs.
	switch e.state {
	case StateCooling:
		if current <= coolingCutoff {
			e.exitActiveToIdleLocked(idle, now)
			return nil
		}
	case StateHeating, StateEmergencyHeat:
		if current >= heatingCutoff {
			e.exitActiveToIdleLocked(idle, now)
			return nil
		}
	}
	if e.state == StateHeating && e.ineffectiveHeatingLocked(now, target, current) {
		e.upgradeToEmergencyLocked(now, current)
		return nil
	}
	if isActive(e.state) {
		// Re-assert the current mode's relay bytes idempotently; no
		// state change, so no notification is emitted.
		e.writeRelayLocked(relayModeFor(e.state))
		return nil
	}

	// 6. Stable band: idle and within the dead-band on both sides.
	if isIdle(e.state) && !needsCooling && !needsHeating {
		e.settleIdleLocked(idle, now)
		return nil
	}

	// 7. Start a new cycle, in the fixed decision order from §4.E.2.
	if needsCooling && (e.state == StateHeating || e.state == StateEmergencyHeat) {
		e.exitActiveToIdleLocked(StateBetweenStates, now)
		return nil
	}
	if needsCooling && !compressorBlocked {
		e.enterActiveLocked(StateCooling, now, current)
		return nil
	}
	if needsHeating && e.state == StateCooling {
		e.exitActiveToIdleLocked(StateBetweenStates, now)
		return nil
	}
	if needsHeating && !compressorBlocked {
		e.enterActiveLocked(StateHeating, now, current)
		return nil
	}

	// 8. Unreachable: every combination of idle/active and
	// needs_cooling/needs_heating/stable is covered above. This branch
	// is a safety net against a future change widening the state space
	// without updating the decision tree.
	e.log.Error("control engine reached an unclassified tick state",
		zap.String("state", string(e.state)),
		zap.Bool("needs_cooling", needsCooling),
		zap.Bool("needs_heating", needsHeating),
		zap.Bool("compressor_blocked", compressorBlocked))
	e.forceOffLocked(now)
	return herrors.New(herrors.LogicError, "engine.Tick", "unclassified tick state, forced Off")
}

// SetFanMode updates the fan-only-when-idle flag. When emergency_stop
// is active the change is accepted but no relay is touched; when the
// engine is Off or BetweenStates, the new idle variant is applied
// immediately rather than waiting for the next tick. From FanOnly or an
// active state the change takes effect on a later tick.
func (e *Engine) SetFanMode(fanMode bool, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.fanMode = fanMode
	if e.emergencyStop {
		return
	}
	if e.state == StateOff || e.state == StateBetweenStates {
		e.settleIdleLocked(e.idleStateLocked(), now)
	}
}

// EnableEmergencyStop forces Off immediately.
func (e *Engine) EnableEmergencyStop(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emergencyStop = true
	e.forceOffLocked(now)
}

// DisableEmergencyStop clears the flag; the next tick re-decides state.
func (e *Engine) DisableEmergencyStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emergencyStop = false
}

// StateName returns the current state's external name.
func (e *Engine) StateName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return string(e.state)
}

// RemainingCooldownSeconds returns how many seconds remain before the
// compressor-protection cool-down is satisfied, or zero if already
// satisfied.
func (e *Engine) RemainingCooldownSeconds(now time.Time) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	remaining := e.cfg.CompressorMinOff - now.Sub(e.lastCompressorOff)
	if remaining < 0 {
		return 0
	}
	return remaining.Seconds()
}

// StateTimeSeconds returns how long the engine has held its current
// active state, or zero when idle.
func (e *Engine) StateTimeSeconds(now time.Time) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !isActive(e.state) {
		return 0
	}
	return now.Sub(e.stateEnteredAt).Seconds()
}

// HeatingTimeSeconds returns how long the engine has been in Heating or
// EmergencyHeat, or zero otherwise.
func (e *Engine) HeatingTimeSeconds(now time.Time) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateHeating && e.state != StateEmergencyHeat {
		return 0
	}
	return now.Sub(e.stateEnteredAt).Seconds()
}

// EstimatedTimeToTargetSeconds estimates time-to-target from the
// current observed rate of change, or zero while idle or when the rate
// is negligible.
func (e *Engine) EstimatedTimeToTargetSeconds() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !isActive(e.state) {
		return 0
	}
	reading, ok := e.readings.CurrentReading()
	if !ok {
		return 0
	}
	rate := e.history.RatePerMinute()
	if math.Abs(rate) < 1e-9 {
		return 0
	}
	deficit := e.target.Get() - reading.Temperature
	return (math.Abs(deficit) / math.Abs(rate)) * 60
}

// Snapshot returns a consistent, point-in-time copy of the engine's
// externally visible state.
func (e *Engine) Snapshot(now time.Time) Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		State:                    e.state,
		EmergencyStop:            e.emergencyStop,
		FanMode:                  e.fanMode,
		StateEnteredAt:           e.stateEnteredAt,
		RemainingCooldownSeconds: maxFloat(0, (e.cfg.CompressorMinOff - now.Sub(e.lastCompressorOff)).Seconds()),
		StateTimeSeconds:         stateTimeLocked(e.state, e.stateEnteredAt, now),
		HeatingTimeSeconds:       heatingTimeLocked(e.state, e.stateEnteredAt, now),
	}
}

func stateTimeLocked(s State, enteredAt, now time.Time) float64 {
	if !isActive(s) {
		return 0
	}
	return now.Sub(enteredAt).Seconds()
}

func heatingTimeLocked(s State, enteredAt, now time.Time) float64 {
	if s != StateHeating && s != StateEmergencyHeat {
		return 0
	}
	return now.Sub(enteredAt).Seconds()
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// ineffectiveHeatingLocked implements the heat-pump-to-emergency-heat
// upgrade test from §4.E.3. Must be called with e.mu held.
func (e *Engine) ineffectiveHeatingLocked(now time.Time, target, current float64) bool {
	if now.Sub(e.stateEnteredAt) < ineffectiveMinStateAge {
		return false
	}
	if e.history.Span() < ineffectiveMinHistory || e.history.Len() < 2 {
		return false
	}

	deficit := target - current
	required := requiredRateFor(deficit)
	rate := e.history.RatePerMinute()

	if rate >= required {
		e.poorPerfFirstSeen = nil
		return false
	}
	if e.poorPerfFirstSeen == nil {
		seenAt := now
		e.poorPerfFirstSeen = &seenAt
		return false
	}
	return now.Sub(*e.poorPerfFirstSeen) >= ineffectiveConfirmDelay
}

// requiredRateFor returns the minimum acceptable heating rate (°/min)
// for the given deficit, per the table in §4.E.3.
func requiredRateFor(deficit float64) float64 {
	switch {
	case deficit < 3.0:
		return 0.04
	case deficit < 8.0:
		return 0.09
	default:
		return 0.15
	}
}

// idleStateLocked returns the idle state variant the fan-mode flag
// selects. Must be called with e.mu held.
func (e *Engine) idleStateLocked() State {
	if e.fanMode {
		return StateFanOnly
	}
	return StateBetweenStates
}

// settleIdleLocked transitions between idle variants (or holds). It
// never touches the compressor cool-down clock — only exits from an
// active state do that.
func (e *Engine) settleIdleLocked(target State, now time.Time) {
	mode := relayModeFor(target)
	e.writeRelayLocked(mode)
	e.setStateLocked(target)
	e.notifyModeLocked(mode)
}

// exitActiveToIdleLocked records the compressor-off clock before
// committing the new idle state, per the ordering guarantee in §5.
func (e *Engine) exitActiveToIdleLocked(target State, now time.Time) {
	mode := relayModeFor(target)
	e.writeRelayLocked(mode)
	e.lastCompressorOff = now
	e.setStateLocked(target)
	e.notifyModeLocked(mode)
}

// enterActiveLocked commits a fresh entry into Cooling or Heating,
// clearing history when entering a heating-family state so performance
// metrics start fresh.
func (e *Engine) enterActiveLocked(target State, now time.Time, temp float64) {
	mode := relayModeFor(target)
	e.writeRelayLocked(mode)
	e.setStateLocked(target)
	e.stateEnteredAt = now
	e.stateEntryTemp = temp
	e.poorPerfFirstSeen = nil
	if target == StateHeating || target == StateEmergencyHeat {
		e.history.Clear()
	}
	e.notifyModeLocked(mode)
}

// upgradeToEmergencyLocked transitions Heating directly to
// EmergencyHeat with the compressor already running — no idle detour,
// per the invariant-1 exemption.
func (e *Engine) upgradeToEmergencyLocked(now time.Time, temp float64) {
	mode := relayModeFor(StateEmergencyHeat)
	e.writeRelayLocked(mode)
	e.setStateLocked(StateEmergencyHeat)
	e.stateEnteredAt = now
	e.stateEntryTemp = temp
	e.poorPerfFirstSeen = nil
	e.history.Clear()
	if e.metrics != nil {
		e.metrics.IneffectiveHeatingUpgradesTotal.Inc()
	}
	e.notifyModeLocked(mode)
}

// forceOffLocked writes OFF bytes and commits the Off state, recording
// the compressor-off clock if an active state was exited.
func (e *Engine) forceOffLocked(now time.Time) {
	wasActive := isActive(e.state)
	e.writeRelayLocked(hal.RelayOff)
	if wasActive {
		e.lastCompressorOff = now
	}
	e.setStateLocked(StateOff)
	e.notifyModeLocked(hal.RelayOff)
}

// setStateLocked commits a state transition and, when metrics are
// wired, updates the state gauge to reflect it. Must be called with
// e.mu held.
func (e *Engine) setStateLocked(s State) {
	e.state = s
	if e.metrics != nil {
		e.publishStateGaugeLocked()
	}
}

// publishStateGaugeLocked sets the state gauge to 1 for e.state and 0
// for every other state, so a dashboard can graph "current state" as a
// single time series per label. Must be called with e.mu held and
// e.metrics non-nil.
func (e *Engine) publishStateGaugeLocked() {
	for _, s := range allStates {
		v := 0.0
		if s == e.state {
			v = 1.0
		}
		e.metrics.State.WithLabelValues(string(s)).Set(v)
	}
}

var allStates = []State{
	StateOff, StateBetweenStates, StateFanOnly, StateCooling, StateHeating, StateEmergencyHeat,
}

func (e *Engine) writeRelayLocked(mode hal.RelayMode) {
	e.hw.WriteRelay(mode, e.commandFor(mode))
}

func (e *Engine) notifyModeLocked(mode hal.RelayMode) {
	if mode == e.lastNotifiedMode {
		return
	}
	e.lastNotifiedMode = mode
	if e.metrics != nil {
		e.metrics.ModeChangesTotal.WithLabelValues(string(mode)).Inc()
	}
	if e.modeObserver != nil {
		e.modeObserver.OnModeChange(mode)
	}
}

func (e *Engine) commandFor(mode hal.RelayMode) config.RelayCommand {
	switch mode {
	case hal.RelayOff:
		return e.commands.Off
	case hal.RelayFanOnly:
		return e.commands.FanOnly
	case hal.RelayCool:
		return e.commands.Cool
	case hal.RelayHeat:
		return e.commands.Heat
	case hal.RelayEmergency:
		return e.commands.Emergency
	default:
		return nil
	}
}

func relayModeFor(s State) hal.RelayMode {
	switch s {
	case StateOff, StateBetweenStates:
		return hal.RelayOff
	case StateFanOnly:
		return hal.RelayFanOnly
	case StateCooling:
		return hal.RelayCool
	case StateHeating:
		return hal.RelayHeat
	case StateEmergencyHeat:
		return hal.RelayEmergency
	default:
		return hal.RelayOff
	}
}

func isIdle(s State) bool {
	return s == StateOff || s == StateBetweenStates || s == StateFanOnly
}

func isActive(s State) bool {
	return s == StateCooling || s == StateHeating || s == StateEmergencyHeat
}
