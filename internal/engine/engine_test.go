package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wrale/heatpump-thermostat/internal/hal"
	"github.com/wrale/heatpump-thermostat/internal/hal/simulated"
	"github.com/wrale/heatpump-thermostat/internal/history"
	"github.com/wrale/heatpump-thermostat/pkg/config"
)

type fixedTarget struct{ v float64 }

func (f *fixedTarget) Get() float64 { return f.v }

type fixedReading struct {
	r  hal.Reading
	ok bool
}

func (f *fixedReading) CurrentReading() (hal.Reading, bool) { return f.r, f.ok }

func (f *fixedReading) set(temp float64) {
	f.ok = true
	f.r = hal.Reading{Temperature: temp}
}

type recordingObserver struct {
	modes []hal.RelayMode
}

func (o *recordingObserver) OnModeChange(mode hal.RelayMode) {
	o.modes = append(o.modes, mode)
}

func newTestEngine(t *testing.T, target float64, coolingOffset, heatingOffset, threshold float64, compressorMinOff time.Duration) (*Engine, *simulated.Backend, *fixedReading, *fixedTarget) {
	t.Helper()
	hw := simulated.New()
	reading := &fixedReading{}
	tgt := &fixedTarget{v: target}
	hist := history.New()
	cfg := Thresholds{
		CoolingOffset:    coolingOffset,
		HeatingOffset:    heatingOffset,
		DiffThreshold:    threshold,
		CompressorMinOff: compressorMinOff,
	}
	commands := config.RelayCommandSet{
		Off:       config.RelayCommand{0x00},
		FanOnly:   config.RelayCommand{0x01},
		Cool:      config.RelayCommand{0x02},
		Heat:      config.RelayCommand{0x04},
		Emergency: config.RelayCommand{0x08},
	}
	e := New(hw, commands, reading, tgt, hist, cfg, zap.NewNop())
	return e, hw, reading, tgt
}

// Scenario 1 (§8.1): cooling cycle through compressor cut-off.
func TestEngine_CoolingCycle(t *testing.T) {
	e, hw, reading, _ := newTestEngine(t, 70, 0.5, 0.5, 1.3, 3*time.Minute)
	base := time.Now()

	reading.set(72.5)
	require.NoError(t, e.Tick(base.Add(30*time.Second)))
	assert.Equal(t, StateCooling, e.stateUnsafe())

	reading.set(69.7)
	require.NoError(t, e.Tick(base.Add(2*time.Minute)))
	assert.Equal(t, StateCooling, e.stateUnsafe())

	reading.set(69.4)
	require.NoError(t, e.Tick(base.Add(3*time.Minute)))
	assert.Equal(t, StateBetweenStates, e.stateUnsafe())
	assert.Equal(t, hal.RelayOff, hw.LastMode())
}

// Scenario 2 (§8.2): cool-down gate blocks an immediate restart.
func TestEngine_CoolDownBlocksRestart(t *testing.T) {
	e, _, reading, _ := newTestEngine(t, 70, 0.5, 0.5, 1.3, 3*time.Minute)
	base := time.Now()

	reading.set(72.5)
	require.NoError(t, e.Tick(base.Add(30*time.Second)))
	reading.set(69.4)
	require.NoError(t, e.Tick(base.Add(3*time.Minute)))
	require.Equal(t, StateBetweenStates, e.stateUnsafe())

	reading.set(72.6)
	require.NoError(t, e.Tick(base.Add(3*time.Minute+30*time.Second)))
	assert.Equal(t, StateBetweenStates, e.stateUnsafe(), "cool-down not yet elapsed")

	require.NoError(t, e.Tick(base.Add(6*time.Minute+1*time.Second)))
	assert.Equal(t, StateCooling, e.stateUnsafe(), "cool-down elapsed, restart allowed")
}

// Scenario 3 (§8.3): ineffective heating upgrades to emergency heat in
// place, without a BetweenStates detour.
func TestEngine_HeatToEmergencyUpgrade(t *testing.T) {
	e, hw, reading, _ := newTestEngine(t, 72, 0.5, 0.5, 1.3, 3*time.Minute)
	base := time.Now()

	reading.set(65)
	require.NoError(t, e.Tick(base))
	require.Equal(t, StateHeating, e.stateUnsafe())

	// Slow rate: 0.05 deg/min, deficit starts at 7 (bucket 3-8 -> required 0.09).
	for _, sample := range []struct {
		at   time.Duration
		temp float64
	}{
		{2 * time.Minute, 65.1},
		{4 * time.Minute, 65.2},
		{6 * time.Minute, 65.3},
		{8 * time.Minute, 65.4},
		{10 * time.Minute, 65.5},
		{12 * time.Minute, 65.6},
	} {
		reading.set(sample.temp)
		require.NoError(t, e.Tick(base.Add(sample.at)))
	}
	assert.Equal(t, StateHeating, e.stateUnsafe(), "poor performance observed but not yet confirmed")

	reading.set(65.65)
	require.NoError(t, e.Tick(base.Add(17*time.Minute)))
	assert.Equal(t, StateEmergencyHeat, e.stateUnsafe())

	writes := hw.Writes()
	for _, w := range writes {
		assert.NotEqual(t, hal.RelayOff, w, "upgrade must never detour through Off/BetweenStates")
	}
}

// Scenario 4 (§8.4): a recovered rate clears the poor-performance marker
// and restarts its 5-minute confirmation clock.
func TestEngine_RecoveryAvoidsUpgrade(t *testing.T) {
	e, _, reading, _ := newTestEngine(t, 72, 0.5, 0.5, 1.3, 3*time.Minute)
	base := time.Now()

	reading.set(60)
	require.NoError(t, e.Tick(base))
	require.Equal(t, StateHeating, e.stateUnsafe())

	reading.set(61)
	require.NoError(t, e.Tick(base.Add(1*time.Minute)))

	// Slow rate (0.1 deg/min against a 0.15 requirement at this deficit):
	// poor performance first observed here.
	reading.set(62)
	require.NoError(t, e.Tick(base.Add(11*time.Minute)))
	assert.Equal(t, StateHeating, e.stateUnsafe())
	require.NotNil(t, e.poorPerfFirstSeen)

	// Rate recovers well above the requirement: the marker clears.
	reading.set(68)
	require.NoError(t, e.Tick(base.Add(14*time.Minute)))
	assert.Nil(t, e.poorPerfFirstSeen)

	// Rate drops again: the 5-minute confirmation clock restarts rather
	// than reusing the cleared marker, so no upgrade fires yet.
	reading.set(62.3)
	require.NoError(t, e.Tick(base.Add(16*time.Minute)))
	assert.Equal(t, StateHeating, e.stateUnsafe())
	require.NotNil(t, e.poorPerfFirstSeen)
}

// Scenario 5 (§8.5): emergency stop overrides fan mode; disabling
// returns to the prior idle variant.
func TestEngine_EmergencyStopOverridesFan(t *testing.T) {
	e, hw, reading, _ := newTestEngine(t, 70, 0.5, 0.5, 1.3, 3*time.Minute)
	base := time.Now()

	reading.set(70)
	e.SetFanMode(true, base)
	require.NoError(t, e.Tick(base))
	require.Equal(t, StateFanOnly, e.stateUnsafe())

	e.EnableEmergencyStop(base.Add(time.Second))
	assert.Equal(t, StateOff, e.stateUnsafe())
	assert.Equal(t, hal.RelayOff, hw.LastMode())

	e.DisableEmergencyStop()
	require.NoError(t, e.Tick(base.Add(2*time.Second)))
	assert.Equal(t, StateFanOnly, e.stateUnsafe())
}

// P2 (emergency dominance): every tick under emergency_stop yields Off
// and re-asserts OFF bytes, even repeatedly.
func TestEngine_EmergencyStopAlwaysReassertsOff(t *testing.T) {
	e, hw, reading, _ := newTestEngine(t, 70, 0.5, 0.5, 1.3, 3*time.Minute)
	base := time.Now()
	reading.set(80)
	e.EnableEmergencyStop(base)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Tick(base.Add(time.Duration(i)*time.Second)))
		assert.Equal(t, StateOff, e.stateUnsafe())
		assert.Equal(t, hal.RelayOff, hw.LastMode())
	}
}

// Boundary: exactly at the dead-band threshold is not a trigger.
func TestEngine_DeadBandBoundaryIsNotATrigger(t *testing.T) {
	e, _, reading, _ := newTestEngine(t, 70, 0.5, 0.5, 1.3, 3*time.Minute)
	reading.set(71.3) // diff == threshold exactly
	require.NoError(t, e.Tick(time.Now()))
	assert.NotEqual(t, StateCooling, e.stateUnsafe())
}

// Boundary: exactly at the cooling cut-off IS a cut-off (inclusive).
func TestEngine_CoolingCutoffBoundaryIsInclusive(t *testing.T) {
	e, _, reading, _ := newTestEngine(t, 70, 0.5, 0.5, 1.3, 3*time.Minute)
	base := time.Now()
	reading.set(72.5)
	require.NoError(t, e.Tick(base))
	require.Equal(t, StateCooling, e.stateUnsafe())

	reading.set(69.5) // exactly target - cooling_offset
	require.NoError(t, e.Tick(base.Add(time.Minute)))
	assert.Equal(t, StateBetweenStates, e.stateUnsafe())
}

// No reading ever: engine stays Off forever and never writes an active command.
func TestEngine_NoReadingStaysOff(t *testing.T) {
	e, hw, _, _ := newTestEngine(t, 70, 0.5, 0.5, 1.3, 3*time.Minute)
	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, e.Tick(base.Add(time.Duration(i)*time.Second)))
	}
	assert.Equal(t, StateOff, e.stateUnsafe())
	assert.Empty(t, hw.Writes())
}

// P6 (mode-update dedup): consecutive identical modes are not re-notified.
func TestEngine_ModeChangeDedup(t *testing.T) {
	e, _, reading, _ := newTestEngine(t, 70, 0.5, 0.5, 1.3, 3*time.Minute)
	obs := &recordingObserver{}
	e.SetModeObserver(obs)
	base := time.Now()

	reading.set(72.5)
	require.NoError(t, e.Tick(base))
	require.NoError(t, e.Tick(base.Add(time.Second)))
	require.NoError(t, e.Tick(base.Add(2*time.Second)))

	assert.Equal(t, []hal.RelayMode{hal.RelayCool}, obs.modes)
}

// P1 (cool-down): the gap between exiting an active state and entering
// the next active state is never shorter than compressor_min_off.
func TestEngine_CompressorMinOffRespected(t *testing.T) {
	e, _, reading, _ := newTestEngine(t, 70, 0.5, 0.5, 1.3, 3*time.Minute)
	base := time.Now()

	reading.set(72.5)
	require.NoError(t, e.Tick(base))
	reading.set(69.4)
	require.NoError(t, e.Tick(base.Add(time.Minute)))
	require.Equal(t, StateBetweenStates, e.stateUnsafe())
	exitTime := base.Add(time.Minute)

	reading.set(72.5)
	require.NoError(t, e.Tick(exitTime.Add(2*time.Minute)))
	assert.Equal(t, StateBetweenStates, e.stateUnsafe(), "still inside cool-down")

	require.NoError(t, e.Tick(exitTime.Add(3*time.Minute+time.Second)))
	assert.Equal(t, StateCooling, e.stateUnsafe())
}

// A fresh engine boots Off with fan_mode off (§3's lifecycle note). The
// first tick of a stable-band reading converts it to BetweenStates
// rather than holding Off — idleStateLocked only ever names
// FanOnly/BetweenStates, never Off, so Off is a boot-only state that
// the very first stable tick already leaves. This is the single
// largest interpretive call recorded against the spec (see DESIGN.md);
// this test locks it in as intentional.
func TestEngine_StableBandFromOffConvertsToBetweenStates(t *testing.T) {
	e, hw, reading, _ := newTestEngine(t, 70, 0.5, 0.5, 1.3, 3*time.Minute)
	require.Equal(t, StateOff, e.stateUnsafe(), "fresh engine boots Off")
	require.False(t, e.fanMode, "fan mode off by default")

	reading.set(70.2) // within the 1.3 dead-band on both sides
	require.NoError(t, e.Tick(time.Now()))

	assert.Equal(t, StateBetweenStates, e.stateUnsafe())
	assert.Equal(t, hal.RelayOff, hw.LastMode())
}

func (e *Engine) stateUnsafe() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}
