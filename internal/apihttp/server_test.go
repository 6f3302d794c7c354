package apihttp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wrale/heatpump-thermostat/internal/api"
	"github.com/wrale/heatpump-thermostat/internal/engine"
	"github.com/wrale/heatpump-thermostat/internal/hal"
	"github.com/wrale/heatpump-thermostat/internal/hal/simulated"
	"github.com/wrale/heatpump-thermostat/internal/history"
	"github.com/wrale/heatpump-thermostat/internal/setpoint"
	"github.com/wrale/heatpump-thermostat/pkg/config"
	"github.com/wrale/heatpump-thermostat/pkg/metrics"
)

type fixedReading struct {
	r  hal.Reading
	ok bool
}

func (f *fixedReading) CurrentReading() (hal.Reading, bool) { return f.r, f.ok }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	hw := simulated.New()
	reading := &fixedReading{r: hal.Reading{Temperature: 70, Humidity: 45}, ok: true}
	sp := setpoint.New(72, zap.NewNop())
	hist := history.New()
	commands := config.RelayCommandSet{
		Off: config.RelayCommand{0x00}, FanOnly: config.RelayCommand{0x01},
		Cool: config.RelayCommand{0x02}, Heat: config.RelayCommand{0x04}, Emergency: config.RelayCommand{0x08},
	}
	eng := engine.New(hw, commands, reading, sp, hist, engine.Thresholds{
		CoolingOffset: 0.5, HeatingOffset: 0.5, DiffThreshold: 1.3, CompressorMinOff: 3 * time.Minute,
	}, zap.NewNop())

	shim := api.New(eng, sp, reading, config.Defaults(), zap.NewNop())
	return New(Config{Addr: ":0"}, shim, metrics.New(), zap.NewNop())
}

func TestServer_StatusReturnsEngineSnapshot(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Success)
}

func TestServer_SetTargetRejectsNonPositive(t *testing.T) {
	s := newTestServer(t)

	payload, _ := json.Marshal(map[string]float64{"target": -1})
	req := httptest.NewRequest(http.MethodPut, "/api/target", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, "invalid_target", body.Error.Code)
}

func TestServer_SetTargetAppliesValidValue(t *testing.T) {
	s := newTestServer(t)

	payload, _ := json.Marshal(map[string]float64{"target": 68})
	req := httptest.NewRequest(http.MethodPut, "/api/target", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 68.0, s.shim.StatusSnapshot().Target)
}

func TestServer_MetricsEndpointExposesRegisteredCollectors(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "thermostat_")
}

func TestServer_HealthzReportsOK(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// A Server-deployed device (pkg/config.Config.RequiresControlLoop ==
// false) has no engine, so apihttp.New is wired with a nil shim; the
// device-control routes must not be registered at all, while /healthz
// and /metrics still work.
func TestServer_NilShimExposesOnlyHealthzAndMetrics(t *testing.T) {
	s := New(Config{Addr: ":0"}, nil, metrics.New(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
