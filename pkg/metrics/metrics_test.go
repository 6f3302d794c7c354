package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllCollectorsOnADedicatedRegistry(t *testing.T) {
	a := New()
	b := New()

	assert.NotSame(t, a.Registry, b.Registry)

	a.SensorReadsTotal.WithLabelValues("success").Inc()
	a.ModeChangesTotal.WithLabelValues("heat").Inc()
	a.CurrentTemperature.Set(70.5)
	a.State.WithLabelValues("heating").Set(1)
	a.IneffectiveHeatingUpgradesTotal.Inc()

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.Equal(t, float64(1), testutil.ToFloat64(a.SensorReadsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.SensorReadsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.State.WithLabelValues("heating")))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.IneffectiveHeatingUpgradesTotal))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.IneffectiveHeatingUpgradesTotal))
}
