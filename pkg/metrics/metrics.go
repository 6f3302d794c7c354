// Package metrics defines the prometheus collectors this controller
// exposes, grounded on the namespaced-GaugeVec style used for home-
// automation metrics in the corpus (hmgo's ccu.go registers a
// Namespace-scoped GaugeVec/CounterVec pair at init and updates them
// from the polling loops).
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "thermostat"

// Collectors bundles every metric this controller exports. A single
// instance is constructed at startup and threaded through the
// components that update it; none of them reach for the default
// global registry directly, which keeps tests free of cross-test
// registration panics.
type Collectors struct {
	Registry *prometheus.Registry

	SensorReadsTotal                *prometheus.CounterVec
	SensorFailuresTotal             prometheus.Counter
	CurrentTemperature              prometheus.Gauge
	CurrentHumidity                 prometheus.Gauge
	TargetTemperature               prometheus.Gauge
	ModeChangesTotal                *prometheus.CounterVec
	TickDuration                    prometheus.Histogram
	TelemetryFailures               *prometheus.CounterVec
	State                           *prometheus.GaugeVec
	IneffectiveHeatingUpgradesTotal prometheus.Counter
}

// New constructs and registers every collector against a dedicated
// registry (never the global default, see above).
func New() *Collectors {
	reg := prometheus.NewRegistry()

	c := &Collectors{
		Registry: reg,
		SensorReadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_reads_total",
			Help:      "Sensor poll attempts, partitioned by outcome.",
		}, []string{"outcome"}),
		SensorFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_failures_total",
			Help:      "Consecutive-failure escalations past warm-up.",
		}),
		CurrentTemperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_temperature",
			Help:      "Most recently published sensor temperature, in the configured unit.",
		}),
		CurrentHumidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_humidity",
			Help:      "Most recently published sensor humidity percent.",
		}),
		TargetTemperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_temperature",
			Help:      "Current set-point target.",
		}),
		ModeChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_changes_total",
			Help:      "Control engine mode transitions, partitioned by the mode entered.",
		}, []string{"mode"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Control engine tick evaluation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		TelemetryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_failures_total",
			Help:      "Telemetry publishes that exhausted their retry budget, by endpoint.",
		}, []string{"endpoint"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "1 for the control engine's current state, 0 for every other state.",
		}, []string{"state"}),
		IneffectiveHeatingUpgradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ineffective_heating_upgrades_total",
			Help:      "Upgrades from Heating to EmergencyHeat triggered by the ineffective-heating test (spec §4.E.3).",
		}),
	}

	reg.MustRegister(
		c.SensorReadsTotal,
		c.SensorFailuresTotal,
		c.CurrentTemperature,
		c.CurrentHumidity,
		c.TargetTemperature,
		c.ModeChangesTotal,
		c.TickDuration,
		c.TelemetryFailures,
		c.State,
		c.IneffectiveHeatingUpgradesTotal,
	)

	return c
}
