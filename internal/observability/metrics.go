// Package observability exposes the Prometheus metrics of the controller.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the zones update. All methods are safe on a
// nil receiver so callers can run without metrics wired.
type Metrics struct {
	zoneTemperature *prometheus.GaugeVec
	zoneTarget      *prometheus.GaugeVec
	zoneOutdoor     *prometheus.GaugeVec
	heaterState     *prometheus.GaugeVec
	windowState     *prometheus.GaugeVec

	cyclesTotal       *prometheus.CounterVec
	windowEventsTotal *prometheus.CounterVec
	overshoot         *prometheus.HistogramVec
	proposedOnSeconds *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		zoneTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zoneheat",
			Name:      "zone_temperature_celsius",
			Help:      "Latest room temperature per zone.",
		}, []string{"zone"}),
		zoneTarget: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zoneheat",
			Name:      "zone_target_celsius",
			Help:      "Current target temperature per zone.",
		}, []string{"zone"}),
		zoneOutdoor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zoneheat",
			Name:      "zone_outdoor_celsius",
			Help:      "Smoothed outdoor temperature per zone.",
		}, []string{"zone"}),
		heaterState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zoneheat",
			Name:      "zone_heater_on",
			Help:      "1 while the zone heater is commanded on.",
		}, []string{"zone"}),
		windowState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zoneheat",
			Name:      "zone_window_open",
			Help:      "1 while the window detector reports open.",
		}, []string{"zone"}),
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zoneheat",
			Name:      "heating_cycles_total",
			Help:      "Finished heating cycles per zone and outcome.",
		}, []string{"zone", "outcome"}),
		windowEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zoneheat",
			Name:      "window_events_total",
			Help:      "Window detector transitions per zone and event.",
		}, []string{"zone", "event"}),
		overshoot: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zoneheat",
			Name:      "cycle_overshoot_celsius",
			Help:      "Peak temperature minus target per finished cycle.",
			Buckets:   []float64{-0.5, -0.25, -0.1, 0, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"zone"}),
		proposedOnSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zoneheat",
			Name:      "proposed_on_seconds",
			Help:      "Solver-proposed heater on durations.",
			Buckets:   prometheus.ExponentialBuckets(60, 2, 7),
		}, []string{"zone"}),
	}

	reg.MustRegister(
		m.zoneTemperature, m.zoneTarget, m.zoneOutdoor, m.heaterState,
		m.windowState, m.cyclesTotal, m.windowEventsTotal, m.overshoot,
		m.proposedOnSeconds,
	)
	return m
}

func (m *Metrics) SetTemperature(zone string, v float64) {
	if m == nil {
		return
	}
	m.zoneTemperature.WithLabelValues(zone).Set(v)
}

func (m *Metrics) SetTarget(zone string, v float64) {
	if m == nil {
		return
	}
	m.zoneTarget.WithLabelValues(zone).Set(v)
}

func (m *Metrics) SetOutdoor(zone string, v float64) {
	if m == nil {
		return
	}
	m.zoneOutdoor.WithLabelValues(zone).Set(v)
}

func (m *Metrics) SetHeaterOn(zone string, on bool) {
	if m == nil {
		return
	}
	m.heaterState.WithLabelValues(zone).Set(boolToGauge(on))
}

func (m *Metrics) SetWindowOpen(zone string, open bool) {
	if m == nil {
		return
	}
	m.windowState.WithLabelValues(zone).Set(boolToGauge(open))
}

func (m *Metrics) CycleFinished(zone, outcome string, overshoot float64) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(zone, outcome).Inc()
	m.overshoot.WithLabelValues(zone).Observe(overshoot)
}

func (m *Metrics) WindowEvent(zone, event string) {
	if m == nil {
		return
	}
	m.windowEventsTotal.WithLabelValues(zone, event).Inc()
}

func (m *Metrics) ObserveProposedOn(zone string, seconds float64) {
	if m == nil {
		return
	}
	m.proposedOnSeconds.WithLabelValues(zone).Observe(seconds)
}

func boolToGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
