package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess = "success"
	resultAuth    = "auth_error"
	resultFailed  = "failed"
)

type Metrics struct {
	refreshTotal    *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	thermostats     *prometheus.GaugeVec
	lastSuccess     *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ojmicroline",
			Subsystem: "coordinator",
			Name:      "refresh_total",
			Help:      "Thermostat fetches by config entry and result",
		}, []string{"entry", "result"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ojmicroline",
			Subsystem: "coordinator",
			Name:      "refresh_duration_seconds",
			Help:      "Time spent fetching thermostats from the vendor",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entry"}),
		thermostats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ojmicroline",
			Subsystem: "coordinator",
			Name:      "thermostats",
			Help:      "Thermostats in the last published snapshot",
		}, []string{"entry"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ojmicroline",
			Subsystem: "coordinator",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful fetch",
		}, []string{"entry"}),
	}

	if reg != nil {
		reg.MustRegister(m.refreshTotal, m.refreshDuration, m.thermostats, m.lastSuccess)
	}

	return m
}

func (m *Metrics) observe(entry, result string, took time.Duration) {
	if m == nil {
		return
	}

	m.refreshTotal.WithLabelValues(entry, result).Inc()
	m.refreshDuration.WithLabelValues(entry).Observe(took.Seconds())
}

func (m *Metrics) published(entry string, count int, at time.Time) {
	if m == nil {
		return
	}

	m.thermostats.WithLabelValues(entry).Set(float64(count))
	m.lastSuccess.WithLabelValues(entry).Set(float64(at.Unix()))
}

// Forget drops the series of an unloaded entry
func (m *Metrics) Forget(entry string) {
	if m == nil {
		return
	}

	for _, result := range []string{resultSuccess, resultAuth, resultFailed} {
		m.refreshTotal.DeleteLabelValues(entry, result)
	}
	m.refreshDuration.DeleteLabelValues(entry)
	m.thermostats.DeleteLabelValues(entry)
	m.lastSuccess.DeleteLabelValues(entry)
}
