package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus instruments shared by the services. A nil
// *Metrics is valid and turns every call into a no-op, which keeps tests
// free of registry plumbing.
type Metrics struct {
	TrackEvents      prometheus.Counter
	Crossings        *prometheus.CounterVec
	DedupeRejections prometheus.Counter
	AlertsSent       *prometheus.CounterVec
	PeopleCount      prometheus.Gauge
	VehicleCount     prometheus.Gauge
	ShiftActive      prometheus.Gauge
	ShiftChecks      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TrackEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gate_sentinel",
			Name:      "track_events_total",
			Help:      "Track events accepted for processing.",
		}),
		Crossings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gate_sentinel",
			Name:      "crossings_total",
			Help:      "Committed gate-line crossings.",
		}, []string{"label", "direction"}),
		DedupeRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gate_sentinel",
			Name:      "dedupe_rejections_total",
			Help:      "Duplicate crossings rejected inside the dedupe window.",
		}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gate_sentinel",
			Name:      "alerts_sent_total",
			Help:      "Alerts sent, by alert key.",
		}, []string{"alert_key"}),
		PeopleCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gate_sentinel",
			Name:      "people_count",
			Help:      "Current people counter.",
		}),
		VehicleCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gate_sentinel",
			Name:      "vehicle_count",
			Help:      "Current vehicle counter.",
		}),
		ShiftActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gate_sentinel",
			Name:      "camera_shift_active",
			Help:      "1 while the camera shift detector is in the SHIFTED state.",
		}),
		ShiftChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gate_sentinel",
			Name:      "camera_shift_checks_total",
			Help:      "Baseline comparisons performed by the shift detector.",
		}),
	}
	reg.MustRegister(
		m.TrackEvents,
		m.Crossings,
		m.DedupeRejections,
		m.AlertsSent,
		m.PeopleCount,
		m.VehicleCount,
		m.ShiftActive,
		m.ShiftChecks,
	)
	return m
}

func (m *Metrics) IncTrackEvents() {
	if m != nil {
		m.TrackEvents.Inc()
	}
}

func (m *Metrics) IncCrossing(label, direction string) {
	if m != nil {
		m.Crossings.WithLabelValues(label, direction).Inc()
	}
}

func (m *Metrics) IncDedupeRejections() {
	if m != nil {
		m.DedupeRejections.Inc()
	}
}

func (m *Metrics) IncAlertsSent(alertKey string) {
	if m != nil {
		m.AlertsSent.WithLabelValues(alertKey).Inc()
	}
}

func (m *Metrics) SetCount(label string, value int) {
	if m == nil {
		return
	}
	switch label {
	case "person":
		m.PeopleCount.Set(float64(value))
	case "vehicle":
		m.VehicleCount.Set(float64(value))
	}
}

func (m *Metrics) SetShiftActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.ShiftActive.Set(1)
	} else {
		m.ShiftActive.Set(0)
	}
}

func (m *Metrics) IncShiftChecks() {
	if m != nil {
		m.ShiftChecks.Inc()
	}
}
