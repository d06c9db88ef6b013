package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the risk core's operational counters in Prometheus text
// format; served at /metrics by the API server.
type Metrics struct {
	Admissions     *prometheus.CounterVec
	Rejections     *prometheus.CounterVec
	EmergencyStops prometheus.Counter
	Drawdown       *prometheus.GaugeVec
	Equity         *prometheus.GaugeVec
	RiskLevel      *prometheus.GaugeVec
}

// NewMetrics builds and registers the metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_admissions_total",
				Help: "Orders admitted",
			},
			[]string{"account", "mode"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_rejections_total",
				Help: "Orders rejected, split by failing gate",
			},
			[]string{"account", "gate"},
		),
		EmergencyStops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "risk_emergency_stops_total",
				Help: "Emergency stop sequences executed",
			},
		),
		Drawdown: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "risk_rolling_drawdown",
				Help: "Rolling peak-to-current drawdown fraction",
			},
			[]string{"account"},
		),
		Equity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "risk_equity",
				Help: "Account equity",
			},
			[]string{"account"},
		),
		RiskLevel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "risk_level",
				Help: "Risk level ordinal: 0 safe .. 4 emergency",
			},
			[]string{"account"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Admissions, m.Rejections, m.EmergencyStops, m.Drawdown, m.Equity, m.RiskLevel)
	}
	return m
}
