package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

// Gauges supplies live values sampled at scrape time. Nil funcs are skipped.
type Gauges struct {
	PendingAlerts  func() int
	ActiveVehicles func() int
	StoreDegraded  func() bool
}

func registerGauges(g Gauges, logger *log.Logger) {
	if g.PendingAlerts != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "alerts_pending",
				Help: "Alerts waiting for acknowledgement",
			},
			func() float64 {
				return sampleCount(g.PendingAlerts, logger, "alerts_pending")
			},
		))
	}
	if g.ActiveVehicles != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "vehicles_active",
				Help: "Vehicles in the active summary",
			},
			func() float64 {
				return sampleCount(g.ActiveVehicles, logger, "vehicles_active")
			},
		))
	}
	if g.StoreDegraded != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "store_degraded",
				Help: "1 when persistence has fallen back to memory",
			},
			func() float64 {
				if g.StoreDegraded() {
					return 1
				}
				return 0
			},
		))
	}
}

func sampleCount(fn func() int, logger *log.Logger, name string) float64 {
	count := fn()
	if count < 0 {
		if logger != nil {
			logger.Printf("metrics gauge %s returned negative value %d", name, count)
		}
		return 0
	}
	return float64(count)
}
