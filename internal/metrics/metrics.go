// Package metrics defines Prometheus metrics for the mod manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"deftheim/internal/domain"
)

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deftheim_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deftheim_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deftheim_errors_total",
			Help: "Total errors by kind",
		},
		[]string{"kind"},
	)

	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deftheim_operations_total",
			Help: "Mutating operations by outcome",
		},
		[]string{"operation", "result"},
	)

	ModCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deftheim_mods",
			Help: "Catalog entries by state",
		},
		[]string{"state"},
	)

	BackupCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deftheim_backups",
			Help: "Backups in the index",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal, ErrorsTotal,
		OperationsTotal, ModCount, BackupCount,
	)
}

// ObserveOperation counts one finished operation, classifying failures by
// error kind.
func ObserveOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = string(domain.Kind(err))
		ErrorsTotal.WithLabelValues(result).Inc()
	}
	OperationsTotal.WithLabelValues(op, result).Inc()
}

// SetModCounts publishes the catalog breakdown by state.
func SetModCounts(mods []domain.Mod) {
	counts := map[domain.ModState]int{}
	for i := range mods {
		counts[mods[i].State]++
	}
	for _, s := range []domain.ModState{domain.StateNotInstalled, domain.StateDisabled, domain.StateEnabled} {
		ModCount.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}
