package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// scanTotal counts scans by retailer and final classification.
	scanTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_total",
		Help: "Total number of retailer scans by classification",
	}, []string{"retailer", "classification"})

	// scanDuration tracks end-to-end scan latency including jitter and retries.
	scanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scan_duration_seconds",
		Help:    "Scan duration by retailer",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"retailer"})

	// scanSkipped counts no-I/O skips for quarantined hosts.
	scanSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scan_skipped_total",
		Help: "Scans skipped because the host was quarantined",
	}, []string{"retailer"})
)
