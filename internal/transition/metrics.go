package transition

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// snapshotsWritten counts price snapshot rows appended by reconciliation.
var snapshotsWritten = promauto.NewCounter(prometheus.CounterOpts{
	Name: "snapshots_written_total",
	Help: "Total number of price snapshots appended",
})
