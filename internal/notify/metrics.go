package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// sentTotal counts completed deliveries by channel.
	sentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total notifications delivered, by channel",
	}, []string{"channel"})

	// dedupedTotal counts deliveries suppressed by the dedup window.
	dedupedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_deduped_total",
		Help: "Notifications suppressed as duplicates inside the dedup window",
	})

	// failedTotal counts failed channel sends by channel.
	failedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Total failed notification deliveries, by channel",
	}, []string{"channel"})
)
