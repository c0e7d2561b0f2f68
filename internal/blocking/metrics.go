package blocking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// blockedHosts tracks how many hosts currently carry a host-wide quarantine.
var blockedHosts = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "blocked_hosts",
	Help: "Number of hosts currently under an active block",
})
