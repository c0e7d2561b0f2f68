package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// proxyQuarantined tracks how many pool members are sitting out a quarantine.
var proxyQuarantined = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "proxy_quarantined",
	Help: "Number of proxies currently quarantined",
})
