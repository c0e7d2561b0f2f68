// Package handlers implements the admin HTTP API: health probes, group and
// task management, watchlist subscriptions, and operational views over the
// runner, proxy pool and block table.
package handlers

import (
	"github.com/stockpulse/stock-monitor/internal/blocking"
	"github.com/stockpulse/stock-monitor/internal/proxy"
	"github.com/stockpulse/stock-monitor/internal/runner"
)

// Deps carries the live components the operational endpoints report on.
// Store-backed endpoints work without any of them.
type Deps struct {
	Runner   *runner.Runner
	Pool     *proxy.Pool
	Detector *blocking.Detector
}

var deps Deps

// Init wires live components into the package. Call once before route
// registration.
func Init(d Deps) {
	deps = d
}
