// Package scan dispatches retailer scans: it owns the pluggable scanner
// registry, per-host pacing, browser header rotation, proxy selection and
// the retry/classification flow around each fetch.
package scan

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/stockpulse/stock-monitor/internal/types"
)

// RetailerScanner is the contract a retailer integration implements.
// Fetch performs exactly one HTTP exchange and never retries internally;
// Parse turns a healthy response body (already UTF-8) into normalized
// products.
type RetailerScanner interface {
	// Retailer is the registry key, e.g. "htmlgrid".
	Retailer() string
	// Host is the quarantine and pacing key for this retailer.
	Host() string
	// RequiresZip reports whether Fetch needs a zip code to regionalize
	// results.
	RequiresZip() bool
	// SupportsSKULookup reports whether queries may be raw SKUs.
	SupportsSKULookup() bool
	// ExpectedMarkers lists substrings every healthy page contains. Used to
	// tell thin-but-real pages from challenge walls.
	ExpectedMarkers() []string
	Fetch(ctx context.Context, query, zip string, client *http.Client) *types.FetchResult
	Parse(result *types.FetchResult) ([]types.Product, error)
}

// Registry maps retailer names to their scanners.
type Registry struct {
	mu       sync.RWMutex
	scanners map[string]RetailerScanner
}

// DefaultRegistry is the process-wide registry the server and CLI wire
// scanners into.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty scanner registry.
func NewRegistry() *Registry {
	return &Registry{scanners: make(map[string]RetailerScanner)}
}

// Register adds a scanner under its retailer name, replacing any previous
// registration.
func (r *Registry) Register(s RetailerScanner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanners[s.Retailer()] = s
}

// Get retrieves a scanner by retailer name.
func (r *Registry) Get(retailer string) (RetailerScanner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scanners[retailer]
	return s, ok
}

// MustGet retrieves a scanner or errors with the known retailer list, for
// task validation at creation time.
func (r *Registry) MustGet(retailer string) (RetailerScanner, error) {
	if s, ok := r.Get(retailer); ok {
		return s, nil
	}
	return nil, fmt.Errorf("unknown retailer %q (registered: %v)", retailer, r.Retailers())
}

// Retailers returns the sorted registered retailer names.
func (r *Registry) Retailers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scanners))
	for name := range r.scanners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
