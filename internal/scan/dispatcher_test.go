package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/stockpulse/stock-monitor/internal/blocking"
	"github.com/stockpulse/stock-monitor/internal/database"
	"github.com/stockpulse/stock-monitor/internal/proxy"
	"github.com/stockpulse/stock-monitor/internal/retry"
	"github.com/stockpulse/stock-monitor/internal/types"
)

// fakeScanner plays back scripted fetch results.
type fakeScanner struct {
	retailer    string
	host        string
	requiresZip bool
	markers     []string

	mu      sync.Mutex
	results []*types.FetchResult
	fetches int

	parse func(*types.FetchResult) ([]types.Product, error)
}

func (f *fakeScanner) Retailer() string          { return f.retailer }
func (f *fakeScanner) Host() string              { return f.host }
func (f *fakeScanner) RequiresZip() bool         { return f.requiresZip }
func (f *fakeScanner) SupportsSKULookup() bool   { return false }
func (f *fakeScanner) ExpectedMarkers() []string { return f.markers }

func (f *fakeScanner) Fetch(ctx context.Context, query, zip string, client *http.Client) *types.FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if len(f.results) == 0 {
		return &types.FetchResult{Err: errors.New("script exhausted")}
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r
}

func (f *fakeScanner) Parse(result *types.FetchResult) ([]types.Product, error) {
	if f.parse != nil {
		return f.parse(result)
	}
	return nil, nil
}

func (f *fakeScanner) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// memProxyStore / memBlockStore keep dispatcher tests off the filesystem.
type memProxyStore struct {
	mu   sync.Mutex
	rows map[string]*database.ProxyRow
	seq  int
}

func (m *memProxyStore) UpsertProxy(ctx context.Context, url string) (*database.ProxyRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = make(map[string]*database.ProxyRow)
	}
	if row, ok := m.rows[url]; ok {
		return row, nil
	}
	m.seq++
	row := &database.ProxyRow{ID: fmt.Sprintf("prx_%02d", m.seq), URL: url}
	m.rows[url] = row
	return row, nil
}

func (m *memProxyStore) SaveProxyStats(ctx context.Context, row *database.ProxyRow) error {
	return nil
}

type memBlockStore struct{}

func (memBlockStore) SaveHostBlock(ctx context.Context, block database.HostBlock) error {
	return nil
}

func (memBlockStore) ListActiveHostBlocks(ctx context.Context, now time.Time) ([]database.HostBlock, error) {
	return nil, nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	detector   *blocking.Detector
	pool       *proxy.Pool
	scanner    *fakeScanner
	jitters    *[]time.Duration
}

func newFixture(t *testing.T, scanner *fakeScanner, attempts int) *dispatcherFixture {
	t.Helper()

	registry := NewRegistry()
	registry.Register(scanner)

	pool, err := proxy.NewPool(context.Background(), proxy.Options{
		URLs:  []string{"http://p1:8080", "http://p2:8080"},
		Store: &memProxyStore{},
	})
	require.NoError(t, err)

	detector := blocking.NewDetector(blocking.Options{Store: memBlockStore{}})

	d := NewDispatcher(Options{
		Registry:           registry,
		Pool:               pool,
		Detector:           detector,
		MinDelay:           time.Millisecond,
		MaxDelay:           3 * time.Millisecond,
		HTTPTimeout:        time.Second,
		VerifyDelay:        time.Millisecond,
		SuspiciousMinBytes: 500,
		RetryPolicy: retry.Policy{
			MaxAttempts: attempts,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
	})

	var jitters []time.Duration
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		jitters = append(jitters, dur)
		return ctx.Err()
	}

	return &dispatcherFixture{dispatcher: d, detector: detector, pool: pool, scanner: scanner, jitters: &jitters}
}

func healthyBody(marker string) []byte {
	b := []byte("<html>" + marker)
	for len(b) < 600 {
		b = append(b, []byte(" row")...)
	}
	return append(b, []byte("</html>")...)
}

func stockPage(marker string, inStock bool) *types.FetchResult {
	status := "out of stock"
	if inStock {
		status = "in stock"
	}
	body := healthyBody(marker + " " + status)
	return &types.FetchResult{StatusCode: 200, Body: body}
}

func TestScanHealthyPath(t *testing.T) {
	scanner := &fakeScanner{
		retailer: "faketcg",
		host:     "faketcg.example.com",
		markers:  []string{"product-grid"},
		results:  []*types.FetchResult{{StatusCode: 200, Body: healthyBody("product-grid")}},
		parse: func(result *types.FetchResult) ([]types.Product, error) {
			return []types.Product{{Retailer: "faketcg", Name: "Booster Box", InStock: true}}, nil
		},
	}
	fx := newFixture(t, scanner, 3)

	products, class, err := fx.dispatcher.Scan(context.Background(), "faketcg", "booster", "10001", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ClassOK, class)
	require.Len(t, products, 1)
	assert.Equal(t, 1, scanner.fetchCount())

	stats := fx.pool.Stats()
	total := 0
	for _, p := range stats.Proxies {
		total += p.SuccessCount
	}
	assert.Equal(t, 1, total, "proxy must be released with success")
}

func TestScanSkipsQuarantinedHostWithoutIO(t *testing.T) {
	scanner := &fakeScanner{retailer: "faketcg", host: "faketcg.example.com"}
	fx := newFixture(t, scanner, 3)

	fx.detector.RecordBlock(context.Background(), "faketcg.example.com", "", types.BlockReasonForbidden, 0)

	products, class, err := fx.dispatcher.Scan(context.Background(), "faketcg", "booster", "", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ClassForbidden, class)
	assert.Empty(t, products)
	assert.Zero(t, scanner.fetchCount(), "quarantined host must be skipped before any network I/O")
}

func TestScanForbiddenRecordsBlock(t *testing.T) {
	scanner := &fakeScanner{
		retailer: "faketcg",
		host:     "faketcg.example.com",
		results:  []*types.FetchResult{{StatusCode: 403}},
	}
	fx := newFixture(t, scanner, 3)

	products, class, err := fx.dispatcher.Scan(context.Background(), "faketcg", "booster", "", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ClassForbidden, class)
	assert.Empty(t, products)
	assert.Equal(t, 1, scanner.fetchCount(), "403 is not retryable")
	assert.True(t, fx.detector.IsBlocked("faketcg.example.com"))

	stats := fx.pool.Stats()
	quarantined := 0
	for _, p := range stats.Proxies {
		if !p.Available {
			quarantined++
		}
	}
	assert.Equal(t, 1, quarantined, "proxy must be released with blocked outcome")
}

func TestScanRetriesServerErrors(t *testing.T) {
	scanner := &fakeScanner{
		retailer: "faketcg",
		host:     "faketcg.example.com",
		markers:  []string{"product-grid"},
		results: []*types.FetchResult{
			{StatusCode: 502},
			{StatusCode: 502},
			{StatusCode: 200, Body: healthyBody("product-grid")},
		},
		parse: func(result *types.FetchResult) ([]types.Product, error) {
			return []types.Product{{Retailer: "faketcg", Name: "Booster Box", InStock: true}}, nil
		},
	}
	fx := newFixture(t, scanner, 3)

	products, class, err := fx.dispatcher.Scan(context.Background(), "faketcg", "booster", "", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ClassOK, class)
	assert.Len(t, products, 1)
	assert.Equal(t, 3, scanner.fetchCount(), "5xx must retry under the network predicate")
	assert.False(t, fx.detector.IsBlocked("faketcg.example.com"))
}

func TestScanServerErrorExhaustionFeedsTransientWindow(t *testing.T) {
	scanner := &fakeScanner{
		retailer: "faketcg",
		host:     "faketcg.example.com",
		results:  []*types.FetchResult{{StatusCode: 500}},
	}
	fx := newFixture(t, scanner, 1)

	// Three consecutive failing scans cross the transient threshold.
	for i := 0; i < 2; i++ {
		_, class, err := fx.dispatcher.Scan(context.Background(), "faketcg", "booster", "", nil)
		require.NoError(t, err)
		assert.Equal(t, types.ClassServerError, class)
		assert.False(t, fx.detector.IsBlocked("faketcg.example.com"))
	}
	_, class, err := fx.dispatcher.Scan(context.Background(), "faketcg", "booster", "", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ClassServerError, class)
	assert.True(t, fx.detector.IsBlocked("faketcg.example.com"), "transient burst must quarantine the host")
}

func TestScanRateLimitedHonorsRetryAfterQuarantine(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "1800")
	scanner := &fakeScanner{
		retailer: "faketcg",
		host:     "faketcg.example.com",
		results:  []*types.FetchResult{{StatusCode: 429, Header: h}},
	}
	fx := newFixture(t, scanner, 1)

	_, class, err := fx.dispatcher.Scan(context.Background(), "faketcg", "booster", "", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ClassRateLimited, class)

	until, blocked := fx.detector.BlockedUntil("faketcg.example.com")
	require.True(t, blocked)
	assert.InDelta(t, 1800, time.Until(until).Seconds(), 60, "quarantine must honor Retry-After")
}

func TestScanEmptyParseIsOKEmpty(t *testing.T) {
	scanner := &fakeScanner{
		retailer: "faketcg",
		host:     "faketcg.example.com",
		markers:  []string{"product-grid"},
		results:  []*types.FetchResult{{StatusCode: 200, Body: healthyBody("product-grid")}},
		parse: func(result *types.FetchResult) ([]types.Product, error) {
			return nil, nil
		},
	}
	fx := newFixture(t, scanner, 3)

	products, class, err := fx.dispatcher.Scan(context.Background(), "faketcg", "booster", "", nil)
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.Equal(t, types.ClassOKEmpty, class)
}

func TestScanParseErrorSurfaces(t *testing.T) {
	scanner := &fakeScanner{
		retailer: "faketcg",
		host:     "faketcg.example.com",
		markers:  []string{"product-grid"},
		results:  []*types.FetchResult{{StatusCode: 200, Body: healthyBody("product-grid")}},
		parse: func(result *types.FetchResult) ([]types.Product, error) {
			return nil, errors.New("missing price cell")
		},
	}
	fx := newFixture(t, scanner, 3)

	_, _, err := fx.dispatcher.Scan(context.Background(), "faketcg", "booster", "", nil)
	var parseErr *types.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "faketcg", parseErr.Retailer)
	assert.False(t, fx.detector.IsBlocked("faketcg.example.com"), "parse errors are not blocks")
}

func TestScanUnknownRetailer(t *testing.T) {
	fx := newFixture(t, &fakeScanner{retailer: "faketcg", host: "h"}, 3)

	_, _, err := fx.dispatcher.Scan(context.Background(), "nosuch", "booster", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown retailer")
}

func TestScanRequiresZip(t *testing.T) {
	scanner := &fakeScanner{retailer: "faketcg", host: "h", requiresZip: true}
	fx := newFixture(t, scanner, 3)

	_, _, err := fx.dispatcher.Scan(context.Background(), "faketcg", "booster", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip")
}

func TestVerificationDowngradesUnconfirmedFlips(t *testing.T) {
	first := stockPage("product-grid", true)
	verify := stockPage("product-grid", false)
	scanner := &fakeScanner{
		retailer: "faketcg",
		host:     "faketcg.example.com",
		markers:  []string{"product-grid"},
		results:  []*types.FetchResult{first, verify},
		parse: func(result *types.FetchResult) ([]types.Product, error) {
			inStock := string(result.Body) != "" && !containsOutOfStock(result.Body)
			return []types.Product{{Retailer: "faketcg", Name: "Booster Box", InStock: inStock}}, nil
		},
	}
	fx := newFixture(t, scanner, 3)

	// prev scan saw nothing in stock; this scan flips the product in.
	products, class, err := fx.dispatcher.Scan(context.Background(), "faketcg", "booster", "", []string{})
	require.NoError(t, err)
	assert.Equal(t, types.ClassOK, class)
	require.Len(t, products, 1)
	assert.False(t, products[0].InStock, "unconfirmed flip must downgrade to out-of-stock")
	assert.Equal(t, 2, scanner.fetchCount(), "verification performs exactly one refetch")
}

func TestVerificationConfirmsStableFlips(t *testing.T) {
	first := stockPage("product-grid", true)
	verify := stockPage("product-grid", true)
	scanner := &fakeScanner{
		retailer: "faketcg",
		host:     "faketcg.example.com",
		markers:  []string{"product-grid"},
		results:  []*types.FetchResult{first, verify},
		parse: func(result *types.FetchResult) ([]types.Product, error) {
			return []types.Product{{Retailer: "faketcg", Name: "Booster Box", InStock: !containsOutOfStock(result.Body)}}, nil
		},
	}
	fx := newFixture(t, scanner, 3)

	products, _, err := fx.dispatcher.Scan(context.Background(), "faketcg", "booster", "", []string{})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.True(t, products[0].InStock)
}

func TestVerificationSkippedOnFirstScan(t *testing.T) {
	scanner := &fakeScanner{
		retailer: "faketcg",
		host:     "faketcg.example.com",
		markers:  []string{"product-grid"},
		results:  []*types.FetchResult{stockPage("product-grid", true)},
		parse: func(result *types.FetchResult) ([]types.Product, error) {
			return []types.Product{{Retailer: "faketcg", Name: "Booster Box", InStock: true}}, nil
		},
	}
	fx := newFixture(t, scanner, 3)

	products, _, err := fx.dispatcher.Scan(context.Background(), "faketcg", "booster", "", nil)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.True(t, products[0].InStock)
	assert.Equal(t, 1, scanner.fetchCount(), "first scan seeds state and never verifies")
}

func TestJitterWithinConfiguredBounds(t *testing.T) {
	scanner := &fakeScanner{
		retailer: "faketcg",
		host:     "faketcg.example.com",
		markers:  []string{"product-grid"},
		results:  []*types.FetchResult{{StatusCode: 200, Body: healthyBody("product-grid")}},
	}
	fx := newFixture(t, scanner, 3)

	_, _, err := fx.dispatcher.Scan(context.Background(), "faketcg", "booster", "", nil)
	require.NoError(t, err)

	require.NotEmpty(t, *fx.jitters)
	first := (*fx.jitters)[0]
	assert.GreaterOrEqual(t, first, time.Millisecond)
	assert.Less(t, first, 3*time.Millisecond)
}

func TestPerHostPacing(t *testing.T) {
	scanner := &fakeScanner{
		retailer: "faketcg",
		host:     "faketcg.example.com",
		markers:  []string{"product-grid"},
		results:  []*types.FetchResult{{StatusCode: 200, Body: healthyBody("product-grid")}},
	}
	fx := newFixture(t, scanner, 3)
	fx.dispatcher.minDelay = 60 * time.Millisecond

	// Fresh limiter map so the new minDelay applies.
	fx.dispatcher.limiters = make(map[string]*rate.Limiter)

	start := time.Now()
	for i := 0; i < 2; i++ {
		_, _, err := fx.dispatcher.Scan(context.Background(), "faketcg", "booster", "", nil)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond,
		"two requests to one host must be at least min_delay apart")
}

func containsOutOfStock(body []byte) bool {
	return bytes.Contains(body, []byte("out of stock"))
}
