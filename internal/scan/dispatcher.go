package scan

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/stockpulse/stock-monitor/internal/blocking"
	"github.com/stockpulse/stock-monitor/internal/proxy"
	"github.com/stockpulse/stock-monitor/internal/retry"
	"github.com/stockpulse/stock-monitor/internal/types"
)

// Options configures dispatcher behavior.
type Options struct {
	Registry *Registry
	Pool     *proxy.Pool
	Detector *blocking.Detector

	// MinDelay/MaxDelay bound the pre-request jitter; MinDelay is also the
	// per-host pacing floor.
	MinDelay time.Duration
	MaxDelay time.Duration
	// HTTPTimeout is the hard cap on each network call.
	HTTPTimeout time.Duration
	// VerifyDelay is the pause before the out-of-stock-to-in-stock
	// verification refetch. Zero disables verification.
	VerifyDelay time.Duration
	// SuspiciousMinBytes feeds the short-body challenge rule.
	SuspiciousMinBytes int
	RetryPolicy        retry.Policy
}

// Dispatcher owns the per-scan algorithm: quarantine check, proxy selection,
// jitter and per-host pacing, header rotation, fetch-with-retry,
// classification, parsing and the optional stock verification refetch.
type Dispatcher struct {
	registry *Registry
	pool     *proxy.Pool
	detector *blocking.Detector

	minDelay           time.Duration
	maxDelay           time.Duration
	httpTimeout        time.Duration
	verifyDelay        time.Duration
	suspiciousMinBytes int
	retryPolicy        retry.Policy

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	logger zerolog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewDispatcher wires a dispatcher from its collaborators. Zero durations
// fall back to the documented defaults.
func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{
		registry:           opts.Registry,
		pool:               opts.Pool,
		detector:           opts.Detector,
		minDelay:           opts.MinDelay,
		maxDelay:           opts.MaxDelay,
		httpTimeout:        opts.HTTPTimeout,
		verifyDelay:        opts.VerifyDelay,
		suspiciousMinBytes: opts.SuspiciousMinBytes,
		retryPolicy:        opts.RetryPolicy,
		limiters:           make(map[string]*rate.Limiter),
		logger:             log.With().Str("component", "dispatcher").Logger(),
		now:                time.Now,
		sleep:              sleepCtx,
	}
	if d.registry == nil {
		d.registry = DefaultRegistry
	}
	if d.minDelay <= 0 {
		d.minDelay = 1 * time.Second
	}
	if d.maxDelay < d.minDelay {
		d.maxDelay = 3 * time.Second
	}
	if d.httpTimeout <= 0 {
		d.httpTimeout = 30 * time.Second
	}
	if d.retryPolicy.MaxAttempts == 0 {
		d.retryPolicy = retry.DefaultPolicy()
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// limiter returns the pacing limiter for a host, creating it on first use.
// Rate is one request per minDelay so two requests to the same host are
// always at least minDelay apart, across all workers.
func (d *Dispatcher) limiter(host string) *rate.Limiter {
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()
	l, ok := d.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(d.minDelay), 1)
		d.limiters[host] = l
	}
	return l
}

func (d *Dispatcher) jitter() time.Duration {
	span := d.maxDelay - d.minDelay
	if span <= 0 {
		return d.minDelay
	}
	return d.minDelay + time.Duration(rand.Int63n(int64(span)))
}

// Scan runs one retailer scan. prevInStock is the task's last in-stock key
// set: nil means the task never completed a scan (verification is skipped,
// the first cycle seeds state anyway). The returned classification is always
// meaningful; products are non-empty only for ok.
func (d *Dispatcher) Scan(ctx context.Context, retailer, query, zip string, prevInStock []string) ([]types.Product, types.Classification, error) {
	scanner, ok := d.registry.Get(retailer)
	if !ok {
		return nil, "", fmt.Errorf("unknown retailer %q", retailer)
	}
	host := scanner.Host()
	if scanner.RequiresZip() && zip == "" {
		return nil, "", fmt.Errorf("retailer %q requires a zip code", retailer)
	}

	start := d.now()
	defer func() {
		scanDuration.WithLabelValues(retailer).Observe(d.now().Sub(start).Seconds())
	}()

	// Quarantined hosts are skipped without any network I/O.
	if d.detector.IsBlocked(host) {
		scanSkipped.WithLabelValues(retailer).Inc()
		scanTotal.WithLabelValues(retailer, string(types.ClassForbidden)).Inc()
		d.logger.Debug().Str("retailer", retailer).Str("host", host).Msg("Skipping scan, host quarantined")
		return nil, types.ClassForbidden, nil
	}

	handle, err := d.acquireProxy(ctx)
	if err != nil {
		return nil, "", err
	}
	var proxyID, proxyURL string
	if handle != nil {
		proxyID, proxyURL = handle.ID, handle.URL
	}

	if err := d.sleep(ctx, d.jitter()); err != nil {
		d.releaseProxy(handle, types.ProxyOutcomeTransient)
		return nil, "", err
	}
	if err := d.limiter(host).Wait(ctx); err != nil {
		d.releaseProxy(handle, types.ProxyOutcomeTransient)
		return nil, "", err
	}

	client, err := newHTTPClient(proxyURL, d.httpTimeout)
	if err != nil {
		d.releaseProxy(handle, types.ProxyOutcomeTransient)
		return nil, "", err
	}

	result := d.fetchWithRetry(ctx, scanner, query, zip, client)
	class := blocking.Classify(result, d.signals(scanner))

	if !class.Healthy() {
		d.detector.Observe(ctx, host, proxyID, class, result.RetryAfter())
		d.releaseProxy(handle, outcomeFor(class))
		scanTotal.WithLabelValues(retailer, string(class)).Inc()
		d.logger.Warn().
			Str("retailer", retailer).
			Str("classification", string(class)).
			Msg("Scan blocked or failed upstream")
		return nil, class, nil
	}

	result.Body = DecodeBody(result.Body, contentType(result))
	products, parseErr := scanner.Parse(result)
	if parseErr != nil {
		d.releaseProxy(handle, types.ProxyOutcomeSuccess)
		scanTotal.WithLabelValues(retailer, "parse_error").Inc()
		return nil, types.ClassOK, &types.ParseError{Retailer: retailer, Message: parseErr.Error()}
	}
	if len(products) == 0 {
		class = types.ClassOKEmpty
	}

	products = d.verifyStockFlips(ctx, scanner, query, zip, client, products, prevInStock)

	d.releaseProxy(handle, types.ProxyOutcomeSuccess)
	scanTotal.WithLabelValues(retailer, string(class)).Inc()
	return products, class, nil
}

func (d *Dispatcher) acquireProxy(ctx context.Context) (*proxy.Handle, error) {
	if d.pool == nil {
		return nil, ctx.Err()
	}
	return d.pool.Acquire(ctx)
}

func (d *Dispatcher) releaseProxy(handle *proxy.Handle, outcome types.ProxyOutcome) {
	if d.pool == nil || handle == nil {
		return
	}
	d.pool.Release(handle, outcome)
}

func (d *Dispatcher) signals(scanner RetailerScanner) blocking.Signals {
	return blocking.Signals{
		ExpectedMarkers:    scanner.ExpectedMarkers(),
		SuspiciousMinBytes: d.suspiciousMinBytes,
	}
}

func contentType(result *types.FetchResult) string {
	if result.Header == nil {
		return ""
	}
	return result.Header.Get("Content-Type")
}

// fetchWithRetry executes the scanner fetch under the network-only retry
// predicate: connection failures, timeouts, 5xx and 429 retry; every other
// status is final and goes straight to classification.
func (d *Dispatcher) fetchWithRetry(ctx context.Context, scanner RetailerScanner, query, zip string, client *http.Client) *types.FetchResult {
	var result *types.FetchResult
	_ = retry.Do(ctx, d.retryPolicy, func(ctx context.Context) error {
		result = scanner.Fetch(ctx, query, zip, client)
		if err := ctx.Err(); err != nil {
			return err
		}
		return retryableFetchError(result, scanner.Host())
	})
	if result == nil {
		result = &types.FetchResult{Err: ctx.Err()}
	}
	return result
}

func retryableFetchError(result *types.FetchResult, host string) error {
	switch {
	case result == nil:
		return &types.TransientNetworkError{Err: errors.New("scanner returned no result")}
	case result.Err != nil:
		return &types.TransientNetworkError{Err: result.Err}
	case result.StatusCode == 429:
		return &types.RateLimitedError{Host: host, RetryAfter: result.RetryAfter()}
	case result.StatusCode >= 500:
		return &types.TransientNetworkError{Err: fmt.Errorf("upstream status %d", result.StatusCode)}
	default:
		return nil
	}
}

func outcomeFor(class types.Classification) types.ProxyOutcome {
	switch class {
	case types.ClassForbidden, types.ClassChallenge, types.ClassRateLimited:
		return types.ProxyOutcomeBlocked
	case types.ClassTimeout, types.ClassServerError:
		return types.ProxyOutcomeTransient
	default:
		return types.ProxyOutcomeSuccess
	}
}

// verifyStockFlips refetches once before trusting an out-of-stock to
// in-stock flip. Any verification failure downgrades the flipped products to
// out-of-stock for this cycle; a missed restock surfaces next cycle, a false
// in-stock alert does not.
func (d *Dispatcher) verifyStockFlips(ctx context.Context, scanner RetailerScanner, query, zip string, client *http.Client, products []types.Product, prevInStock []string) []types.Product {
	if d.verifyDelay <= 0 || prevInStock == nil {
		return products
	}

	prev := make(map[string]bool, len(prevInStock))
	for _, k := range prevInStock {
		prev[k] = true
	}

	flips := make(map[string]bool)
	for _, p := range products {
		if p.InStock && !prev[p.CanonicalKey()] {
			flips[p.CanonicalKey()] = true
		}
	}
	if len(flips) == 0 {
		return products
	}

	verified := d.verifiedInStockKeys(ctx, scanner, query, zip, client)
	downgraded := 0
	for i := range products {
		key := products[i].CanonicalKey()
		if flips[key] && !verified[key] {
			products[i].InStock = false
			downgraded++
		}
	}
	if downgraded > 0 {
		d.logger.Info().
			Str("retailer", scanner.Retailer()).
			Int("downgraded", downgraded).
			Msg("Stock flips failed verification, downgraded to out-of-stock")
	}
	return products
}

// verifiedInStockKeys performs the single verification refetch and returns
// the keys still reported in stock. Empty on any failure.
func (d *Dispatcher) verifiedInStockKeys(ctx context.Context, scanner RetailerScanner, query, zip string, client *http.Client) map[string]bool {
	if err := d.sleep(ctx, d.verifyDelay); err != nil {
		return nil
	}
	if err := d.limiter(scanner.Host()).Wait(ctx); err != nil {
		return nil
	}

	result := scanner.Fetch(ctx, query, zip, client)
	class := blocking.Classify(result, d.signals(scanner))
	if !class.Healthy() {
		return nil
	}
	result.Body = DecodeBody(result.Body, contentType(result))
	products, err := scanner.Parse(result)
	if err != nil {
		return nil
	}

	verified := make(map[string]bool, len(products))
	for _, p := range products {
		if p.InStock {
			verified[p.CanonicalKey()] = true
		}
	}
	return verified
}
