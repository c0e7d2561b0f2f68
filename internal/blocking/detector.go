package blocking

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stockpulse/stock-monitor/internal/database"
	"github.com/stockpulse/stock-monitor/internal/types"
)

const stripeCount = 64

// Store persists quarantines so they survive restarts.
type Store interface {
	SaveHostBlock(ctx context.Context, block database.HostBlock) error
	ListActiveHostBlocks(ctx context.Context, now time.Time) ([]database.HostBlock, error)
}

type dbStore struct{}

func (dbStore) SaveHostBlock(ctx context.Context, block database.HostBlock) error {
	return database.SaveHostBlock(ctx, block)
}

func (dbStore) ListActiveHostBlocks(ctx context.Context, now time.Time) ([]database.HostBlock, error) {
	return database.ListActiveHostBlocks(ctx, now)
}

// Options configures detector cool-downs.
type Options struct {
	// HostQuarantine applies to forbidden and challenge classifications.
	HostQuarantine time.Duration
	// RateLimitQuarantine applies to 429 without a Retry-After hint.
	RateLimitQuarantine time.Duration
	// TransientQuarantine applies after TransientThreshold transients inside
	// TransientWindow.
	TransientQuarantine time.Duration
	TransientWindow     time.Duration
	TransientThreshold  int
	// Store overrides persistence; nil uses the database package.
	Store Store
}

type blockState struct {
	until  time.Time
	reason types.BlockReason
}

// stripe guards the block and transient state for the hosts hashing into it.
type stripe struct {
	mu         sync.Mutex
	blocks     map[string]blockState
	transients map[string][]time.Time
}

// Detector is the shared blocking state consulted before every scan and
// updated after every classification. State is striped by host so tasks
// hitting different retailers never contend on one lock.
type Detector struct {
	stripes [stripeCount]stripe

	hostQuarantine      time.Duration
	rateLimitQuarantine time.Duration
	transientQuarantine time.Duration
	transientWindow     time.Duration
	transientThreshold  int

	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewDetector builds a detector with the configured cool-downs. Zero values
// fall back to the documented defaults.
func NewDetector(opts Options) *Detector {
	d := &Detector{
		hostQuarantine:      opts.HostQuarantine,
		rateLimitQuarantine: opts.RateLimitQuarantine,
		transientQuarantine: opts.TransientQuarantine,
		transientWindow:     opts.TransientWindow,
		transientThreshold:  opts.TransientThreshold,
		store:               opts.Store,
		logger:              log.With().Str("component", "blocking").Logger(),
		now:                 time.Now,
	}
	if d.hostQuarantine <= 0 {
		d.hostQuarantine = time.Hour
	}
	if d.rateLimitQuarantine <= 0 {
		d.rateLimitQuarantine = 10 * time.Minute
	}
	if d.transientQuarantine <= 0 {
		d.transientQuarantine = 15 * time.Minute
	}
	if d.transientWindow <= 0 {
		d.transientWindow = 10 * time.Minute
	}
	if d.transientThreshold <= 0 {
		d.transientThreshold = 3
	}
	if d.store == nil {
		d.store = dbStore{}
	}
	for i := range d.stripes {
		d.stripes[i].blocks = make(map[string]blockState)
		d.stripes[i].transients = make(map[string][]time.Time)
	}
	return d
}

// LoadPersisted restores still-active quarantines from storage, typically at
// startup. Expired rows are left for the sweeper.
func (d *Detector) LoadPersisted(ctx context.Context) error {
	blocks, err := d.store.ListActiveHostBlocks(ctx, d.now())
	if err != nil {
		return err
	}
	for _, b := range blocks {
		s := d.stripeFor(b.Host)
		s.mu.Lock()
		s.blocks[blockKey(b.Host, b.ProxyID)] = blockState{
			until:  b.BlockedUntil,
			reason: types.BlockReason(b.Reason),
		}
		s.mu.Unlock()
	}
	if len(blocks) > 0 {
		d.logger.Info().Int("blocks", len(blocks)).Msg("Restored active host quarantines")
	}
	d.refreshGauge()
	return nil
}

func (d *Detector) stripeFor(host string) *stripe {
	h := fnv.New32a()
	h.Write([]byte(host))
	return &d.stripes[h.Sum32()%stripeCount]
}

func blockKey(host, proxyID string) string {
	if proxyID == "" {
		return host
	}
	return host + "|" + proxyID
}

// IsBlocked reports whether the host itself is under an unexpired quarantine.
// Proxy-scoped blocks do not gate the host. This is the dispatcher's no-I/O
// skip check.
func (d *Detector) IsBlocked(host string) bool {
	_, blocked := d.BlockedUntil(host)
	return blocked
}

// BlockedUntil returns the host-wide quarantine expiry when one is active.
func (d *Detector) BlockedUntil(host string) (time.Time, bool) {
	s := d.stripeFor(host)
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.blocks[host]
	if !ok {
		return time.Time{}, false
	}
	if !state.until.After(d.now()) {
		delete(s.blocks, host)
		return time.Time{}, false
	}
	return state.until, true
}

// RecordBlock quarantines host for the duration its reason dictates, and
// additionally records against (host, proxy) when a proxy was in use.
// retryAfter overrides the rate-limit default when the server sent a hint.
// Returns the quarantine expiry.
func (d *Detector) RecordBlock(ctx context.Context, host, proxyID string, reason types.BlockReason, retryAfter time.Duration) time.Time {
	now := d.now()
	until := now.Add(d.quarantineFor(reason, retryAfter))

	s := d.stripeFor(host)
	s.mu.Lock()
	s.blocks[host] = blockState{until: until, reason: reason}
	if proxyID != "" {
		s.blocks[blockKey(host, proxyID)] = blockState{until: until, reason: reason}
	}
	delete(s.transients, host)
	s.mu.Unlock()

	d.logger.Warn().
		Str("host", host).
		Str("reason", string(reason)).
		Time("blocked_until", until).
		Msg("Host quarantined")

	d.persist(ctx, host, "", now, until, reason)
	if proxyID != "" {
		d.persist(ctx, host, proxyID, now, until, reason)
	}
	d.refreshGauge()
	return until
}

func (d *Detector) quarantineFor(reason types.BlockReason, retryAfter time.Duration) time.Duration {
	switch reason {
	case types.BlockReasonRateLimited:
		if retryAfter > 0 {
			return retryAfter
		}
		return d.rateLimitQuarantine
	case types.BlockReasonTransientBurst:
		return d.transientQuarantine
	default:
		return d.hostQuarantine
	}
}

// RecordTransient counts one timeout or 5xx against the host's rolling
// window. Crossing the threshold inside the window converts the burst into a
// quarantine; the window resets so recovery starts clean.
func (d *Detector) RecordTransient(ctx context.Context, host, proxyID string) (time.Time, bool) {
	now := d.now()
	cutoff := now.Add(-d.transientWindow)

	s := d.stripeFor(host)
	s.mu.Lock()
	recent := s.transients[host][:0]
	for _, at := range s.transients[host] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	recent = append(recent, now)
	s.transients[host] = recent
	burst := len(recent) >= d.transientThreshold
	s.mu.Unlock()

	if !burst {
		return time.Time{}, false
	}
	return d.RecordBlock(ctx, host, proxyID, types.BlockReasonTransientBurst, 0), true
}

// Observe applies the cool-down policy for one classification and reports
// whether the host ended up quarantined. ok and ok_empty leave state alone;
// the rolling window ages transients out on its own.
func (d *Detector) Observe(ctx context.Context, host, proxyID string, class types.Classification, retryAfter time.Duration) (time.Time, bool) {
	switch class {
	case types.ClassForbidden:
		return d.RecordBlock(ctx, host, proxyID, types.BlockReasonForbidden, 0), true
	case types.ClassChallenge:
		return d.RecordBlock(ctx, host, proxyID, types.BlockReasonChallenge, 0), true
	case types.ClassRateLimited:
		return d.RecordBlock(ctx, host, proxyID, types.BlockReasonRateLimited, retryAfter), true
	case types.ClassTimeout, types.ClassServerError:
		return d.RecordTransient(ctx, host, proxyID)
	default:
		return time.Time{}, false
	}
}

func (d *Detector) persist(ctx context.Context, host, proxyID string, at, until time.Time, reason types.BlockReason) {
	err := d.store.SaveHostBlock(ctx, database.HostBlock{
		Host:         host,
		ProxyID:      proxyID,
		BlockedAt:    at,
		BlockedUntil: until,
		Reason:       string(reason),
	})
	if err != nil {
		d.logger.Error().Err(err).Str("host", host).Msg("Failed to persist host block")
	}
}

// ActiveBlock is one live quarantine as reported by ActiveBlocks.
type ActiveBlock struct {
	Host         string            `json:"host"`
	ProxyID      string            `json:"proxy_id,omitempty"`
	Reason       types.BlockReason `json:"reason"`
	BlockedUntil time.Time         `json:"blocked_until"`
}

// ActiveBlocks returns every unexpired quarantine, host-wide and
// proxy-scoped, sorted by host for stable admin output.
func (d *Detector) ActiveBlocks() []ActiveBlock {
	now := d.now()
	var out []ActiveBlock
	for i := range d.stripes {
		s := &d.stripes[i]
		s.mu.Lock()
		for key, state := range s.blocks {
			if !state.until.After(now) {
				delete(s.blocks, key)
				continue
			}
			host, proxyID := splitBlockKey(key)
			out = append(out, ActiveBlock{
				Host:         host,
				ProxyID:      proxyID,
				Reason:       state.reason,
				BlockedUntil: state.until,
			})
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].ProxyID < out[j].ProxyID
	})

	hosts := 0
	for _, b := range out {
		if b.ProxyID == "" {
			hosts++
		}
	}
	blockedHosts.Set(float64(hosts))

	return out
}

// refreshGauge recounts active host-wide blocks. Expired entries are left
// for the lazy delete paths; slightly stale counts correct on the next walk.
func (d *Detector) refreshGauge() {
	now := d.now()
	hosts := 0
	for i := range d.stripes {
		s := &d.stripes[i]
		s.mu.Lock()
		for key, state := range s.blocks {
			_, proxyID := splitBlockKey(key)
			if proxyID == "" && state.until.After(now) {
				hosts++
			}
		}
		s.mu.Unlock()
	}
	blockedHosts.Set(float64(hosts))
}

func splitBlockKey(key string) (host, proxyID string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
