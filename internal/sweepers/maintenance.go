// Package sweepers hosts the periodic background maintenance loop:
// expired quarantine purging, notification-record pruning and price
// snapshot archival.
package sweepers

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stockpulse/stock-monitor/internal/database"
)

// Options configures the maintenance sweeper. A zero retention disables
// that sweep.
type Options struct {
	Interval              time.Duration
	NotificationRetention time.Duration
	SnapshotRetention     time.Duration
}

// Maintenance periodically cleans up rows the engine no longer reads.
type Maintenance struct {
	opts     Options
	logger   zerolog.Logger
	stopChan chan struct{}

	// now is swappable in tests.
	now func() time.Time
}

// NewMaintenance creates a stopped sweeper. Call Start in a goroutine.
func NewMaintenance(opts Options) *Maintenance {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Minute
	}
	return &Maintenance{
		opts:     opts,
		logger:   log.With().Str("component", "sweeper").Logger(),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is
// called.
func (s *Maintenance) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.opts.Interval).
		Dur("notification_retention", s.opts.NotificationRetention).
		Dur("snapshot_retention", s.opts.SnapshotRetention).
		Msg("Starting maintenance sweeper")

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Maintenance sweeper stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info().Msg("Maintenance sweeper stopping (stop signal)")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop
func (s *Maintenance) Stop() {
	close(s.stopChan)
}

// Sweep runs every maintenance job once. Jobs are independent; one
// failing does not stop the others.
func (s *Maintenance) Sweep(ctx context.Context) {
	now := s.now().UTC()

	if purged, err := database.PurgeExpiredHostBlocks(ctx, now); err != nil {
		s.logger.Error().Err(err).Msg("Failed to purge expired host blocks")
	} else if purged > 0 {
		s.logger.Info().Int64("purged", purged).Msg("Purged expired host blocks")
	}

	if s.opts.NotificationRetention > 0 {
		cutoff := now.Add(-s.opts.NotificationRetention)
		if pruned, err := database.PruneNotifications(ctx, cutoff); err != nil {
			s.logger.Error().Err(err).Msg("Failed to prune notification records")
		} else if pruned > 0 {
			s.logger.Info().Int64("pruned", pruned).Msg("Pruned notification records")
		}
	}

	if s.opts.SnapshotRetention > 0 {
		cutoff := now.Add(-s.opts.SnapshotRetention)
		if archived, err := database.ArchivePrices(ctx, cutoff); err != nil {
			s.logger.Error().Err(err).Msg("Failed to archive price snapshots")
		} else if archived > 0 {
			s.logger.Info().Int64("archived", archived).Msg("Archived price snapshots")
		}
	}
}
