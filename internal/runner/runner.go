// Package runner schedules and executes scan tasks: a single supervisor
// loop picks due tasks, a bounded worker pool runs the
// scan → reconcile → notify pipeline for each, and task state transitions
// are persisted atomically so crashes never leave half-finished runs behind.
package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/stockpulse/stock-monitor/internal/database"
	"github.com/stockpulse/stock-monitor/internal/notify"
	"github.com/stockpulse/stock-monitor/internal/types"
)

// starvationFactor promotes tasks overdue by this multiple of their
// interval ahead of newer arrivals.
const starvationFactor = 3

// completionWriteTimeout bounds the final status write. It runs on a fresh
// context so an expired task deadline cannot strand the task in 'running'.
const completionWriteTimeout = 10 * time.Second

// Store is the task persistence surface the runner drives.
type Store interface {
	ListEnabledTasks(ctx context.Context) ([]database.Task, error)
	MarkTaskRunning(ctx context.Context, id string, now time.Time) (bool, error)
	CompleteTaskSuccess(ctx context.Context, id string, inStockKeys []string) error
	CompleteTaskError(ctx context.Context, id string, errMsg string) error
}

type dbStore struct{}

func (dbStore) ListEnabledTasks(ctx context.Context) ([]database.Task, error) {
	return database.ListEnabledTasks(ctx)
}

func (dbStore) MarkTaskRunning(ctx context.Context, id string, now time.Time) (bool, error) {
	return database.MarkTaskRunning(ctx, id, now)
}

func (dbStore) CompleteTaskSuccess(ctx context.Context, id string, inStockKeys []string) error {
	return database.CompleteTaskSuccess(ctx, id, inStockKeys)
}

func (dbStore) CompleteTaskError(ctx context.Context, id string, errMsg string) error {
	return database.CompleteTaskError(ctx, id, errMsg)
}

// Scanner runs the fetch-and-parse stage for one retailer query.
type Scanner interface {
	Scan(ctx context.Context, retailer, query, zip string, prevInStock []string) ([]types.Product, types.Classification, error)
}

// Reconciler detects stock transitions and persists the new observations.
type Reconciler interface {
	Reconcile(ctx context.Context, task *database.Task, products []types.Product) ([]types.Event, []string, error)
}

// Notifier fans transition events out to subscribers and broadcast channels.
type Notifier interface {
	EmitAll(ctx context.Context, events []types.Event, effectiveZip string) []notify.Receipt
}

// Options configures a Runner.
type Options struct {
	// MaxWorkers bounds concurrently running tasks.
	MaxWorkers int
	// LoopSleep is the supervisor wake interval.
	LoopSleep time.Duration
	// MaxTaskDeadline caps the per-run deadline; the effective deadline is
	// min(task interval, MaxTaskDeadline).
	MaxTaskDeadline time.Duration
	// StopJoinTimeout bounds how long Stop waits for workers before
	// abandoning them.
	StopJoinTimeout time.Duration
	// DefaultZip is the final zip fallback after task and group values.
	DefaultZip string

	Scanner    Scanner
	Reconciler Reconciler
	Notifier   Notifier
	// Store defaults to the database package.
	Store Store
}

// InFlightTask describes one currently executing task for status reporting.
type InFlightTask struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Retailer  string    `json:"retailer"`
	StartedAt time.Time `json:"started_at"`
}

// Status is a point-in-time view of the runner for the admin API.
type Status struct {
	Running       bool           `json:"running"`
	MaxWorkers    int            `json:"max_workers"`
	InFlight      []InFlightTask `json:"in_flight"`
	LastTickAt    *time.Time     `json:"last_tick_at,omitempty"`
	CompletedOK   uint64         `json:"completed_ok"`
	CompletedErr  uint64         `json:"completed_error"`
	CompletedRuns uint64         `json:"completed_runs"`
}

// Runner owns the scheduling loop and the worker pool.
type Runner struct {
	opts   Options
	store  Store
	sem    *semaphore.Weighted
	logger zerolog.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	mu           sync.Mutex
	started      bool
	stopped      bool
	inflight     map[string]InFlightTask
	lastTick     *time.Time
	completedOK  uint64
	completedErr uint64

	// now is swappable in tests.
	now func() time.Time
}

// New builds a stopped runner. Call Start to begin scheduling.
func New(opts Options) *Runner {
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}
	if opts.LoopSleep <= 0 {
		opts.LoopSleep = time.Second
	}
	if opts.MaxTaskDeadline <= 0 {
		opts.MaxTaskDeadline = 60 * time.Second
	}
	if opts.StopJoinTimeout <= 0 {
		opts.StopJoinTimeout = 5 * time.Second
	}
	store := opts.Store
	if store == nil {
		store = dbStore{}
	}
	return &Runner{
		opts:     opts,
		store:    store,
		sem:      semaphore.NewWeighted(int64(opts.MaxWorkers)),
		logger:   log.With().Str("component", "runner").Logger(),
		tracer:   otel.Tracer("runner"),
		done:     make(chan struct{}),
		inflight: make(map[string]InFlightTask),
		now:      time.Now,
	}
}

// Start launches the supervisor loop. Calling Start twice is an error.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runner already started")
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	go r.run()
	r.logger.Info().
		Int("max_workers", r.opts.MaxWorkers).
		Dur("loop_sleep", r.opts.LoopSleep).
		Msg("Task runner started")
	return nil
}

// Stop cancels the root context and waits for workers up to the join
// timeout. Workers still out after that are abandoned; their final status
// writes are atomic, and startup reconciliation repairs anything cut off.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	<-r.done

	joined := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
		r.logger.Info().Msg("Task runner stopped")
	case <-time.After(r.opts.StopJoinTimeout):
		r.logger.Warn().
			Dur("join_timeout", r.opts.StopJoinTimeout).
			Int("abandoned", len(r.Snapshot().InFlight)).
			Msg("Workers did not return before join timeout, abandoning")
	}
}

// Snapshot returns the current runner status.
func (r *Runner) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	inflight := make([]InFlightTask, 0, len(r.inflight))
	for _, t := range r.inflight {
		inflight = append(inflight, t)
	}
	sort.Slice(inflight, func(i, j int) bool { return inflight[i].StartedAt.Before(inflight[j].StartedAt) })

	return Status{
		Running:       r.started && !r.stopped,
		MaxWorkers:    r.opts.MaxWorkers,
		InFlight:      inflight,
		LastTickAt:    r.lastTick,
		CompletedOK:   r.completedOK,
		CompletedErr:  r.completedErr,
		CompletedRuns: r.completedOK + r.completedErr,
	}
}

// run is the supervisor loop: wake, select due tasks, hand them to workers.
func (r *Runner) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.opts.LoopSleep)
	defer ticker.Stop()

	// First selection happens immediately, not one sleep later.
	r.tick()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Runner) tick() {
	now := r.now()
	r.mu.Lock()
	r.lastTick = &now
	r.mu.Unlock()

	tasks, err := r.store.ListEnabledTasks(r.ctx)
	if err != nil {
		if r.ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("Error listing tasks")
		}
		return
	}

	for _, task := range r.selectDue(tasks, now) {
		if !r.sem.TryAcquire(1) {
			// Pool is full; the task stays due and waits for the
			// next tick. No queue to grow without bound.
			return
		}
		task := task
		r.markInFlight(&task, now)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.sem.Release(1)
			defer r.clearInFlight(task.ID)
			r.execute(&task)
		}()
	}
}

// selectDue filters to due, not-in-flight tasks and applies fairness: the
// store already orders FIFO by last_run_at with never-run tasks leading;
// tasks starved past starvationFactor × interval jump the line.
func (r *Runner) selectDue(tasks []database.Task, now time.Time) []database.Task {
	var starved, due []database.Task
	for _, task := range tasks {
		if !task.EffectivelyEnabled() || !task.Due(now) || r.isInFlight(task.ID) {
			continue
		}
		if task.LastRunAt != nil && now.Sub(*task.LastRunAt) >= starvationFactor*task.EffectiveInterval() {
			starved = append(starved, task)
			continue
		}
		due = append(due, task)
	}
	return append(starved, due...)
}

func (r *Runner) isInFlight(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[id]
	return ok
}

func (r *Runner) markInFlight(task *database.Task, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight[task.ID] = InFlightTask{
		ID:        task.ID,
		Name:      task.Name,
		Retailer:  task.Retailer,
		StartedAt: now,
	}
	tasksInflight.Inc()
}

func (r *Runner) clearInFlight(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
	tasksInflight.Dec()
}

// execute runs the full pipeline for one claimed task. Panics are contained
// here: the task is marked errored and the worker returns to the pool.
func (r *Runner) execute(task *database.Task) {
	deadline := task.EffectiveInterval()
	if deadline <= 0 || deadline > r.opts.MaxTaskDeadline {
		deadline = r.opts.MaxTaskDeadline
	}
	runCtx, cancel := context.WithTimeout(r.ctx, deadline)
	defer cancel()

	runCtx, span := r.tracer.Start(runCtx, "task.run", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.retailer", task.Retailer),
	))
	defer span.End()

	claimed, err := r.store.MarkTaskRunning(runCtx, task.ID, r.now())
	if err != nil {
		r.logger.Error().Err(err).Str("task_id", task.ID).Msg("Error claiming task")
		return
	}
	if !claimed {
		r.logger.Debug().Str("task_id", task.ID).Msg("Task already claimed, skipping")
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Str("task_id", task.ID).Interface("panic", p).
				Msg("Task panicked")
			r.completeError(task, fmt.Sprintf("panic: %v", p))
		}
	}()

	start := r.now()
	events, keys, err := r.pipeline(runCtx, task)
	elapsed := r.now().Sub(start)

	if err != nil {
		msg := err.Error()
		if runCtx.Err() == context.DeadlineExceeded {
			msg = types.ErrDeadlineExceeded.Error()
		}
		r.logger.Warn().Str("task_id", task.ID).Str("retailer", task.Retailer).
			Dur("elapsed", elapsed).Str("error", msg).Msg("Task run failed")
		span.RecordError(err)
		r.completeError(task, msg)
		return
	}

	r.completeSuccess(task, keys)
	r.logger.Info().Str("task_id", task.ID).Str("retailer", task.Retailer).
		Int("in_stock", len(keys)).Int("events", len(events)).
		Dur("elapsed", elapsed).Msg("Task run complete")
}

// pipeline is scan → reconcile → notify. Notification happens before the
// success write: if the process dies in between, the unchanged key set
// re-derives the same events next run and the dedup window absorbs them.
func (r *Runner) pipeline(ctx context.Context, task *database.Task) ([]types.Event, []string, error) {
	zip := task.EffectiveZip(r.opts.DefaultZip)

	scanCtx, scanSpan := r.tracer.Start(ctx, "task.scan")
	products, class, err := r.opts.Scanner.Scan(scanCtx, task.Retailer, task.Query, zip, task.LastInStockKeys)
	scanSpan.End()
	if err != nil {
		return nil, nil, err
	}
	if !class.Healthy() {
		return nil, nil, fmt.Errorf("scan classified %s", class)
	}

	recCtx, recSpan := r.tracer.Start(ctx, "task.reconcile")
	events, keys, err := r.opts.Reconciler.Reconcile(recCtx, task, products)
	recSpan.End()
	if err != nil {
		return nil, nil, err
	}

	if len(events) > 0 && r.opts.Notifier != nil {
		notifyCtx, notifySpan := r.tracer.Start(ctx, "task.notify")
		receipts := r.opts.Notifier.EmitAll(notifyCtx, events, zip)
		notifySpan.End()
		r.logger.Debug().Str("task_id", task.ID).Int("events", len(events)).
			Int("receipts", len(receipts)).Msg("Events dispatched")
	}
	return events, keys, nil
}

// completeSuccess persists the terminal ok state on a fresh context.
func (r *Runner) completeSuccess(task *database.Task, keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), completionWriteTimeout)
	defer cancel()

	if err := r.store.CompleteTaskSuccess(ctx, task.ID, keys); err != nil {
		r.logger.Error().Err(err).Str("task_id", task.ID).Msg("Error completing task")
		taskRuns.WithLabelValues("error").Inc()
		r.countCompletion(false)
		return
	}
	taskRuns.WithLabelValues("ok").Inc()
	r.countCompletion(true)
}

// completeError persists the terminal error state on a fresh context. The
// in-stock key set is left untouched so a failed run cannot fabricate
// transitions.
func (r *Runner) completeError(task *database.Task, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), completionWriteTimeout)
	defer cancel()

	if err := r.store.CompleteTaskError(ctx, task.ID, msg); err != nil {
		r.logger.Error().Err(err).Str("task_id", task.ID).Msg("Error recording task failure")
	}
	taskRuns.WithLabelValues("error").Inc()
	r.countCompletion(false)
}

func (r *Runner) countCompletion(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.completedOK++
	} else {
		r.completedErr++
	}
}
