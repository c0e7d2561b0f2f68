package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/stock-monitor/internal/blocking"
	"github.com/stockpulse/stock-monitor/internal/database"
	"github.com/stockpulse/stock-monitor/internal/notify"
	"github.com/stockpulse/stock-monitor/internal/retry"
	"github.com/stockpulse/stock-monitor/internal/runner"
	"github.com/stockpulse/stock-monitor/internal/scan"
	"github.com/stockpulse/stock-monitor/internal/transition"
	"github.com/stockpulse/stock-monitor/internal/types"
)

// TestMonitorEndToEnd drives the full scan pipeline against a real database:
// a scripted retailer, the production dispatcher, transition engine, notify
// dispatcher and runner. Only the network is faked.
func TestMonitorEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	ctx := context.Background()
	connectTestDatabase(ctx, t)

	fixture := newFixtureScanner(
		product("Focus Booster Box", 129.99, false),
		product("Arena Playmat", 24.50, true),
	)
	registry := scan.NewRegistry()
	registry.Register(fixture)

	detector := blocking.NewDetector(blocking.Options{})
	dispatcher := scan.NewDispatcher(scan.Options{
		Registry:    registry,
		Detector:    detector,
		MinDelay:    time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		HTTPTimeout: 5 * time.Second,
		VerifyDelay: time.Millisecond,
		RetryPolicy: retry.Policy{MaxAttempts: 1},
	})
	engine := transition.NewEngine(transition.Options{})

	capture := &captureChannel{}
	notifier, err := notify.NewDispatcher(notify.Options{
		Channels:    []notify.Channel{capture},
		DedupWindow: time.Hour,
	})
	require.NoError(t, err)

	group, err := database.CreateTaskGroup(ctx, "e2e-watch", 1, "10001")
	require.NoError(t, err)

	task := &database.Task{
		GroupID:  group.ID,
		Name:     "fixturemart: focus booster box",
		Enabled:  true,
		Retailer: "fixturemart",
		Query:    "focus booster box",
	}
	require.NoError(t, database.CreateTask(ctx, task))

	sub := &database.Subscription{
		UserID:        "user_e2e",
		ItemMatch:     "booster box",
		NotifyOnStock: true,
	}
	require.NoError(t, database.CreateSubscription(ctx, sub))

	taskRunner := runner.New(runner.Options{
		MaxWorkers:      2,
		LoopSleep:       25 * time.Millisecond,
		MaxTaskDeadline: 5 * time.Second,
		StopJoinTimeout: 2 * time.Second,
		DefaultZip:      "10001",
		Scanner:         dispatcher,
		Reconciler:      engine,
		Notifier:        notifier,
	})
	require.NoError(t, taskRunner.Start(ctx))
	defer taskRunner.Stop()

	boosterKey := "fixturemart|Focus Booster Box"
	playmatKey := "fixturemart|Arena Playmat"

	t.Run("FirstScanSeedsWithoutEvents", func(t *testing.T) {
		require.Eventually(t, func() bool {
			current, err := database.GetTaskByID(ctx, task.ID)
			return err == nil && current != nil && current.LastStatus == types.TaskStatusOK
		}, 5*time.Second, 20*time.Millisecond, "first scan should complete")

		current, err := database.GetTaskByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{playmatKey}, current.LastInStockKeys)
		assert.Zero(t, capture.count(), "seeding scan must not alert")

		count, err := database.CountSnapshots(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, int64(2), "both listings should be snapshotted")
	})

	t.Run("RestockEmitsNewInStock", func(t *testing.T) {
		fixture.setCatalog(
			product("Focus Booster Box", 129.99, true),
			product("Arena Playmat", 24.50, true),
		)

		require.Eventually(t, func() bool {
			return len(capture.byKind(types.EventNewInStock)) >= 2
		}, 5*time.Second, 20*time.Millisecond, "restock should reach broadcast and subscriber")

		deliveries := capture.byKind(types.EventNewInStock)
		recipients := make([]string, 0, len(deliveries))
		for _, d := range deliveries {
			assert.Equal(t, boosterKey, d.Event.ProductKey)
			assert.Equal(t, task.ID, d.Event.SourceTaskID)
			require.NotNil(t, d.Event.Price)
			assert.InDelta(t, 129.99, *d.Event.Price, 0.001)
			recipients = append(recipients, d.Recipient)
		}
		assert.Contains(t, recipients, notify.BroadcastRecipient)
		assert.Contains(t, recipients, "user_e2e")

		// Notification precedes the success write, so poll for the new state.
		require.Eventually(t, func() bool {
			current, err := database.GetTaskByID(ctx, task.ID)
			return err == nil && current != nil && len(current.LastInStockKeys) == 2
		}, 5*time.Second, 20*time.Millisecond)
		current, err := database.GetTaskByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{playmatKey, boosterKey}, current.LastInStockKeys)
	})

	t.Run("DeliveriesAreRecorded", func(t *testing.T) {
		records, err := database.ListNotifications(ctx, 50)
		require.NoError(t, err)
		require.NotEmpty(t, records)

		var kinds []string
		for _, rec := range records {
			assert.Equal(t, "capture", rec.Channel)
			kinds = append(kinds, rec.EventKind)
		}
		assert.Contains(t, kinds, string(types.EventNewInStock))
	})

	t.Run("SteadyStateStaysQuiet", func(t *testing.T) {
		baseline := capture.count()
		start := taskRunner.Snapshot().CompletedRuns

		require.Eventually(t, func() bool {
			return taskRunner.Snapshot().CompletedRuns >= start+2
		}, 8*time.Second, 20*time.Millisecond, "runner should keep completing runs")

		assert.Equal(t, baseline, capture.count(), "unchanged inventory must not re-alert")
	})

	t.Run("PriceDropEmitsPriceChanged", func(t *testing.T) {
		fixture.setCatalog(
			product("Focus Booster Box", 129.99, true),
			product("Arena Playmat", 19.99, true),
		)

		require.Eventually(t, func() bool {
			return len(capture.byKind(types.EventPriceChanged)) >= 1
		}, 5*time.Second, 20*time.Millisecond, "an 18% drop should clear the threshold")

		d := capture.byKind(types.EventPriceChanged)[0]
		assert.Equal(t, playmatKey, d.Event.ProductKey)
		require.NotNil(t, d.Event.Price)
		assert.InDelta(t, 19.99, *d.Event.Price, 0.001)
	})

	t.Run("LostStockIsBroadcastOnly", func(t *testing.T) {
		fixture.setCatalog(
			product("Arena Playmat", 19.99, true),
		)

		require.Eventually(t, func() bool {
			return len(capture.byKind(types.EventLostStock)) >= 1
		}, 5*time.Second, 20*time.Millisecond, "a vanished listing should report lost stock")

		for _, d := range capture.byKind(types.EventLostStock) {
			assert.Equal(t, boosterKey, d.Event.ProductKey)
			assert.Equal(t, notify.BroadcastRecipient, d.Recipient, "lost_stock never routes to subscribers")
		}
	})

	t.Run("ShutdownJoinsWorkers", func(t *testing.T) {
		taskRunner.Stop()

		runs := taskRunner.Snapshot().CompletedRuns
		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, runs, taskRunner.Snapshot().CompletedRuns, "no runs may start after Stop returns")
		assert.Empty(t, taskRunner.Snapshot().InFlight)
	})
}

// TestRecoveryAfterInterruptedRun covers the startup path: a task stranded
// in 'running' by a crash is marked errored and becomes claimable again.
func TestRecoveryAfterInterruptedRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	ctx := context.Background()
	connectTestDatabase(ctx, t)

	group, err := database.CreateTaskGroup(ctx, "e2e-recovery", 300, "")
	require.NoError(t, err)
	task := &database.Task{
		GroupID:  group.ID,
		Name:     "fixturemart: recovery",
		Enabled:  true,
		Retailer: "fixturemart",
		Query:    "recovery",
	}
	require.NoError(t, database.CreateTask(ctx, task))

	claimed, err := database.MarkTaskRunning(ctx, task.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, claimed)

	// Simulated crash: the process dies before the completion write.
	recovered, err := database.ReconcileInterruptedTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	current, err := database.GetTaskByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusError, current.LastStatus)
	require.NotNil(t, current.LastError)
	assert.Contains(t, *current.LastError, "interrupted")

	claimed, err = database.MarkTaskRunning(ctx, task.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, claimed, "recovered task should be claimable again")
}

// Helpers

func connectTestDatabase(ctx context.Context, t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "e2e.db")
	require.NoError(t, database.Connect(ctx, database.Options{Path: path}))
	require.NoError(t, database.Migrate(ctx))
	t.Cleanup(database.Close)
}

func product(name string, price float64, inStock bool) types.Product {
	return types.Product{
		Retailer: "fixturemart",
		Name:     name,
		Price:    &price,
		InStock:  inStock,
	}
}

const fixturePrefix = "fixture-grid:"

// fixtureScanner serves a scripted catalog so the pipeline runs without
// network access. Fetch renders the catalog into a marked body and Parse
// decodes it back, so the fetch/classify/parse stages stay honest.
type fixtureScanner struct {
	mu      sync.Mutex
	catalog []types.Product
}

func newFixtureScanner(catalog ...types.Product) *fixtureScanner {
	return &fixtureScanner{catalog: catalog}
}

func (s *fixtureScanner) setCatalog(catalog ...types.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = catalog
}

func (s *fixtureScanner) Retailer() string          { return "fixturemart" }
func (s *fixtureScanner) Host() string              { return "shop.fixturemart.example" }
func (s *fixtureScanner) RequiresZip() bool         { return false }
func (s *fixtureScanner) SupportsSKULookup() bool   { return false }
func (s *fixtureScanner) ExpectedMarkers() []string { return []string{"fixture-grid"} }

func (s *fixtureScanner) Fetch(ctx context.Context, query, zip string, client *http.Client) *types.FetchResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := json.Marshal(s.catalog)
	if err != nil {
		return &types.FetchResult{Err: err}
	}
	return &types.FetchResult{
		StatusCode: 200,
		Body:       append([]byte(fixturePrefix), body...),
		Header:     http.Header{"Content-Type": []string{"application/json; charset=utf-8"}},
	}
}

func (s *fixtureScanner) Parse(result *types.FetchResult) ([]types.Product, error) {
	payload := bytes.TrimPrefix(result.Body, []byte(fixturePrefix))
	var products []types.Product
	if err := json.Unmarshal(payload, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// capturedDelivery is one (recipient, event) pair the capture channel saw.
type capturedDelivery struct {
	Recipient string
	Event     types.Event
}

// captureChannel records every delivery for assertions.
type captureChannel struct {
	mu         sync.Mutex
	deliveries []capturedDelivery
}

func (c *captureChannel) Name() string { return "capture" }

func (c *captureChannel) Kinds() []types.EventKind {
	return []types.EventKind{types.EventNewInStock, types.EventPriceChanged, types.EventLostStock}
}

func (c *captureChannel) Send(ctx context.Context, recipient string, event types.Event) notify.DeliveryResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries = append(c.deliveries, capturedDelivery{Recipient: recipient, Event: event})
	return notify.Delivered(fmt.Sprintf("cap_%d", len(c.deliveries)))
}

func (c *captureChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deliveries)
}

func (c *captureChannel) byKind(kind types.EventKind) []capturedDelivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedDelivery
	for _, d := range c.deliveries {
		if d.Event.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// TestMain keeps e2e output readable: component loggers stay quiet unless a
// test fails for another reason.
func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	os.Exit(m.Run())
}
