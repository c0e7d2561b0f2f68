package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stockpulse/stock-monitor/internal/blocking"
	"github.com/stockpulse/stock-monitor/internal/database"
	"github.com/stockpulse/stock-monitor/internal/notify"
	"github.com/stockpulse/stock-monitor/internal/proxy"
	"github.com/stockpulse/stock-monitor/internal/retry"
	"github.com/stockpulse/stock-monitor/internal/scan"
	"github.com/stockpulse/stock-monitor/internal/scanners"
	"github.com/stockpulse/stock-monitor/internal/transition"
	"github.com/stockpulse/stock-monitor/internal/types"
)

var scanTimeout time.Duration

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <task-id>",
	Short: "Run one task immediately",
	Long: `Run the full scan pipeline for one task outside the scheduler:
fetch, classify, reconcile stock transitions and fan out notifications to
the log channel. The task's last-run state is updated exactly as a
scheduled run would.`,
	Example: `  stockctl scan task_abc123
  stockctl scan task_abc123 --timeout 2m`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", time.Minute, "Deadline for the whole run")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	task, err := database.GetTaskByID(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}
	if task == nil {
		return fmt.Errorf("task %s not found", args[0])
	}

	if err := scanners.RegisterDefaults(scan.DefaultRegistry); err != nil {
		return fmt.Errorf("failed to register retailer scanners: %w", err)
	}

	pool, err := proxy.NewPool(ctx, proxy.Options{
		URLs:                cfg.Proxy.URLs,
		Quarantine:          cfg.Proxy.Quarantine,
		TransientQuarantine: cfg.Proxy.TransientQuarantine,
		TransientThreshold:  cfg.Proxy.TransientThreshold,
	})
	if err != nil {
		return fmt.Errorf("failed to build proxy pool: %w", err)
	}

	detector := blocking.NewDetector(blocking.Options{
		HostQuarantine:      cfg.Blocking.HostQuarantine,
		RateLimitQuarantine: cfg.Blocking.RateLimitQuarantine,
		TransientQuarantine: cfg.Blocking.TransientQuarantine,
		TransientWindow:     cfg.Blocking.TransientWindow,
		TransientThreshold:  cfg.Blocking.TransientThreshold,
	})
	if err := detector.LoadPersisted(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to load persisted host blocks")
	}

	dispatcher := scan.NewDispatcher(scan.Options{
		Registry:           scan.DefaultRegistry,
		Pool:               pool,
		Detector:           detector,
		MinDelay:           cfg.Scan.MinDelay,
		MaxDelay:           cfg.Scan.MaxDelay,
		HTTPTimeout:        cfg.Scan.HTTPTimeout,
		VerifyDelay:        cfg.Scan.VerifyDelay,
		SuspiciousMinBytes: cfg.Blocking.SuspiciousMinBytes,
		RetryPolicy: retry.Policy{
			MaxAttempts:   cfg.Scan.RetryMaxAttempts,
			BaseDelay:     cfg.Scan.RetryBaseDelay,
			MaxDelay:      cfg.Scan.RetryMaxDelay,
			BackoffFactor: cfg.Scan.RetryBackoffFactor,
			JitterRatio:   cfg.Scan.RetryJitterRatio,
		},
	})

	engine := transition.NewEngine(transition.Options{
		PriceChangeThreshold: cfg.Transition.PriceChangeThreshold,
	})

	// One-shot runs notify through the log channel only, so an ad-hoc scan
	// cannot fire production webhooks.
	notifier, err := notify.NewDispatcher(notify.Options{
		Channels:      []notify.Channel{notify.NewLogChannel()},
		DedupWindow:   cfg.Notify.DedupWindow,
		DedupCapacity: cfg.Notify.DedupCapacity,
	})
	if err != nil {
		return fmt.Errorf("failed to build notification dispatcher: %w", err)
	}

	claimed, err := database.MarkTaskRunning(ctx, task.ID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", err)
	}
	if !claimed {
		return fmt.Errorf("task %s is already running", task.ID)
	}

	zip := task.EffectiveZip(cfg.Runner.DefaultZipCode)
	fmt.Printf("Scanning %s (%s) query=%q zip=%s\n", task.Name, task.Retailer, task.Query, zip)

	products, class, err := dispatcher.Scan(ctx, task.Retailer, task.Query, zip, task.LastInStockKeys)
	if err != nil {
		completeScanError(task.ID, err.Error())
		return fmt.Errorf("scan failed: %w", err)
	}
	if !class.Healthy() {
		msg := fmt.Sprintf("scan classified %s", class)
		completeScanError(task.ID, msg)
		return fmt.Errorf("%s", msg)
	}

	events, inStockKeys, err := engine.Reconcile(ctx, task, products)
	if err != nil {
		completeScanError(task.ID, err.Error())
		return fmt.Errorf("reconcile failed: %w", err)
	}

	var receipts []notify.Receipt
	if len(events) > 0 {
		receipts = notifier.EmitAll(ctx, events, zip)
	}

	if err := database.CompleteTaskSuccess(ctx, task.ID, inStockKeys); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	fmt.Printf("Scan complete: %d products, %d in stock, %d events, %s\n",
		len(products), len(inStockKeys), len(events), class)
	if task.LastInStockKeys == nil {
		fmt.Println("First scan for this task: state seeded, no events emitted")
	}
	if len(events) > 0 {
		displayEvents(events)
		fmt.Printf("Delivered %d notifications\n", deliveredCount(receipts))
	}
	return nil
}

func completeScanError(taskID, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := database.CompleteTaskError(ctx, taskID, msg); err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to record task error")
	}
}

func displayEvents(events []types.Event) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "KIND\tPRODUCT\tKEY\tPRICE")
	for _, e := range events {
		price := "-"
		if e.Price != nil {
			price = fmt.Sprintf("%.2f", *e.Price)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Kind, e.ProductName, e.ProductKey, price)
	}
	w.Flush()
}

func deliveredCount(receipts []notify.Receipt) int {
	n := 0
	for _, r := range receipts {
		if r.Delivered {
			n++
		}
	}
	return n
}
