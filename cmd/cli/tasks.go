package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stockpulse/stock-monitor/internal/database"
	"github.com/stockpulse/stock-monitor/internal/scan"
	"github.com/stockpulse/stock-monitor/internal/scanners"
)

var (
	taskGroupID   string
	taskName      string
	taskRetailer  string
	taskQuery     string
	taskZip       string
	taskInterval  int
	taskListGroup string
)

// taskCmd represents the task command
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage scan tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a scan task in an existing group",
	Example: `  stockctl task add --group tg_abc123 --retailer gridmart --query "booster box"
  stockctl task add --group tg_abc123 --retailer cardline --query SKU-4411 --interval 120 --zip 94103`,
	Args: cobra.NoArgs,
	RunE: runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scan tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a scan task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTaskEnabled(args[0], true)
	},
}

var taskDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a scan task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTaskEnabled(args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskEnableCmd, taskDisableCmd)

	taskAddCmd.Flags().StringVar(&taskGroupID, "group", "", "Group ID the task belongs to (required)")
	taskAddCmd.Flags().StringVar(&taskName, "name", "", "Display name (defaults to retailer: query)")
	taskAddCmd.Flags().StringVar(&taskRetailer, "retailer", "", "Registered retailer to scan (required)")
	taskAddCmd.Flags().StringVar(&taskQuery, "query", "", "Search term or SKU (required)")
	taskAddCmd.Flags().StringVar(&taskZip, "zip", "", "Zip code override for this task")
	taskAddCmd.Flags().IntVar(&taskInterval, "interval", 0, "Scan interval override in seconds")
	taskAddCmd.MarkFlagRequired("group")
	taskAddCmd.MarkFlagRequired("retailer")
	taskAddCmd.MarkFlagRequired("query")

	taskListCmd.Flags().StringVar(&taskListGroup, "group", "", "Only list tasks in this group")
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if err := scanners.RegisterDefaults(scan.DefaultRegistry); err != nil {
		return fmt.Errorf("failed to register retailer scanners: %w", err)
	}
	if _, err := scan.DefaultRegistry.MustGet(taskRetailer); err != nil {
		return err
	}

	group, err := database.GetTaskGroup(ctx, taskGroupID)
	if err != nil {
		return fmt.Errorf("failed to load group: %w", err)
	}
	if group == nil {
		return fmt.Errorf("group %s not found", taskGroupID)
	}

	name := taskName
	if name == "" {
		name = taskRetailer + ": " + taskQuery
	}

	task := &database.Task{
		GroupID:  taskGroupID,
		Name:     name,
		Enabled:  true,
		Retailer: taskRetailer,
		Query:    taskQuery,
	}
	if taskZip != "" {
		task.ZipCode = &taskZip
	}
	if taskInterval > 0 {
		task.IntervalSeconds = &taskInterval
	}

	if err := database.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	fmt.Printf("Created task %s (%s)\n", task.Name, task.ID)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	tasks, err := database.ListTasks(context.Background(), taskListGroup)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRETAILER\tENABLED\tINTERVAL\tSTATUS\tLAST RUN")
	for i := range tasks {
		t := &tasks[i]
		lastRun := "-"
		if t.LastRunAt != nil {
			lastRun = t.LastRunAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
			t.ID, t.Name, t.Retailer, t.EffectivelyEnabled(), t.EffectiveInterval(), t.LastStatus, lastRun)
	}
	return w.Flush()
}

func setTaskEnabled(id string, enabled bool) error {
	if err := database.SetTaskEnabled(context.Background(), id, enabled); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Task %s %s\n", id, state)
	return nil
}
