package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stockpulse/stock-monitor/internal/database"
)

var (
	groupInterval int
	groupZip      string
)

// groupCmd represents the group command
var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage task groups",
}

var groupAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a task group",
	Example: `  stockctl group add card-drops --interval 300 --zip 10001
  stockctl group add console-restocks --interval 120`,
	Args: cobra.ExactArgs(1),
	RunE: runGroupAdd,
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List task groups",
	Args:  cobra.NoArgs,
	RunE:  runGroupList,
}

var groupEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a task group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setGroupEnabled(args[0], true)
	},
}

var groupDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a task group and take its tasks out of scheduling",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setGroupEnabled(args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(groupCmd)
	groupCmd.AddCommand(groupAddCmd, groupListCmd, groupEnableCmd, groupDisableCmd)

	groupAddCmd.Flags().IntVar(&groupInterval, "interval", 300, "Default scan interval in seconds for tasks in this group")
	groupAddCmd.Flags().StringVar(&groupZip, "zip", "", "Default zip code for tasks in this group")
}

func runGroupAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	group, err := database.CreateTaskGroup(ctx, args[0], groupInterval, groupZip)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	fmt.Printf("Created group %s (%s)\n", group.Name, group.ID)
	return nil
}

func runGroupList(cmd *cobra.Command, args []string) error {
	groups, err := database.ListTaskGroups(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list groups: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tENABLED\tINTERVAL\tZIP")
	for _, g := range groups {
		zip := g.DefaultZipCode
		if zip == "" {
			zip = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%ds\t%s\n", g.ID, g.Name, g.Enabled, g.DefaultIntervalSeconds, zip)
	}
	return w.Flush()
}

func setGroupEnabled(id string, enabled bool) error {
	if err := database.SetTaskGroupEnabled(context.Background(), id, enabled); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Group %s %s\n", id, state)
	return nil
}
