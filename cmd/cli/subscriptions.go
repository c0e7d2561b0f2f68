package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stockpulse/stock-monitor/internal/database"
)

var (
	subUser     string
	subMatch    string
	subTarget   float64
	subNoStock  bool
	subChannels []string
	subZipScope string
)

// subCmd represents the sub command
var subCmd = &cobra.Command{
	Use:   "sub",
	Short: "Manage subscriber watchlists",
}

var subAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a watchlist entry",
	Example: `  stockctl sub add --user u-100 --match charizard --target 49.99
  stockctl sub add --user u-200 --match "gridmart|SKU-4411" --channel webhook --zip-scope 10001`,
	Args: cobra.NoArgs,
	RunE: runSubAdd,
}

var subListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watchlist entries",
	Args:  cobra.NoArgs,
	RunE:  runSubList,
}

var subRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a watchlist entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubRm,
}

func init() {
	rootCmd.AddCommand(subCmd)
	subCmd.AddCommand(subAddCmd, subListCmd, subRmCmd)

	subAddCmd.Flags().StringVar(&subUser, "user", "", "Subscriber reference (required)")
	subAddCmd.Flags().StringVar(&subMatch, "match", "", "Canonical key or name substring to match (required)")
	subAddCmd.Flags().Float64Var(&subTarget, "target", 0, "Target price ceiling; 0 means none")
	subAddCmd.Flags().BoolVar(&subNoStock, "no-stock-alert", false, "Skip new_in_stock alerts, only price drops")
	subAddCmd.Flags().StringSliceVar(&subChannels, "channel", nil, "Restrict delivery to these channels (repeatable)")
	subAddCmd.Flags().StringVar(&subZipScope, "zip-scope", "", "Only match scans for this zip code")
	subAddCmd.MarkFlagRequired("user")
	subAddCmd.MarkFlagRequired("match")
}

func runSubAdd(cmd *cobra.Command, args []string) error {
	sub := &database.Subscription{
		UserID:        subUser,
		ItemMatch:     subMatch,
		NotifyOnStock: !subNoStock,
		Channels:      subChannels,
	}
	if subTarget > 0 {
		sub.TargetPrice = &subTarget
	}
	if subZipScope != "" {
		sub.ZipScope = &subZipScope
	}

	if err := database.CreateSubscription(context.Background(), sub); err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	fmt.Printf("Created subscription %s for %s\n", sub.ID, sub.UserID)
	return nil
}

func runSubList(cmd *cobra.Command, args []string) error {
	subs, err := database.ListSubscriptions(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tMATCH\tTARGET\tSTOCK ALERTS\tCHANNELS\tZIP SCOPE")
	for _, s := range subs {
		target := "-"
		if s.TargetPrice != nil {
			target = fmt.Sprintf("%.2f", *s.TargetPrice)
		}
		channels := "all"
		if len(s.Channels) > 0 {
			channels = strings.Join(s.Channels, ",")
		}
		zipScope := "-"
		if s.ZipScope != nil {
			zipScope = *s.ZipScope
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			s.ID, s.UserID, s.ItemMatch, target, s.NotifyOnStock, channels, zipScope)
	}
	return w.Flush()
}

func runSubRm(cmd *cobra.Command, args []string) error {
	if err := database.DeleteSubscription(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed subscription %s\n", args[0])
	return nil
}
