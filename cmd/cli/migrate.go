package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stockpulse/stock-monitor/internal/database"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the embedded store schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := database.Migrate(context.Background()); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Println("Schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
