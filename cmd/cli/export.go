package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stockpulse/stock-monitor/internal/export"
)

var (
	exportOut   string
	exportSince time.Duration
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export price history to an XLSX workbook",
	Long: `Export recorded price snapshots to an XLSX workbook with one sheet
per retailer plus a summary sheet.`,
	Example: `  stockctl export --out prices.xlsx
  stockctl export --out last-month.xlsx --since 720h`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output file path (required)")
	exportCmd.Flags().DurationVar(&exportSince, "since", 0, "Only export snapshots newer than this age, e.g. 720h; 0 exports everything")
	exportCmd.MarkFlagRequired("out")
}

func runExport(cmd *cobra.Command, args []string) error {
	var since time.Time
	if exportSince > 0 {
		since = time.Now().UTC().Add(-exportSince)
	}

	result, err := export.NewExporter().WriteFile(context.Background(), exportOut, since)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fmt.Printf("Exported %d snapshots to %s", result.Rows, exportOut)
	if len(result.Retailers) > 0 {
		fmt.Printf(" (retailers: %s)", strings.Join(result.Retailers, ", "))
	}
	fmt.Println()
	return nil
}
