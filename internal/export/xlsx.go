// Package export renders persisted price history into XLSX workbooks, one
// sheet per retailer plus a summary sheet.
package export

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"github.com/stockpulse/stock-monitor/internal/database"
)

const summarySheet = "Summary"

// sheetNameLimit is Excel's hard cap on worksheet names.
const sheetNameLimit = 31

var retailerColumns = []string{
	"Observed At", "Set", "Product", "Canonical Key",
	"Listed Price", "Market Price", "Delta %", "Confidence", "URL",
}

// store is the read surface behind the export; tests swap it out.
type store interface {
	ListSnapshotsForExport(ctx context.Context, since time.Time) ([]database.SnapshotExport, error)
}

type dbStore struct{}

func (dbStore) ListSnapshotsForExport(ctx context.Context, since time.Time) ([]database.SnapshotExport, error) {
	return database.ListSnapshotsForExport(ctx, since)
}

// Result summarizes one completed export.
type Result struct {
	Rows      int      `json:"rows"`
	Retailers []string `json:"retailers"`
}

// Exporter builds price-history workbooks.
type Exporter struct {
	store store
	now   func() time.Time
}

// NewExporter returns an exporter reading from the database.
func NewExporter() *Exporter {
	return &Exporter{store: dbStore{}, now: time.Now}
}

// WriteFile exports snapshots observed at or after since to an XLSX file.
// A zero since exports everything.
func (e *Exporter) WriteFile(ctx context.Context, path string, since time.Time) (*Result, error) {
	f, res, err := e.build(ctx, since)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return nil, fmt.Errorf("error writing workbook %s: %w", path, err)
	}
	log.Info().Str("component", "export").Str("path", path).
		Int("rows", res.Rows).Int("retailers", len(res.Retailers)).
		Msg("Price history exported")
	return res, nil
}

// Write exports to an arbitrary writer, for handler responses.
func (e *Exporter) Write(ctx context.Context, w io.Writer, since time.Time) (*Result, error) {
	f, res, err := e.build(ctx, since)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return nil, fmt.Errorf("error writing workbook: %w", err)
	}
	return res, nil
}

func (e *Exporter) build(ctx context.Context, since time.Time) (*excelize.File, *Result, error) {
	rows, err := e.store.ListSnapshotsForExport(ctx, since)
	if err != nil {
		return nil, nil, err
	}

	// Rows arrive ordered by retailer then time; regroup for per-sheet
	// emission while keeping that order inside each group.
	byRetailer := make(map[string][]database.SnapshotExport)
	for _, r := range rows {
		byRetailer[r.Retailer] = append(byRetailer[r.Retailer], r)
	}
	retailers := make([]string, 0, len(byRetailer))
	for name := range byRetailer {
		retailers = append(retailers, name)
	}
	sort.Strings(retailers)

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("error preparing workbook: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("error building header style: %w", err)
	}

	if err := e.writeSummary(f, headerStyle, retailers, byRetailer, since); err != nil {
		f.Close()
		return nil, nil, err
	}
	for _, retailer := range retailers {
		if err := writeRetailerSheet(f, headerStyle, retailer, byRetailer[retailer]); err != nil {
			f.Close()
			return nil, nil, err
		}
	}

	return f, &Result{Rows: len(rows), Retailers: retailers}, nil
}

func (e *Exporter) writeSummary(f *excelize.File, headerStyle int, retailers []string, byRetailer map[string][]database.SnapshotExport, since time.Time) error {
	if err := setRow(f, summarySheet, 1, []any{"Retailer", "Rows", "First Observed", "Last Observed"}); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A1", "D1", headerStyle); err != nil {
		return err
	}
	if err := f.SetColWidth(summarySheet, "A", "D", 22); err != nil {
		return err
	}

	row := 2
	for _, retailer := range retailers {
		group := byRetailer[retailer]
		if err := setRow(f, summarySheet, row, []any{
			retailer,
			len(group),
			group[0].CreatedAt.UTC().Format(time.RFC3339),
			group[len(group)-1].CreatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
		row++
	}

	row++
	note := "Exported " + e.now().UTC().Format(time.RFC3339)
	if !since.IsZero() {
		note += ", since " + since.UTC().Format(time.RFC3339)
	}
	return f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), note)
}

func writeRetailerSheet(f *excelize.File, headerStyle int, retailer string, rows []database.SnapshotExport) error {
	sheet := sanitizeSheetName(retailer)
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("error creating sheet for %s: %w", retailer, err)
	}

	if err := setRow(f, sheet, 1, toAnySlice(retailerColumns)); err != nil {
		return err
	}
	lastCol, err := excelize.CoordinatesToCellName(len(retailerColumns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol, headerStyle); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", "D", 24); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "E", "H", 14); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "I", "I", 40); err != nil {
		return err
	}

	for i, r := range rows {
		values := []any{
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.SetName,
			r.ProductName,
			r.ProductKey,
			r.ListedPrice,
			floatOrEmpty(r.MarketPrice),
			floatOrEmpty(r.DeltaPct),
			floatOrEmpty(r.Confidence),
			stringOrEmpty(r.URL),
		}
		if err := setRow(f, sheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("error writing %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

// sanitizeSheetName strips characters Excel rejects and enforces the
// 31-character cap.
func sanitizeSheetName(name string) string {
	replacer := strings.NewReplacer(":", "-", "\\", "-", "/", "-", "?", "", "*", "", "[", "(", "]", ")")
	clean := replacer.Replace(name)
	clean = strings.TrimSpace(clean)
	if clean == "" {
		clean = "retailer"
	}
	if len(clean) > sheetNameLimit {
		clean = clean[:sheetNameLimit]
	}
	return clean
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func floatOrEmpty(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func stringOrEmpty(v *string) any {
	if v == nil {
		return ""
	}
	return *v
}
