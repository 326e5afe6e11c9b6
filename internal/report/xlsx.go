package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"quadra/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	sheetReservations = "Reservations"
	sheetSummary      = "Summary"
)

var columns = []string{"Reservation", "Court", "Start (UTC)", "Hours", "Payment", "Payout", "Gross", "Fee", "Net", "Paid out"}

// FileName is the suggested name of the exported workbook.
func (r *OwnerReport) FileName() string {
	return fmt.Sprintf("report_%s_%s_to_%s.xlsx", r.OwnerID, r.From.Format("2006-01-02"), r.To.Format("2006-01-02"))
}

// ExportXLSX saves the workbook into dir and returns its path.
func ExportXLSX(rep *OwnerReport, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating report directory: %w", err)
	}
	f, err := build(rep)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, rep.FileName())
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving report: %w", err)
	}
	return path, nil
}

// WriteXLSX streams the workbook to w.
func WriteXLSX(rep *OwnerReport, w io.Writer) error {
	f, err := build(rep)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func build(rep *OwnerReport) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sheetReservations)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(sheetSummary); err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	_ = f.DeleteSheet("Sheet1")

	writeReservations(f, rep)
	writeSummary(f, rep)
	return f, nil
}

func writeReservations(f *excelize.File, rep *OwnerReport) {
	header, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, title := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetReservations, cell, title)
		_ = f.SetCellStyle(sheetReservations, cell, cell, header)
	}

	for i, row := range rep.Rows {
		values := []interface{}{
			row.ReservationID,
			row.CourtName,
			row.Start.Format("2006-01-02 15:04"),
			row.Hours,
			string(row.StatusPayment),
			string(row.StatusPayout),
			money(row.Gross),
			money(row.Fee),
			money(row.Net),
			money(row.PaidOut),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = f.SetSheetRow(sheetReservations, cell, &values)
	}

	_ = f.SetColWidth(sheetReservations, "A", "A", 38)
	_ = f.SetColWidth(sheetReservations, "B", "C", 20)
	_ = f.SetColWidth(sheetReservations, "D", "J", 12)
}

func writeSummary(f *excelize.File, rep *OwnerReport) {
	bold, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})

	rows := [][]interface{}{
		{"Owner", rep.OwnerName},
		{"Period", fmt.Sprintf("%s - %s", rep.From.Format("2006-01-02"), rep.To.Format("2006-01-02"))},
		{"Fee rate", fmt.Sprintf("%.2f%%", float64(rep.FeeRateBP)/100)},
		{"Gross", money(rep.Totals.Gross)},
		{"Platform fee", money(rep.Totals.Fee)},
		{"Net", money(rep.Totals.Net)},
		{"Paid out", money(rep.Totals.PaidOut)},
	}

	statuses := make([]string, 0, len(rep.Totals.ByStatus))
	for s := range rep.Totals.ByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		rows = append(rows, []interface{}{s, rep.Totals.ByStatus[models.PaymentStatus(s)]})
	}

	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		_ = f.SetSheetRow(sheetSummary, cell, &rows[i])
		_ = f.SetCellStyle(sheetSummary, cell, cell, bold)
	}
	_ = f.SetColWidth(sheetSummary, "A", "A", 18)
	_ = f.SetColWidth(sheetSummary, "B", "B", 28)
}

// amounts are kept in minor units
func money(minor int64) float64 {
	return float64(minor) / 100
}
