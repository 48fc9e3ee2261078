package statistics

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary      = "Resumen"
	sheetPathologists = "Patologos"
	sheetTests        = "Pruebas"
)

var breakdownHeader = []interface{}{"ID", "Nombre", "Total", "Dentro", "Fuera", "Oportunidad %", "Promedio dias"}

// ExportMonthly renders the monthly report as an XLSX workbook with a summary
// sheet and one sheet per breakdown.
func (s *Service) ExportMonthly(ctx context.Context, q MonthlyQuery) ([]byte, error) {
	report, err := s.Monthly(ctx, q)
	if err != nil {
		return nil, err
	}
	return renderMonthly(report)
}

func renderMonthly(r *MonthlyReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return nil, fmt.Errorf("rename summary sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	summaryRows := [][]interface{}{
		{"Mes", r.Month},
		{"Año", r.Year},
		{"Umbral (dias habiles)", r.ThresholdDays},
		{"Total", r.Total},
		{"Dentro de oportunidad", r.WithinThreshold},
		{"Fuera de oportunidad", r.OutsideThreshold},
		{"Oportunidad %", r.OpportunityPct},
		{"Promedio dias", r.AvgDays},
	}
	for i, row := range summaryRows {
		if err := setRow(f, sheetSummary, i+1, row); err != nil {
			return nil, err
		}
	}
	if err := f.SetCellStyle(sheetSummary, "A1", fmt.Sprintf("A%d", len(summaryRows)), header); err != nil {
		return nil, fmt.Errorf("style summary: %w", err)
	}
	if err := f.SetColWidth(sheetSummary, "A", "A", 24); err != nil {
		return nil, fmt.Errorf("size summary: %w", err)
	}

	for _, sheet := range []struct {
		name string
		rows []Breakdown
	}{
		{sheetPathologists, r.ByPathologist},
		{sheetTests, r.ByTest},
	} {
		if err := writeBreakdown(f, sheet.name, sheet.rows, header); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeBreakdown(f *excelize.File, sheet string, rows []Breakdown, header int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	if err := setRow(f, sheet, 1, breakdownHeader); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(breakdownHeader), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, header); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	for i, b := range rows {
		row := []interface{}{b.ID, b.Name, b.Total, b.WithinThreshold, b.OutsideThreshold, b.OpportunityPct, b.AvgDays}
		if err := setRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheet, "B", "B", 30)
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
