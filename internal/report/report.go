// Package report renders referral notes and encounter lists into printable
// and spreadsheet formats for handoff.
package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/service"
)

// RecordsSheet is the workbook sheet holding encounters.
const RecordsSheet = "Encounters"

// RecordHeaders are the workbook column titles.
var RecordHeaders = []string{
	"ID", "Time", "Triage", "Systolic", "Diastolic", "Heart Rate",
	"Resp Rate", "Temp", "AVPU", "GA (weeks)", "Notes", "Synced",
}

// RenderReferralPDF lays out a referral note on one A4 page.
func RenderReferralPDF(ref service.Referral) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Referral "+ref.RecordID, true)
	pdf.AddPage()

	for _, line := range strings.Split(ref.Text, "\n") {
		switch {
		case strings.HasPrefix(line, "**") && strings.HasSuffix(line, "**"):
			pdf.SetFont("Arial", "B", 14)
			pdf.Cell(0, 8, tr(strings.Trim(line, "*")))
			pdf.Ln(10)
		case strings.HasSuffix(line, ":") && strings.ToUpper(line) == line:
			pdf.SetFont("Arial", "B", 11)
			pdf.Cell(0, 6, tr(line))
			pdf.Ln(6)
		case line == "":
			pdf.Ln(3)
		default:
			pdf.SetFont("Arial", "", 10)
			pdf.MultiCell(0, 5, tr(line), "", "L", false)
		}
	}

	if ref.HasMissingData {
		pdf.Ln(4)
		pdf.SetFont("Arial", "I", 9)
		pdf.MultiCell(0, 5, "Some vital signs were not recorded.", "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render referral pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderRecordsXLSX writes encounters, one per row, in the given order.
// Timestamps are shown in loc (UTC when nil).
func RenderRecordsXLSX(records []domain.PatientRecord, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", RecordsSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	for i, h := range RecordHeaders {
		if err := setCell(f, i+1, 1, h); err != nil {
			return nil, err
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(RecordHeaders), 1)
	if err := f.SetCellStyle(RecordsSheet, "A1", lastHeader, headerStyle); err != nil {
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	for i, r := range records {
		row := i + 2
		v := r.Vitals
		ga := ""
		if r.GestationalAgeWeeks != nil {
			ga = strconv.Itoa(*r.GestationalAgeWeeks)
		}
		values := []interface{}{
			r.ID,
			r.Timestamp.In(loc).Format(service.ReferralTimeLayout),
			string(r.TriageResult),
			optional(v.SystolicBP),
			optional(v.DiastolicBP),
			optional(v.HeartRate),
			optional(v.RespiratoryRate),
			optional(v.Temperature),
			string(v.Consciousness.Normalized()),
			ga,
			r.Notes,
			r.Synced,
		}
		for col, val := range values {
			if err := setCell(f, col+1, row, val); err != nil {
				return nil, err
			}
		}
	}

	if err := f.SetPanes(RecordsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func optional(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func setCell(f *excelize.File, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("invalid cell %d,%d: %w", col, row, err)
	}
	if err := f.SetCellValue(RecordsSheet, cell, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", cell, err)
	}
	return nil
}
