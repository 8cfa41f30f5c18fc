package audit

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"tutorslots/internal/offer"
)

const sheetName = "Offers"

var exportColumns = []string{
	"Time (UTC)", "Session", "Learner", "Week", "Lesson", "Outcome", "Offer", "Slots", "Message", "Stale",
}

// WriteXLSX renders attempts as a single-sheet workbook.
func WriteXLSX(w io.Writer, attempts []offer.Attempt) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	if err := writeRow(f, 1, toCells(exportColumns)); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		end, _ := excelize.CoordinatesToCellName(len(exportColumns), 1)
		_ = f.SetCellStyle(sheetName, "A1", end, style)
	}

	for i, a := range attempts {
		row := []any{
			a.At.UTC().Format(time.DateTime),
			a.Session,
			a.LearnerID,
			a.Week,
			a.LessonID,
			a.Outcome,
			a.OfferID,
			a.Slots,
			a.Message,
			a.Stale,
		}
		if err := writeRow(f, i+2, row); err != nil {
			return err
		}
	}

	return f.Write(w)
}

// ExportFilename names the workbook for the range [from, to).
func ExportFilename(from, to time.Time) string {
	return fmt.Sprintf("offers_%s_%s.xlsx", from.Format(time.DateOnly), to.Format(time.DateOnly))
}

func writeRow(f *excelize.File, row int, values []any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, v); err != nil {
			return fmt.Errorf("set %s: %w", cell, err)
		}
	}
	return nil
}

func toCells(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
