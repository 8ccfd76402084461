package calls

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Calls"

var exportHeader = []any{
	"Call ID", "Status", "Type", "Started At", "Duration (s)", "Cost",
	"Customer Number", "Ended Reason", "Transferred", "Summary", "Recording URL", "Assistant ID",
}

// WriteXLSX writes logs as a single-sheet workbook, one row per call in the given order.
func WriteXLSX(w io.Writer, logs []CallLog) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("calls: export: %w", err)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return fmt.Errorf("calls: export header: %w", err)
	}

	for i, l := range logs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			l.RemoteCallID,
			l.Status,
			l.Type,
			formatTime(l.StartedAt, l.CreatedAt),
			intOrEmpty(l.Duration),
			floatOrEmpty(l.Cost),
			l.CustomerNumber,
			l.EndedReason,
			IsTransferred(l.EndedReason),
			strOrEmpty(l.Summary),
			strOrEmpty(l.RecordingURL),
			l.AssistantID,
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("calls: export row %d: %w", i+1, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("calls: export write: %w", err)
	}
	return nil
}

func formatTime(ts ...*time.Time) string {
	for _, t := range ts {
		if t != nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return ""
}

func intOrEmpty(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func floatOrEmpty(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func strOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
