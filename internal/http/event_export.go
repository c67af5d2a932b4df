package httpapi

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"wisefido-checkin/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	sessionSheet = "Session"
	eventsSheet  = "Events"
)

// EventExportHeader audit sheet columns
var EventExportHeader = []string{
	"Time (UTC)",
	"Event Type",
	"Event ID",
	"Payload",
}

var eventColumnWidths = []float64{22, 28, 38, 80}

// GenerateEventExport session summary + full audit trail as an xlsx workbook
func GenerateEventExport(session *models.Session, events []*models.Event) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo needs the file open, so Close happens explicitly on every path

	if _, err := f.NewSheet(sessionSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(eventsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	// indexes shift once Sheet1 is gone
	if index, err := f.GetSheetIndex(sessionSheet); err == nil && index >= 0 {
		f.SetActiveSheet(index)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// 1. session summary: one field per row
	if err := writeSessionSheet(f, session, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	// 2. events
	for col, header := range EventExportHeader {
		if err := setCellValue(f, eventsSheet, col+1, 1, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell: %w", err)
		}
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellStyle(eventsSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(eventsSheet, name, name, eventColumnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, e := range events {
		row := i + 2
		values := []any{
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.EventType,
			e.ID,
			string(e.Payload),
		}
		for col, v := range values {
			if err := setCellValue(f, eventsSheet, col+1, row, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	if err := f.SetPanes(eventsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSessionSheet(f *excelize.File, s *models.Session, headerStyle int) error {
	reason := ""
	if s.StatusReason != nil {
		reason = *s.StatusReason
	}
	rows := [][2]any{
		{"Session ID", s.ID},
		{"Phone", s.Phone},
		{"Status", string(s.Status)},
		{"Status Reason", reason},
		{"Scheduled At (UTC)", s.ScheduledAt.UTC().Format(time.RFC3339)},
		{"Location", s.LocationText()},
		{"Attempts", s.Attempts},
		{"Created At (UTC)", s.CreatedAt.UTC().Format(time.RFC3339)},
		{"Updated At (UTC)", s.UpdatedAt.UTC().Format(time.RFC3339)},
	}
	for _, c := range models.SortContacts(s.Contacts) {
		label := "Contact " + strconv.Itoa(c.DisplayOrder)
		if c.IsPrimary {
			label += " (primary)"
		}
		rows = append(rows, [2]any{label, c.Phone})
	}

	for i, kv := range rows {
		row := i + 1
		if err := setCellValue(f, sessionSheet, 1, row, kv[0]); err != nil {
			return fmt.Errorf("failed to set cell value at row %d: %w", row, err)
		}
		if err := setCellValue(f, sessionSheet, 2, row, kv[1]); err != nil {
			return fmt.Errorf("failed to set cell value at row %d: %w", row, err)
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetCellStyle(sessionSheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}
	if err := f.SetColWidth(sessionSheet, "A", "A", 22); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(sessionSheet, "B", "B", 44); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	return nil
}

func setCellValue(f *excelize.File, sheet string, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}
