// Package report renders administrative exports.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/iliyamo/member-onboarding/internal/model"
)

// PendingSheet is the worksheet holding the pending credential export.
const PendingSheet = "Pending Credentials"

// PendingHeaders are the column titles of the export, in order.
var PendingHeaders = []string{
	"Credential ID", "Member ID", "Member Name", "Member Email", "Member Phone",
	"Issued By", "Channel", "Send Count", "Failed Attempts", "Max Attempts",
	"Locked Until", "Issued At", "Last Sent At", "Expires At", "Notes",
}

var pendingColumnWidths = []float64{38, 20, 28, 30, 18, 14, 16, 11, 15, 13, 22, 22, 22, 22, 40}

// PendingXLSX renders rows as an XLSX workbook.  Timestamps are written
// as RFC 3339 strings in UTC so the sheet reads the same in every locale.
func PendingXLSX(rows []model.PendingCredential) ([]byte, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", PendingSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
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

	for i, h := range PendingHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetCellValue(PendingSheet, cell, h); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(PendingSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetColWidth(PendingSheet, col, col, pendingColumnWidths[i]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, p := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetSheetRow(PendingSheet, cell, pendingRow(p)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(PendingSheet, &excelize.Panes{
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
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func pendingRow(p model.PendingCredential) *[]any {
	lockedUntil, notes := "", ""
	if p.LockedUntil != nil {
		lockedUntil = stamp(*p.LockedUntil)
	}
	if p.Notes != nil {
		notes = *p.Notes
	}
	row := []any{
		p.ID, p.MemberID, p.MemberName, p.MemberEmail, p.MemberPhone,
		p.IssuedByID, string(p.DeliveryChannel), p.SendCount, p.FailedAttempts, p.MaxAttempts,
		lockedUntil, stamp(p.IssuedAt), stamp(p.LastSentAt), stamp(p.ExpiresAt), notes,
	}
	return &row
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }
