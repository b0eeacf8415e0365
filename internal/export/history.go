package export

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/xuri/excelize/v2"

	"susm/internal/domain"
	"susm/internal/protocol"
)

const historySheet = "Protocols"

var historyHeaders = []string{"Generated at", "Template", "Objects", "Generated by", "Protocol ID"}

var historyWidths = []float64{20, 28, 48, 28, 28}

// History writes a project's protocol records, newest first, as an XLSX
// workbook.
func History(project domain.Project, loc *time.Location) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(historySheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, header := range historyHeaders {
		if err := setCell(f, col+1, 1, header); err != nil {
			f.Close()
			return nil, err
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetColWidth(historySheet, name, name, historyWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(historyHeaders), 1)
	if err := f.SetCellStyle(historySheet, "A1", last, headerStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("set header style: %w", err)
	}

	for i, rec := range protocol.SortForDisplay(project.Protocols) {
		row := i + 2
		values := []any{
			protocol.FormatGeneratedAt(rec, loc),
			rec.TemplateName,
			protocol.Describe(rec),
			rec.GeneratedBy,
			rec.ID.String(),
		}
		for col, v := range values {
			if err := setCell(f, col+1, row, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("row %d: %w", row, err)
			}
		}
	}

	if err := f.SetPanes(historySheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("freeze panes: %w", err)
	}
	if err := f.SetDocProps(&excelize.DocProperties{Title: project.Name + " protocols", Creator: "susm"}); err != nil {
		f.Close()
		return nil, fmt.Errorf("set doc props: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteHistory renders History into path.
func WriteHistory(path string, project domain.Project, loc *time.Location) error {
	data, err := History(project, loc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func setCell(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(historySheet, cell, value)
}
