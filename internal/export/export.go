// Package export writes record lists as CSV or Excel workbooks.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"sopdesk/internal/attach"
	"sopdesk/internal/models"
	"sopdesk/internal/records"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	SheetName = "Records"
)

var ErrUnknownFormat = errors.New("unknown export format")

// Headers are the column titles of every export.
var Headers = headers()

func headers() []string {
	h := []string{"Product Code", "Product Name", "Status", "Change Description"}
	for _, c := range attach.Categories {
		h = append(h, c.Label())
	}
	return append(h, "Created By", "Created At")
}

// Rows flattens recs into export rows. Document columns carry the stored
// file name only.
func Rows(recs []models.Record) [][]string {
	data := make([][]string, 0, len(recs))
	for i := range recs {
		r := &recs[i]
		row := []string{r.ProductCode, r.ProductName, r.Status, r.ChangeDesc}
		for _, c := range attach.Categories {
			p := records.DocumentPath(r, c)
			if p != "" {
				p = filepath.Base(p)
			}
			row = append(row, p)
		}
		row = append(row, r.CreatedBy, r.CreatedAt)
		data = append(data, row)
	}
	return data
}

// Write encodes recs to w in format.
func Write(w io.Writer, format string, recs []models.Record) error {
	switch format {
	case FormatCSV, "":
		return WriteCSV(w, recs)
	case FormatXLSX:
		return WriteXLSX(w, recs)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// ContentType returns the MIME type of format.
func ContentType(format string) string {
	if format == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Filename returns the download name for an export taken at t.
func Filename(format string, t time.Time) string {
	if format == "" {
		format = FormatCSV
	}
	return fmt.Sprintf("records_%s.%s", t.Format("20060102_150405"), format)
}

// WriteCSV writes a header row followed by one row per record.
func WriteCSV(w io.Writer, recs []models.Record) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Headers); err != nil {
		return fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range Rows(recs) {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteXLSX writes a single-sheet workbook with a styled header row.
func WriteXLSX(w io.Writer, recs []models.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for i, header := range Headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(SheetName, cell, header); err != nil {
			return err
		}
		if err := f.SetCellStyle(SheetName, cell, cell, headerStyle); err != nil {
			return err
		}
	}

	for rowIdx, row := range Rows(recs) {
		for colIdx, value := range row {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return err
			}
			if err := f.SetCellStr(SheetName, cell, value); err != nil {
				return err
			}
		}
	}

	last, err := excelize.ColumnNumberToName(len(Headers))
	if err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "A", last, 18); err != nil {
		return err
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
