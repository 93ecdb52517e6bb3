package grid

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"gred/internal/dblib"
)

// ExportProgressEvery is how many rows an export writes between stop checks
// and progress reports.
const ExportProgressEvery = 500

// Progress is called from the export goroutine with the number of rows
// written so far.
type Progress func(rows int)

func exportCell(v any) string {
	if v == nil {
		return ""
	}
	return dblib.DisplayValue(v)
}

// ExportCSV writes a header line and one record per row. Values are taken
// by position, so repeated column names keep their own values. NULL is
// written as an empty field.
func ExportCSV(w io.Writer, columns []string, rows []dblib.RowSnapshot, tok *Token, progress Progress) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	record := make([]string, len(columns))
	for i, row := range rows {
		if i%ExportProgressEvery == 0 && i > 0 {
			if tok != nil && tok.Stopped() {
				return dblib.ErrStopped
			}
			if progress != nil {
				progress(i)
			}
		}
		for j := range columns {
			v := row.At(j)
			record[j] = exportCell(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if progress != nil {
		progress(len(rows))
	}
	return nil
}

// ExportXLSX writes the rows to a new workbook at path with a bold header
// row. Numbers, booleans and times keep their cell types; NULL is left
// empty.
func ExportXLSX(path, sheet string, columns []string, rows []dblib.RowSnapshot, tok *Token, progress Progress) error {
	f := excelize.NewFile()
	defer f.Close()

	if sheet == "" {
		sheet = "Sheet1"
	}
	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if sheet != "Sheet1" {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return err
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
	})
	if err != nil {
		return err
	}
	for j, col := range columns {
		cell, err := excelize.CoordinatesToCellName(j+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return err
		}
	}

	for i, row := range rows {
		if i%ExportProgressEvery == 0 && i > 0 {
			if tok != nil && tok.Stopped() {
				return dblib.ErrStopped
			}
			if progress != nil {
				progress(i)
			}
		}
		for j := range columns {
			v := row.At(j)
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, xlsxValue(v)); err != nil {
				return err
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	if progress != nil {
		progress(len(rows))
	}
	return nil
}

func xlsxValue(v any) any {
	switch v := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool, time.Time:
		return v
	default:
		return dblib.DisplayValue(v)
	}
}
