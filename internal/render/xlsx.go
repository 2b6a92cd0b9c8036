package render

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/dgallion1/pdfdrop/internal/bundle"
)

// ErrNoTables is returned when no table has a CSV rendition.
var ErrNoTables = errors.New("bundle has no CSV tables")

// TableSheetName is the worksheet name of a table.
func TableSheetName(id string) string { return "Table " + id }

// WriteXLSX writes every table's CSV rendition as a worksheet of one
// workbook. Numeric cells are stored as numbers.
func WriteXLSX(w io.Writer, tables []bundle.TableArtifact) error {
	f := excelize.NewFile()
	defer f.Close()

	sheets := 0
	for _, t := range tables {
		if t.CSV == nil {
			continue
		}
		parsed, err := ParseCSV(t.CSV)
		if err != nil {
			return fmt.Errorf("table %s: %w", t.ID, err)
		}

		name := TableSheetName(t.ID)
		if sheets == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("add sheet: %w", err)
		}
		sheets++

		records := append([][]string{parsed.Header}, parsed.Rows...)
		for r, record := range records {
			row := make([]any, len(record))
			for c, v := range record {
				row[c] = cellValue(v)
			}
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(name, cell, &row); err != nil {
				return fmt.Errorf("table %s row %d: %w", t.ID, r+1, err)
			}
		}
	}
	if sheets == 0 {
		return ErrNoTables
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

// cellValue converts plain decimal numbers. Anything whose text would not
// survive the round trip, such as "007" or "1e3", stays a string.
func cellValue(v string) any {
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || strconv.FormatFloat(n, 'f', -1, 64) != v {
		return v
	}
	return n
}
