package serialize

import (
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/gonkalabs/pii-sentinel/internal/table"
)

// SheetName is the worksheet the spreadsheet writer fills.
const SheetName = "Sheet1"

// SheetWriter writes an .xlsx workbook with a header row. Numbers are
// written as numeric cells and nulls as blank cells.
type SheetWriter struct{}

func (*SheetWriter) Extension() string { return ".xlsx" }

func (*SheetWriter) Write(w io.Writer, doc *table.Document) error {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]interface{}, doc.NumColumns())
	for i, name := range doc.Names() {
		header[i] = name
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return err
	}

	for i := 0; i < doc.NumRows(); i++ {
		row := doc.Row(i)
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = cellValue(v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &cells); err != nil {
			return err
		}
	}
	_, err := f.WriteTo(w)
	return err
}

func cellValue(v table.Value) interface{} {
	switch v.Kind {
	case table.Null:
		return nil
	case table.Number:
		if n, err := strconv.ParseFloat(v.Text, 64); err == nil {
			return n
		}
	}
	return v.Text
}
