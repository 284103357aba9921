package serialize

import (
	"bufio"
	"encoding/csv"
	"io"

	"github.com/gonkalabs/pii-sentinel/internal/table"
)

// CSVWriter writes a header row followed by one record per row. Nulls are
// empty fields.
type CSVWriter struct{}

func (*CSVWriter) Extension() string { return ".csv" }

func (*CSVWriter) Write(w io.Writer, doc *table.Document) error {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)

	write := func(record []string) error {
		// A lone empty field would come out as a blank line, which readers
		// skip; quote it so the row survives.
		if len(record) == 1 && record[0] == "" {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}
			_, err := bw.WriteString("\"\"\n")
			return err
		}
		return cw.Write(record)
	}

	if err := write(doc.Names()); err != nil {
		return err
	}
	for i := 0; i < doc.NumRows(); i++ {
		row := doc.Row(i)
		record := make([]string, len(row))
		for j, v := range row {
			record[j] = v.String()
		}
		if err := write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}
