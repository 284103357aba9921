package parse

import (
	"bytes"
	"encoding/csv"

	"github.com/gonkalabs/pii-sentinel/internal/table"
)

func parseCSV(data []byte) (*table.Document, error) {
	text, err := decodeUTF8(data)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(text))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return table.FromRows(nil, nil)
	}
	return rowsToDocument(records[0], records[1:], true)
}
