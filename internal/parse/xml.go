package parse

import (
	"errors"

	"github.com/beevik/etree"

	"github.com/gonkalabs/pii-sentinel/internal/table"
)

// parseXML maps each child of the root element to a row. The row's child
// elements become columns named after their tag; missing or empty ones are
// null. Attributes are ignored.
func parseXML(data []byte) (*table.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.New("no root element")
	}

	var header []string
	seen := map[string]bool{}
	var records []map[string]table.Value
	for _, item := range root.ChildElements() {
		rec := map[string]table.Value{}
		add := func(name, text string) {
			if _, dup := rec[name]; dup {
				return
			}
			if !seen[name] {
				seen[name] = true
				header = append(header, name)
			}
			if text == "" {
				rec[name] = table.NullValue()
				return
			}
			rec[name] = table.Infer(text)
		}
		for _, field := range item.ChildElements() {
			add(field.Tag, field.Text())
		}
		records = append(records, rec)
	}

	rows := make([][]table.Value, len(records))
	for i, rec := range records {
		row := make([]table.Value, len(header))
		for j, name := range header {
			v, ok := rec[name]
			if !ok {
				v = table.NullValue()
			}
			row[j] = v
		}
		rows[i] = row
	}
	return table.FromRows(header, rows)
}
