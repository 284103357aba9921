package parse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gonkalabs/pii-sentinel/internal/table"
)

// record is one flattened JSON object with its keys in document order.
type record struct {
	keys []string
	vals map[string]table.Value
}

func (r *record) set(k string, v table.Value) {
	if _, ok := r.vals[k]; ok {
		return
	}
	r.keys = append(r.keys, k)
	r.vals[k] = v
}

// parseJSON accepts a top-level array of objects, a single object, or a
// stream of objects (one per line). Nested objects are flattened with "."
// joined key paths; arrays are kept as compact JSON text.
func parseJSON(data []byte) (*table.Document, error) {
	text, err := decodeUTF8(data)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()

	var records []*record
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch firstByte(raw) {
		case '[':
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, err
			}
			for i, item := range items {
				rec, err := flattenObject(item)
				if err != nil {
					return nil, fmt.Errorf("element %d: %w", i, err)
				}
				records = append(records, rec)
			}
		case '{':
			rec, err := flattenObject(raw)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		default:
			return nil, fmt.Errorf("expected an object or an array of objects")
		}
	}

	var header []string
	seen := map[string]bool{}
	for _, rec := range records {
		for _, k := range rec.keys {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
	}
	rows := make([][]table.Value, len(records))
	for i, rec := range records {
		row := make([]table.Value, len(header))
		for j, k := range header {
			v, ok := rec.vals[k]
			if !ok {
				v = table.NullValue()
			}
			row[j] = v
		}
		rows[i] = row
	}
	return table.FromRows(header, rows)
}

func flattenObject(raw json.RawMessage) (*record, error) {
	if firstByte(raw) != '{' {
		return nil, fmt.Errorf("not an object")
	}
	rec := &record{vals: map[string]table.Value{}}
	if err := flattenInto(rec, "", raw); err != nil {
		return nil, err
	}
	return rec, nil
}

// flattenInto walks an object with a token decoder so key order is kept.
func flattenInto(rec *record, prefix string, raw json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return err
		}
		name := prefix + key
		switch firstByte(val) {
		case '{':
			if err := flattenInto(rec, name+".", val); err != nil {
				return err
			}
		case '[':
			var buf bytes.Buffer
			if err := json.Compact(&buf, val); err != nil {
				return err
			}
			rec.set(name, table.Str(buf.String()))
		case '"':
			var s string
			if err := json.Unmarshal(val, &s); err != nil {
				return err
			}
			rec.set(name, table.Str(s))
		case 'n':
			rec.set(name, table.NullValue())
		case 't', 'f':
			rec.set(name, table.Str(string(val)))
		default:
			rec.set(name, table.Num(string(val)))
		}
	}
	return nil
}

func firstByte(raw []byte) byte {
	raw = bytes.TrimLeft(raw, " \t\r\n")
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}
