package serialize

import (
	"bufio"
	"io"
	"regexp"

	"github.com/goccy/go-json"

	"github.com/gonkalabs/pii-sentinel/internal/table"
)

// JSONLinesWriter writes one JSON object per row, keys in column order.
// Nulls are null and numbers stay numbers.
type JSONLinesWriter struct{}

func (*JSONLinesWriter) Extension() string { return ".json" }

func (*JSONLinesWriter) Write(w io.Writer, doc *table.Document) error {
	bw := bufio.NewWriter(w)
	keys := make([][]byte, doc.NumColumns())
	for i, name := range doc.Names() {
		k, err := json.MarshalNoEscape(name)
		if err != nil {
			return err
		}
		keys[i] = k
	}

	for i := 0; i < doc.NumRows(); i++ {
		bw.WriteByte('{')
		for j, v := range doc.Row(i) {
			if j > 0 {
				bw.WriteByte(',')
			}
			bw.Write(keys[j])
			bw.WriteByte(':')
			raw, err := encodeValue(v)
			if err != nil {
				return err
			}
			bw.Write(raw)
		}
		if _, err := bw.WriteString("}\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

var jsonNumber = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?(?:[eE][-+]?\d+)?$`)

func encodeValue(v table.Value) ([]byte, error) {
	switch v.Kind {
	case table.Null:
		return []byte("null"), nil
	case table.Number:
		// Shapes like "+1", ".5" or "007" are not JSON numbers; they are
		// written as strings so no digits are lost.
		if jsonNumber.MatchString(v.Text) {
			return []byte(v.Text), nil
		}
	}
	return json.MarshalNoEscape(v.Text)
}
