package parse

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/gonkalabs/pii-sentinel/internal/table"
)

// TextColumn is the single column produced by line- and page-oriented formats.
const TextColumn = "text"

var errNotUTF8 = errors.New("input is not valid UTF-8")

// decodeUTF8 strips a byte order mark. UTF-16 input is accepted when it
// carries a BOM; anything else must already be valid UTF-8.
func decodeUTF8(data []byte) ([]byte, error) {
	utf16 := bytes.HasPrefix(data, []byte{0xFE, 0xFF}) || bytes.HasPrefix(data, []byte{0xFF, 0xFE})
	if !utf16 && !utf8.Valid(data) {
		return nil, errNotUTF8
	}
	out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseText(data []byte) (*table.Document, error) {
	text, err := decodeUTF8(data)
	if err != nil {
		return nil, err
	}
	s := strings.ReplaceAll(string(text), "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return table.FromRows([]string{TextColumn}, nil)
	}
	lines := strings.Split(s, "\n")
	rows := make([][]table.Value, len(lines))
	for i, line := range lines {
		if line == "" {
			rows[i] = []table.Value{table.NullValue()}
			continue
		}
		rows[i] = []table.Value{table.Str(line)}
	}
	return table.FromRows([]string{TextColumn}, rows)
}
