package parse

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/gonkalabs/pii-sentinel/internal/table"
)

// ErrEncrypted is wrapped by the MalformedInputError returned for PDFs that
// do not open with an empty password.
var ErrEncrypted = errors.New("document is encrypted or requires a password")

// parsePDF extracts plain text page by page, one row per page. The reader
// itself tries the empty password once for encrypted documents.
func parsePDF(data []byte) (*table.Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return nil, &MalformedInputError{Format: PDF, Err: ErrEncrypted}
		}
		return nil, err
	}

	var rows [][]table.Value
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			rows = append(rows, []table.Value{table.NullValue()})
			continue
		}
		rows = append(rows, []table.Value{table.Str(text)})
	}
	return table.FromRows([]string{TextColumn}, rows)
}
