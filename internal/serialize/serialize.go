// Package serialize writes a document back out in the family of the format
// it was parsed from.
package serialize

import (
	"bytes"
	"fmt"
	"io"

	"github.com/gonkalabs/pii-sentinel/internal/parse"
	"github.com/gonkalabs/pii-sentinel/internal/table"
)

// Family is an output format family.
type Family string

const (
	Delimited   Family = "delimited"
	Spreadsheet Family = "spreadsheet"
	JSONLines   Family = "jsonlines"
	XML         Family = "xml"
)

// Writer writes a document in a specific family.
type Writer interface {
	Write(w io.Writer, doc *table.Document) error
	// Extension is the file extension, with the dot, of the output.
	Extension() string
}

// GetWriter returns the writer for family. Unknown families get the
// delimited writer.
func GetWriter(family Family) Writer {
	switch family {
	case Spreadsheet:
		return &SheetWriter{}
	case JSONLines:
		return &JSONLinesWriter{}
	case XML:
		return &XMLWriter{}
	default:
		return &CSVWriter{}
	}
}

// FamilyFor maps an input format to the family it is written back in.
// Formats without a writer of their own (text, log, pdf) are delimited.
func FamilyFor(f parse.Format) Family {
	switch f {
	case parse.XLS, parse.XLSX:
		return Spreadsheet
	case parse.JSON:
		return JSONLines
	case parse.XML:
		return XML
	default:
		return Delimited
	}
}

// Extension returns the output file extension for family.
func Extension(family Family) string { return GetWriter(family).Extension() }

// Serialize renders doc in family.
func Serialize(doc *table.Document, family Family) ([]byte, error) {
	var buf bytes.Buffer
	if err := GetWriter(family).Write(&buf, doc); err != nil {
		return nil, fmt.Errorf("serialize: %s: %w", family, err)
	}
	return buf.Bytes(), nil
}
