// Package parse turns uploaded bytes into a table.Document. The declared
// file extension selects the handler; the sniffed MIME type is only
// consulted when no extension was given.
package parse

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/gonkalabs/pii-sentinel/internal/table"
)

// Format identifies a supported input handler. Its value is the canonical
// extension without the leading dot.
type Format string

const (
	CSV  Format = "csv"
	XLS  Format = "xls"
	XLSX Format = "xlsx"
	JSON Format = "json"
	TXT  Format = "txt"
	LOG  Format = "log"
	XML  Format = "xml"
	PDF  Format = "pdf"
)

var allowed = map[Format]bool{
	CSV: true, XLS: true, XLSX: true, JSON: true,
	TXT: true, LOG: true, XML: true, PDF: true,
}

// Supported reports whether f is on the allow-list.
func (f Format) Supported() bool { return allowed[f] }

// UnsupportedFormatError is returned when neither the extension nor the
// sniffed MIME type maps to a handler.
type UnsupportedFormatError struct {
	Ext  string
	MIME string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Ext != "" {
		return fmt.Sprintf("parse: unsupported format %q", "."+e.Ext)
	}
	return fmt.Sprintf("parse: unsupported content type %q", e.MIME)
}

// MalformedInputError is returned when the bytes do not conform to the
// resolved format.
type MalformedInputError struct {
	Format Format
	Err    error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("parse: malformed %s: %v", e.Format, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// EmptyDocumentError is returned when parsing yields no rows or no columns.
type EmptyDocumentError struct {
	Format Format
}

func (e *EmptyDocumentError) Error() string {
	return fmt.Sprintf("parse: %s document is empty", e.Format)
}

// Resolve picks the handler for an upload. ext may carry a leading dot and
// any case. A declared extension outside the allow-list is rejected even if
// the MIME type would match.
func Resolve(ext, mime string) (Format, error) {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext != "" {
		f := Format(ext)
		if !f.Supported() {
			return "", &UnsupportedFormatError{Ext: ext, MIME: mime}
		}
		return f, nil
	}

	m := strings.ToLower(mime)
	switch {
	case strings.Contains(m, "csv"):
		return CSV, nil
	case strings.Contains(m, "spreadsheetml"):
		return XLSX, nil
	case strings.Contains(m, "excel"):
		return XLS, nil
	case strings.Contains(m, "json"):
		return JSON, nil
	case strings.Contains(m, "xml"):
		return XML, nil
	case strings.Contains(m, "pdf"):
		return PDF, nil
	case strings.HasPrefix(m, "text/plain"):
		return TXT, nil
	}
	return "", &UnsupportedFormatError{MIME: mime}
}

// Sniff returns the detected MIME type of data.
func Sniff(data []byte) string {
	return mimetype.Detect(data).String()
}

// Parse resolves the handler for (ext, mime) and parses data with it.
// When mime is empty and no extension is given, the content is sniffed.
func Parse(data []byte, ext, mime string) (*table.Document, Format, error) {
	if strings.TrimSpace(ext) == "" && mime == "" {
		mime = Sniff(data)
	}
	f, err := Resolve(ext, mime)
	if err != nil {
		return nil, "", err
	}
	doc, err := ParseFormat(data, f)
	if err != nil {
		return nil, f, err
	}
	return doc, f, nil
}

// ParseFormat parses data with the handler for f.
func ParseFormat(data []byte, f Format) (doc *table.Document, err error) {
	// Third-party decoders panic on some corrupt inputs.
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("parse: decoder panic", "format", f, "panic", r)
			doc, err = nil, &MalformedInputError{Format: f, Err: fmt.Errorf("%v", r)}
		}
	}()

	switch f {
	case CSV:
		doc, err = parseCSV(data)
	case XLSX:
		doc, err = parseXLSX(data)
	case XLS:
		doc, err = parseXLS(data)
	case JSON:
		doc, err = parseJSON(data)
	case TXT, LOG:
		doc, err = parseText(data)
	case XML:
		doc, err = parseXML(data)
	case PDF:
		doc, err = parsePDF(data)
	default:
		return nil, &UnsupportedFormatError{Ext: string(f)}
	}
	if err != nil {
		var malformed *MalformedInputError
		if !errors.As(err, &malformed) {
			err = &MalformedInputError{Format: f, Err: err}
		}
		return nil, err
	}
	if doc.Empty() {
		return nil, &EmptyDocumentError{Format: f}
	}
	return doc, nil
}

// rowsToDocument turns a raw header and raw rows into a Document. Rows wider
// than the header are rejected when strict is set, otherwise the header is
// extended with unnamed columns.
func rowsToDocument(header []string, raw [][]string, strict bool) (*table.Document, error) {
	width := len(header)
	for i, r := range raw {
		if len(r) > width {
			if strict {
				return nil, fmt.Errorf("row %d has %d fields, header has %d", i+2, len(r), len(header))
			}
			width = len(r)
		}
	}
	for len(header) < width {
		header = append(header, "")
	}
	rows := make([][]table.Value, len(raw))
	for i, r := range raw {
		row := make([]table.Value, len(r))
		for j, cell := range r {
			row[j] = table.Infer(cell)
		}
		rows[i] = row
	}
	return table.FromRows(table.UniqueNames(header), rows)
}
