// Package table holds the uniform tabular document every supported input
// format is parsed into. A Document is an ordered list of uniquely named
// columns of equal length. Documents are never mutated after construction;
// WithColumn returns a new Document that shares the untouched columns.
package table

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind tags the type of a cell.
type Kind uint8

const (
	Null Kind = iota
	String
	Number
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	default:
		return "null"
	}
}

// Value is a single cell. Text keeps the textual form the value was read
// with, so numbers survive a round trip byte for byte.
type Value struct {
	Kind Kind
	Text string
}

// NullValue returns a missing cell.
func NullValue() Value { return Value{Kind: Null} }

// Str returns a string cell.
func Str(s string) Value { return Value{Kind: String, Text: s} }

// Num returns a numeric cell with the given textual form.
func Num(s string) Value { return Value{Kind: Number, Text: s} }

// IsNull reports whether the cell is missing.
func (v Value) IsNull() bool { return v.Kind == Null }

// String returns the textual form ("" for null).
func (v Value) String() string { return v.Text }

// Float returns the numeric value of a Number cell.
func (v Value) Float() (float64, bool) {
	if v.Kind != Number {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
	return f, err == nil
}

var numberRe = regexp.MustCompile(`^[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?$`)

// Infer classifies a raw textual cell: empty is null, a decimal number is a
// Number, anything else is a String.
func Infer(raw string) Value {
	if raw == "" {
		return NullValue()
	}
	if numberRe.MatchString(strings.TrimSpace(raw)) {
		return Num(raw)
	}
	return Str(raw)
}

// Column is a named sequence of cells.
type Column struct {
	Name   string
	Values []Value
}

// Document is an immutable table.
type Document struct {
	columns []Column
	index   map[string]int
}

// New builds a Document. Column names must be unique and all columns must
// have the same length.
func New(columns []Column) (*Document, error) {
	d := &Document{
		columns: make([]Column, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if _, dup := d.index[c.Name]; dup {
			return nil, fmt.Errorf("table: duplicate column %q", c.Name)
		}
		if i > 0 && len(c.Values) != len(columns[0].Values) {
			return nil, fmt.Errorf("table: column %q has %d rows, want %d", c.Name, len(c.Values), len(columns[0].Values))
		}
		d.index[c.Name] = i
		d.columns[i] = c
	}
	return d, nil
}

// FromRows builds a Document from a header and row-major cells. Rows shorter
// than the header are padded with nulls; longer rows are an error.
func FromRows(header []string, rows [][]Value) (*Document, error) {
	cols := make([]Column, len(header))
	for j, name := range header {
		cols[j] = Column{Name: name, Values: make([]Value, len(rows))}
	}
	for i, row := range rows {
		if len(row) > len(header) {
			return nil, fmt.Errorf("table: row %d has %d cells, header has %d", i+1, len(row), len(header))
		}
		for j := range header {
			if j < len(row) {
				cols[j].Values[i] = row[j]
			} else {
				cols[j].Values[i] = NullValue()
			}
		}
	}
	return New(cols)
}

// NumColumns returns the number of columns.
func (d *Document) NumColumns() int { return len(d.columns) }

// NumRows returns the number of rows.
func (d *Document) NumRows() int {
	if len(d.columns) == 0 {
		return 0
	}
	return len(d.columns[0].Values)
}

// Empty reports whether the document has no rows or no columns.
func (d *Document) Empty() bool { return d.NumColumns() == 0 || d.NumRows() == 0 }

// Names returns the column names in order.
func (d *Document) Names() []string {
	out := make([]string, len(d.columns))
	for i, c := range d.columns {
		out[i] = c.Name
	}
	return out
}

// ColumnAt returns the i-th column. The returned slice must not be modified.
func (d *Document) ColumnAt(i int) Column { return d.columns[i] }

// Column returns the cells of the named column.
func (d *Document) Column(name string) ([]Value, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.columns[i].Values, true
}

// Row returns a copy of the i-th row.
func (d *Document) Row(i int) []Value {
	out := make([]Value, len(d.columns))
	for j, c := range d.columns {
		out[j] = c.Values[i]
	}
	return out
}

// WithColumn returns a copy of d with the named column's cells replaced.
func (d *Document) WithColumn(name string, values []Value) (*Document, error) {
	i, ok := d.index[name]
	if !ok {
		return nil, fmt.Errorf("table: unknown column %q", name)
	}
	if len(values) != d.NumRows() {
		return nil, fmt.Errorf("table: column %q: got %d values, want %d", name, len(values), d.NumRows())
	}
	cols := make([]Column, len(d.columns))
	copy(cols, d.columns)
	cols[i] = Column{Name: name, Values: append([]Value(nil), values...)}
	return &Document{columns: cols, index: d.index}, nil
}

// UniqueNames makes header names usable as column names: empty names become
// "Unnamed: <i>" and repeats get a ".1", ".2", ... suffix.
func UniqueNames(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]bool, len(names))
	for i, n := range names {
		if strings.TrimSpace(n) == "" {
			n = fmt.Sprintf("Unnamed: %d", i)
		}
		cand := n
		for k := 1; seen[cand]; k++ {
			cand = fmt.Sprintf("%s.%d", n, k)
		}
		seen[cand] = true
		out[i] = cand
	}
	return out
}
