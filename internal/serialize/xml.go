package serialize

import (
	"io"
	"strings"
	"unicode"

	"github.com/beevik/etree"

	"github.com/gonkalabs/pii-sentinel/internal/table"
)

// XMLWriter writes <root> with one <item> per row and one child per column.
// Null cells are empty elements.
type XMLWriter struct{}

func (*XMLWriter) Extension() string { return ".xml" }

func (*XMLWriter) Write(w io.Writer, doc *table.Document) error {
	out := etree.NewDocument()
	out.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := out.CreateElement("root")

	tags := make([]string, doc.NumColumns())
	for i, name := range doc.Names() {
		tags[i] = elementName(name)
	}
	// Distinct columns can sanitize to the same tag.
	tags = table.UniqueNames(tags)
	for i := 0; i < doc.NumRows(); i++ {
		item := root.CreateElement("item")
		for j, v := range doc.Row(i) {
			child := item.CreateElement(tags[j])
			if !v.IsNull() {
				child.SetText(v.String())
			}
		}
	}
	out.Indent(2)
	_, err := out.WriteTo(w)
	return err
}

// elementName turns a column name into a valid XML element name.
func elementName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case unicode.IsLetter(r) || r == '_':
			b.WriteRune(r)
		case i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.'):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := b.String()
	if s == "" {
		return "_"
	}
	if strings.HasPrefix(strings.ToLower(s), "xml") {
		s = "_" + s
	}
	return s
}
