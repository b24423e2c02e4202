package hexrec

import (
	"fmt"
	"io"
	"strings"

	"htools/header"
)

// Table renders records as a C array of escaped byte strings, one
// string per record without the start code.
type Table struct {
	Prefix  string // array name and include-guard prefix
	Script  string // generator named in the header comment
	Source  string // hex file the records came from, for the comment
	Width   int    // section banner width
	Records []Record
}

// Render returns the complete header text, header and footer blocks included
func (t *Table) Render(f *header.Formatter) string {
	var b strings.Builder
	b.WriteString(f.Header(t.Prefix, "", t.Script))
	b.WriteString("\n")

	width := t.Width
	if width == 0 {
		width = header.DefaultWidth
	}
	b.WriteString(header.SectionLine("Hex records", width))
	b.WriteString("\n")
	if t.Source != "" {
		fmt.Fprintf(&b, "// Generated from %s\n", t.Source)
	}

	fmt.Fprintf(&b, "static const char *%s[] = {\n", t.Prefix)
	for i, rec := range t.Records {
		b.WriteString("   \"")
		for _, v := range rec.Bytes() {
			fmt.Fprintf(&b, "\\x%02X", v)
		}
		b.WriteString("\"")
		if i < len(t.Records)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("};\n")
	b.WriteString(header.DefineLine(strings.ToUpper(t.Prefix)+"_COUNT", len(t.Records)))
	b.WriteString("\n")

	b.WriteString(f.Footer(t.Prefix))
	return b.String()
}

// Write writes the rendered table to w (stdout when nil)
func (t *Table) Write(w io.Writer, f *header.Formatter) error {
	return header.Write(w, t.Render(f))
}
