package rom

import (
	"fmt"
	"io"
	"strings"

	"htools/header"
)

const wordsPerLine = 8

// Array renders a ROM image as a static uint16_t C array
type Array struct {
	Name     string // array identifier
	Prefix   string // include-guard prefix and SIZE macro stem
	Script   string
	Width    int // section banner width
	Capacity int // ROM depth reported in the SIZE macro
	Words    []uint16
}

// Render returns the complete header text
func (a *Array) Render(f *header.Formatter) string {
	capacity := a.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	width := a.Width
	if width == 0 {
		width = header.DefaultWidth
	}
	script := a.Script
	if script == "" {
		script = header.DefaultScript
	}

	var b strings.Builder
	b.WriteString(f.Header(a.Prefix, "", script))
	b.WriteString("\n")
	b.WriteString(header.SectionLine("Configuration ROM", width))
	b.WriteString("\n")
	fmt.Fprintf(&b, "// %d x 16 ROM machine generated by %s\n", capacity, script)
	fmt.Fprintf(&b, "static uint16_t %s[] = {\n", a.Name)
	for i := 0; i < len(a.Words); i += wordsPerLine {
		end := i + wordsPerLine
		if end > len(a.Words) {
			end = len(a.Words)
		}
		row := make([]string, 0, end-i)
		for _, w := range a.Words[i:end] {
			row = append(row, fmt.Sprintf("0x%04x", w))
		}
		b.WriteString("  ")
		b.WriteString(strings.Join(row, ", "))
		if end < len(a.Words) {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("};\n")
	b.WriteString(header.DefineLine(strings.ToUpper(a.Prefix)+"_SIZE", capacity))
	b.WriteString("\n")
	b.WriteString(f.Footer(a.Prefix))
	return b.String()
}

// Write writes the rendered array to w (stdout when nil)
func (a *Array) Write(w io.Writer, f *header.Formatter) error {
	return header.Write(w, a.Render(f))
}
