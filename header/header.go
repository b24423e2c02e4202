package header

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

const (
	// Extension is appended to every derived header file name
	Extension = ".h"

	// FormatMDY selects month/day/year date ordering
	FormatMDY = "mdy"

	// DefaultWidth is the banner width used when none is configured
	DefaultWidth = 80

	// DefaultScript names the generator in the header comment when the caller gives none
	DefaultScript = "htools"

	// bannerMargin accounts for the "/* " and " */" delimiters
	bannerMargin = 6

	// defineColumn is the padded width of the macro name in DefineLine
	defineColumn = 26
)

// Formatter renders header boilerplate. The zero value uses time.Now
// and year-month-day dates.
type Formatter struct {
	// Now returns the timestamp captured for the Date line (nil = time.Now)
	Now func() time.Time
	// DateFormat is FormatMDY or empty for YYYY-MM-DD
	DateFormat string
}

// std backs the package-level helpers
var std = &Formatter{}

// FileName derives a header file name: lower-cased text plus Extension.
func FileName(name any) string {
	return strings.ToLower(fmt.Sprint(name)) + Extension
}

// GuardName derives the include-guard macro for name, e.g. "foo" -> "__FOO_H_".
func GuardName(name string) string {
	return "__" + strings.ToUpper(name) + "_H_"
}

// SectionLine renders a comment banner with label centered in '=' fill.
// The result is at least the display width of label plus six columns; a
// label that fills the banner is still wrapped in single spaces.
func SectionLine(label string, width int) string {
	labelWidth := runewidth.StringWidth(label)
	if width < labelWidth+bannerMargin {
		width = labelWidth + bannerMargin
	}

	// " label " centered in width-6; odd fill goes to the right
	inner := width - bannerMargin
	pad := inner - (labelWidth + 2)
	if pad < 0 {
		pad = 0
	}
	left := pad / 2
	right := pad - left

	var b strings.Builder
	b.Grow(width + 4)
	b.WriteString("/* ")
	b.WriteString(strings.Repeat("=", left))
	b.WriteByte(' ')
	b.WriteString(label)
	b.WriteByte(' ')
	b.WriteString(strings.Repeat("=", right))
	b.WriteString(" */")
	return b.String()
}

// DefineLine renders a "#define NAME (value)" line with an aligned value column.
func DefineLine(name string, value any) string {
	return fmt.Sprintf("#define %-*s (%v)", defineColumn, name, value)
}

// Write emits msg followed by a newline to w, or to stdout when w is nil.
func Write(w io.Writer, msg string) error {
	if w == nil {
		w = os.Stdout
	}
	_, err := io.WriteString(w, msg+"\n")
	return err
}

// DateTime captures the current local date and time using the default Formatter.
func DateTime(format string) (date, clock string) {
	f := Formatter{DateFormat: format}
	return f.DateTime()
}

// WriteHeader writes a header block using the default Formatter.
func WriteHeader(w io.Writer, prefix, filename, script string) error {
	return std.WriteHeader(w, prefix, filename, script)
}

// WriteFooter writes a footer block using the default Formatter.
func WriteFooter(w io.Writer, prefix string) error {
	return std.WriteFooter(w, prefix)
}

func (f *Formatter) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// DateTime returns the captured date and the HH:MM clock as separate strings.
// MDY dates are not zero padded (e.g. 3/7/2025).
func (f *Formatter) DateTime() (date, clock string) {
	ts := f.now()
	if strings.EqualFold(f.DateFormat, FormatMDY) {
		date = fmt.Sprintf("%d/%d/%d", int(ts.Month()), ts.Day(), ts.Year())
	} else {
		date = fmt.Sprintf("%04d-%02d-%02d", ts.Year(), int(ts.Month()), ts.Day())
	}
	clock = fmt.Sprintf("%02d:%02d", ts.Hour(), ts.Minute())
	return date, clock
}

// Header renders the comment block, include-guard open and extern "C" opener.
func (f *Formatter) Header(prefix, filename, script string) string {
	if filename == "" {
		filename = FileName(prefix)
	}
	if script == "" {
		script = DefaultScript
	}
	date, _ := f.DateTime()
	guard := GuardName(prefix)

	var b strings.Builder
	b.WriteString("/*\n")
	fmt.Fprintf(&b, " * File: %s\n", filename)
	fmt.Fprintf(&b, " * Date: %s\n", date)
	fmt.Fprintf(&b, " * Desc: Header file for %s. Auto-generated by %s.\n", prefix, script)
	b.WriteString(" */\n\n")
	fmt.Fprintf(&b, "#ifndef %s\n#define %s\n\n", guard, guard)
	b.WriteString("#ifdef __cplusplus\n extern \"C\" {\n#endif\n")
	return b.String()
}

// Footer renders the extern "C" closer and the include-guard close.
func (f *Formatter) Footer(prefix string) string {
	return "\n#ifdef __cplusplus\n}\n#endif\n" +
		"\n#endif /* " + GuardName(prefix) + " */"
}

// WriteHeader writes Header to w (stdout when nil).
func (f *Formatter) WriteHeader(w io.Writer, prefix, filename, script string) error {
	return Write(w, f.Header(prefix, filename, script))
}

// WriteFooter writes Footer to w (stdout when nil).
func (f *Formatter) WriteFooter(w io.Writer, prefix string) error {
	return Write(w, f.Footer(prefix))
}
