// Package output renders CLI results as colored text, aligned tables or
// indented JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// Format selects how structured results are printed.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// ParseFormat accepts "table" and "json".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatTable, "":
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown output format %q", models.ErrConfiguration, s)
	}
}

// Printer writes results to out and diagnostics to errOut.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	format Format
	color  bool
}

func New(out, errOut io.Writer, format Format, color bool) *Printer {
	return &Printer{out: out, errOut: errOut, format: format, color: color}
}

func (p *Printer) Format() Format { return p.format }

func (p *Printer) Success(format string, a ...interface{}) {
	fmt.Fprintln(p.out, NewColor(p.color, FgGreen, Bold).Sprintf("✓ "+format, a...))
}

func (p *Printer) Error(format string, a ...interface{}) {
	fmt.Fprintln(p.errOut, NewColor(p.color, FgRed, Bold).Sprintf("✗ "+format, a...))
}

func (p *Printer) Info(format string, a ...interface{}) {
	fmt.Fprintln(p.out, NewColor(p.color, FgCyan).Sprintf(format, a...))
}

func (p *Printer) Warn(format string, a ...interface{}) {
	fmt.Fprintln(p.errOut, NewColor(p.color, FgYellow).Sprintf("⚠ "+format, a...))
}

// JSON writes v indented.
func (p *Printer) JSON(v interface{}) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// SeverityColor highlights a severity keyword by rank.
func (p *Printer) SeverityColor(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return NewColor(p.color, FgRed, Bold).Sprint(s)
	case models.SeverityHigh:
		return NewColor(p.color, FgRed).Sprint(s)
	case models.SeverityMedium:
		return NewColor(p.color, FgYellow).Sprint(s)
	case models.SeverityLow:
		return NewColor(p.color, FgBlue).Sprint(s)
	default:
		return NewColor(p.color, Dim).Sprint(s)
	}
}

// Table collects rows and prints them with padded columns.
type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *Table) Len() int { return len(t.rows) }

// visibleLen ignores ANSI escape sequences.
func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		switch {
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		case r == '\033':
			inEscape = true
		default:
			n++
		}
	}
	return n
}

func pad(s string, width int) string {
	if d := width - visibleLen(s); d > 0 {
		return s + strings.Repeat(" ", d)
	}
	return s
}

// Render writes the table through p.
func (p *Printer) Render(t *Table) {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && visibleLen(cell) > widths[i] {
				widths[i] = visibleLen(cell)
			}
		}
	}

	header := NewColor(p.color, FgWhite, Bold)
	var b strings.Builder
	for i, h := range t.headers {
		b.WriteString(pad(header.Sprint(h), widths[i]))
		b.WriteString("  ")
	}
	fmt.Fprintln(p.out, strings.TrimRight(b.String(), " "))

	b.Reset()
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w))
		b.WriteString("  ")
	}
	fmt.Fprintln(p.out, strings.TrimRight(b.String(), " "))

	for _, row := range t.rows {
		b.Reset()
		for i := range widths {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			b.WriteString(pad(cell, widths[i]))
			b.WriteString("  ")
		}
		fmt.Fprintln(p.out, strings.TrimRight(b.String(), " "))
	}
}

// Newline writes an empty line.
func (p *Printer) Newline() {
	fmt.Fprintln(p.out)
}

// Colorize wraps s in attrs when color is enabled.
func (p *Printer) Colorize(s string, attrs ...color.Attribute) string {
	return NewColor(p.color, attrs...).Sprint(s)
}
