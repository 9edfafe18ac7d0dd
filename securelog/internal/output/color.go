package output

import "github.com/fatih/color"

// Re-exported attributes so callers need not import fatih/color.
const (
	FgRed     = color.FgRed
	FgGreen   = color.FgGreen
	FgYellow  = color.FgYellow
	FgBlue    = color.FgBlue
	FgMagenta = color.FgMagenta
	FgCyan    = color.FgCyan
	FgWhite   = color.FgWhite

	Bold = color.Bold
	Dim  = color.Faint
)

// NewColor returns a color forced on or off regardless of the terminal, so
// output written to buffers and pipes is predictable.
func NewColor(enabled bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if enabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}
