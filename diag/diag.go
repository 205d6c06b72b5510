// Package diag defines source locations and the diagnostic collector shared by
// every layer of the toolkit.
package diag

import (
	"fmt"
	"strings"
)

// Severity classifies a diagnostic.
type Severity int

const (
	Error Severity = iota
	Warning
	Info
)

var severityNames = []string{"error", "warning", "info"}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return fmt.Sprintf("severity %d", s)
}

// Location identifies a half-open [start, end) span in a source file. Columns
// and lines are 1-based; EndLine/EndCol point one past the last character.
type Location struct {
	File      string
	Line      int
	Col       int
	EndLine   int
	EndCol    int
}

// Span returns a location covering both a and b.
func Span(a, b Location) Location {
	out := a
	out.EndLine = b.EndLine
	out.EndCol = b.EndCol
	return out
}

func (l Location) IsZero() bool {
	return l.File == "" && l.Line == 0
}

func (l Location) String() string {
	if l.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
}

// Note is a secondary remark attached to a diagnostic, in order.
type Note struct {
	Message  string
	Location Location
}

// Diagnostic is one severity-tagged message with an optional location.
type Diagnostic struct {
	Severity Severity
	Message  string
	Location Location
	Notes    []Note
}

func (d Diagnostic) String() string {
	var b strings.Builder
	if !d.Location.IsZero() {
		b.WriteString(d.Location.String())
		b.WriteString(": ")
	}
	b.WriteString(d.Severity.String())
	b.WriteString(": ")
	b.WriteString(d.Message)
	for _, n := range d.Notes {
		b.WriteString("\n  note: ")
		b.WriteString(n.Message)
		if !n.Location.IsZero() {
			b.WriteString(" (" + n.Location.String() + ")")
		}
	}
	return b.String()
}

// Collector accumulates diagnostics in emission order. The zero value is ready
// to use. Collectors are passed downward through every layer; layers append
// and never remove.
type Collector struct {
	diags     []Diagnostic
	errCount  int
	warnCount int
}

// Add appends a fully formed diagnostic.
func (c *Collector) Add(d Diagnostic) {
	c.diags = append(c.diags, d)
	switch d.Severity {
	case Error:
		c.errCount++
	case Warning:
		c.warnCount++
	}
}

// Errorf appends an error at loc.
func (c *Collector) Errorf(loc Location, format string, args ...any) *Diagnostic {
	c.Add(Diagnostic{Severity: Error, Location: loc, Message: fmt.Sprintf(format, args...)})
	return &c.diags[len(c.diags)-1]
}

// Warnf appends a warning at loc.
func (c *Collector) Warnf(loc Location, format string, args ...any) *Diagnostic {
	c.Add(Diagnostic{Severity: Warning, Location: loc, Message: fmt.Sprintf(format, args...)})
	return &c.diags[len(c.diags)-1]
}

// Infof appends an informational message at loc.
func (c *Collector) Infof(loc Location, format string, args ...any) *Diagnostic {
	c.Add(Diagnostic{Severity: Info, Location: loc, Message: fmt.Sprintf(format, args...)})
	return &c.diags[len(c.diags)-1]
}

// Notef attaches a secondary note to a previously added diagnostic.
func (d *Diagnostic) Notef(loc Location, format string, args ...any) *Diagnostic {
	d.Notes = append(d.Notes, Note{Message: fmt.Sprintf(format, args...), Location: loc})
	return d
}

// Diagnostics returns the accumulated list in emission order.
func (c *Collector) Diagnostics() []Diagnostic {
	return c.diags
}

// HasErrors reports whether any error-severity diagnostic was collected.
func (c *Collector) HasErrors() bool {
	return c.errCount > 0
}

// ErrorCount returns the number of error-severity diagnostics.
func (c *Collector) ErrorCount() int {
	return c.errCount
}

// WarningCount returns the number of warning-severity diagnostics.
func (c *Collector) WarningCount() int {
	return c.warnCount
}
