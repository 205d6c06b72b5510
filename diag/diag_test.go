package diag

import (
	"strings"
	"testing"
)

func TestCollectorCounts(t *testing.T) {
	var c Collector
	c.Errorf(Location{}, "first")
	c.Warnf(Location{}, "second")
	c.Infof(Location{}, "third")
	c.Errorf(Location{}, "fourth")

	if !c.HasErrors() || c.ErrorCount() != 2 || c.WarningCount() != 1 {
		t.Errorf("counts = errors %d warnings %d", c.ErrorCount(), c.WarningCount())
	}
	if len(c.Diagnostics()) != 4 {
		t.Errorf("diagnostics = %d, want 4", len(c.Diagnostics()))
	}
	// Emission order is preserved.
	if c.Diagnostics()[0].Message != "first" || c.Diagnostics()[3].Message != "fourth" {
		t.Errorf("order lost: %v", c.Diagnostics())
	}
}

func TestNotes(t *testing.T) {
	var c Collector
	loc := Location{File: "a.nem", Line: 3, Col: 7, EndLine: 3, EndCol: 9}
	c.Errorf(loc, "overlap").
		Notef(Location{File: "a.nem", Line: 1, Col: 1}, "first write here").
		Notef(Location{File: "a.nem", Line: 2, Col: 1}, "second write here")

	d := c.Diagnostics()[0]
	if len(d.Notes) != 2 {
		t.Fatalf("notes = %d, want 2", len(d.Notes))
	}
	text := d.String()
	if !strings.Contains(text, "a.nem:3:7") || !strings.Contains(text, "first write here") {
		t.Errorf("rendering = %q", text)
	}
}

func TestSpan(t *testing.T) {
	a := Location{File: "x", Line: 1, Col: 2, EndLine: 1, EndCol: 4}
	b := Location{File: "x", Line: 2, Col: 1, EndLine: 2, EndCol: 8}
	s := Span(a, b)
	if s.Line != 1 || s.Col != 2 || s.EndLine != 2 || s.EndCol != 8 {
		t.Errorf("span = %+v", s)
	}
}
