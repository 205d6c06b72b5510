package api

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/frank-ceva/nem/device"
)

var titleCaser = cases.Title(language.English)

func toTitleCase(s string) string {
	return titleCaser.String(strings.ToLower(s))
}

// WriteReport renders the session's diagnostics, the resolved device, and
// (after Load) the allocation ledger.
func (s *Session) WriteReport(w io.Writer) {
	separator := strings.Repeat("=", 60)

	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, "NEM SESSION REPORT")
	fmt.Fprintln(w, separator)

	if dev := s.res.Device; dev != nil {
		fmt.Fprintf(w, "\nDevice: %s (spec %s)\n", dev.Name, dev.SpecVersion)
		t := dev.Topology
		fmt.Fprintf(w, "  engines: %d, l2: %d bytes, l1 per engine: %d bytes\n",
			t.Engines, t.L2SizeBytes, t.L1SizeBytes)
		fmt.Fprintf(w, "  mandatory variants: %s\n",
			strings.Join(device.SortedRefs(dev.Mandatory), ", "))
		if len(dev.Extended) > 0 {
			fmt.Fprintf(w, "  extended variants: %s\n",
				strings.Join(device.SortedRefs(dev.Extended), ", "))
		}
	}

	diags := s.col.Diagnostics()
	if len(diags) == 0 {
		fmt.Fprintln(w, "\nNo diagnostics.")
	} else {
		fmt.Fprintf(w, "\n%d diagnostics (%d errors, %d warnings):\n",
			len(diags), s.col.ErrorCount(), s.col.WarningCount())
		dt := table.NewWriter()
		dt.SetOutputMirror(w)
		dt.AppendHeader(table.Row{"Severity", "Location", "Message"})
		for _, d := range diags {
			loc := ""
			if !d.Location.IsZero() {
				loc = d.Location.String()
			}
			dt.AppendRow(table.Row{toTitleCase(d.Severity.String()), loc, d.Message})
			for _, n := range d.Notes {
				noteLoc := ""
				if !n.Location.IsZero() {
					noteLoc = n.Location.String()
				}
				dt.AppendRow(table.Row{"", noteLoc, "note: " + n.Message})
			}
		}
		dt.Render()
	}

	if s.eng != nil {
		ledger := s.eng.Ledger()
		fmt.Fprintf(w, "\nAllocation ledger (%d buffers):\n", len(ledger))
		at := table.NewWriter()
		at.SetOutputMirror(w)
		at.AppendHeader(table.Row{"Buffer", "Space", "Offset", "Size", "Align"})
		for _, a := range ledger {
			at.AppendRow(table.Row{a.Buffer, a.Space.String(), a.Offset, a.Size, a.Align})
		}
		at.Render()
		fmt.Fprintf(w, "\nTasks executed: %d\n", s.eng.ExecutedTasks())
	}

	fmt.Fprintln(w, separator)
}
