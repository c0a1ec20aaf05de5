package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"

	"github.com/linnemanlabs/traceback/internal/retrieval"
	"github.com/linnemanlabs/traceback/internal/triage"
)

const (
	formatText = "text"
	formatJSON = "json"

	maxFragmentWidth = 90
	defaultWrap      = 100
)

func checkFormat(format string) error {
	switch format {
	case formatText, formatJSON:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text or json)", format)
	}
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// terminalWidth reports whether w is a terminal and, if so, its width.
func terminalWidth(w io.Writer) (int, bool) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
		return 0, false
	}
	width, _, err := term.GetSize(int(f.Fd())) //nolint:gosec // fd fits in int
	if err != nil || width <= 0 {
		width = defaultWrap
	}
	return width, true
}

// renderMarkdown styles md for a terminal of the given width. The raw text is
// returned when rendering fails.
func renderMarkdown(md string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func renderResult(w io.Writer, r *triage.Result, verbose bool) {
	t := newTable(w)
	t.AppendRows([]table.Row{
		{"ID", r.ID},
		{"Status", r.Status},
		{"Priority", orDash(r.Priority)},
		{"Model", orDash(r.Model)},
		{"Duration", fmt.Sprintf("%.1fs", r.Duration)},
		{"Tokens", fmt.Sprintf("%d in / %d out", r.InputTokensUsed, r.OutputTokensUsed)},
		{"Blast radius", listOrNone(r.BlastRadius)},
		{"Dashboards", listOrNone(r.Dashboards)},
		{"Sources", listOrNone(r.Sources)},
	})
	t.Render()

	if verbose && len(r.Stages) > 0 {
		st := newTable(w)
		st.AppendHeader(table.Row{"Stage", "Status", "Next", "Duration", "Reason"})
		for _, s := range r.Stages {
			st.AppendRow(table.Row{s.Stage, s.Status, s.Next, fmt.Sprintf("%.2fs", s.Duration), s.Reason})
		}
		st.Render()
	}

	if r.Error != "" {
		_, _ = fmt.Fprintf(w, "\nerror: %s\n", r.Error)
	}

	brief := r.Brief
	if width, ok := terminalWidth(w); ok {
		brief = renderMarkdown(brief, width)
	}
	_, _ = fmt.Fprintf(w, "\n%s\n", strings.TrimRight(brief, "\n"))
}

func renderFragments(w io.Writer, frags []retrieval.Fragment) {
	if len(frags) == 0 {
		_, _ = fmt.Fprintln(w, "(no results)")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Kind", "Source", "Text"})
	for i, f := range frags {
		t.AppendRow(table.Row{i + 1, f.Kind, f.Source, clip(f.Text, maxFragmentWidth)})
	}
	t.Render()
}

func renderLineage(w io.Writer, l lineageView) {
	t := newTable(w)
	known := "yes"
	if !l.Known {
		known = "no (not in lineage graph)"
	}
	t.AppendRows([]table.Row{
		{"Table", l.Table},
		{"Known", known},
		{"Upstream", listOrNone(l.UpstreamDependencies)},
		{"Downstream", listOrNone(l.DownstreamImpact)},
		{"Dashboards", listOrNone(l.Dashboards)},
		{"Total dependencies", l.TotalDependencies},
	})
	t.Render()
}

// clip flattens s to one line of at most n runes.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func listOrNone(s []string) string {
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
