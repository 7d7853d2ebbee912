package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/multierr"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB")).
			Width(18)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
)

type row struct {
	label string
	value string
}

func reportRows(r *report) []row {
	st := r.stats
	return []row{
		{"store", r.store},
		{"bridges", fmt.Sprintf("%d x %d rounds", r.bridges, r.rounds)},
		{"elapsed", r.elapsed.Round(time.Millisecond).String()},
		{"round trips", fmt.Sprint(r.roundTrips)},
		{"delivered", fmt.Sprint(r.delivered)},
		{"cross-thread", fmt.Sprint(r.crossed)},
		{"globals", fmt.Sprintf("%d created, %d deleted, %d live", st.GlobalsCreated, st.GlobalsDeleted, st.Globals)},
		{"locals", fmt.Sprintf("%d created, %d deleted", st.LocalsCreated, st.LocalsDeleted)},
		{"pins", fmt.Sprintf("%d pinned, %d unpinned", st.Pinned, st.Unpinned)},
		{"store size", fmt.Sprintf("%d bytes", r.storeSize)},
	}
}

func problems(r *report) []string {
	var out []string
	for _, err := range r.violations {
		out = append(out, "violation: "+err.Error())
	}
	for _, err := range multierr.Errors(r.leaks) {
		out = append(out, "leak: "+err.Error())
	}
	return out
}

func renderReport(r *report) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("refstress"))
	b.WriteString("\n\n")
	for _, rw := range reportRows(r) {
		b.WriteString(labelStyle.Render(rw.label))
		b.WriteString(rw.value)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if r.Clean() {
		b.WriteString(okStyle.Render("clean: every reference released exactly once"))
		return boxStyle.Render(b.String())
	}
	for _, p := range problems(r) {
		b.WriteString(errorStyle.Render(p))
		b.WriteString("\n")
	}
	if n := r.stats.Globals; n > 0 {
		b.WriteString(errorStyle.Render(fmt.Sprintf("%d global references still live", n)))
	}
	return boxStyle.Render(b.String())
}

func plainReport(r *report) string {
	var b strings.Builder
	for _, rw := range reportRows(r) {
		fmt.Fprintf(&b, "%s: %s\n", rw.label, rw.value)
	}
	for _, p := range problems(r) {
		fmt.Fprintln(&b, p)
	}
	if r.Clean() {
		fmt.Fprintln(&b, "result: clean")
	} else {
		fmt.Fprintln(&b, "result: FAILED")
	}
	return b.String()
}
