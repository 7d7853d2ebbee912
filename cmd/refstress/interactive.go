package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

type interactiveModel struct {
	err      error
	report   *report
	start    tea.Cmd
	cancel   context.CancelFunc
	spinner  spinner.Model
	progress progress.Model
	opts     options
	done     int
	total    int
	finished bool
}

type progressMsg struct {
	done  int
	total int
}

type finishedMsg struct {
	err    error
	report *report
}

func newInteractiveModel(opts options, cancel context.CancelFunc) *interactiveModel {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = okStyle
	return &interactiveModel{
		opts:     opts,
		cancel:   cancel,
		spinner:  sp,
		progress: progress.New(progress.WithDefaultGradient()),
		total:    opts.bridges * max(opts.rounds, 1),
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start)
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancel()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.progress.Width = min(max(msg.Width-4, 10), 80)

	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressMsg:
		m.done, m.total = msg.done, msg.total
		return m, m.progress.SetPercent(float64(msg.done) / float64(msg.total))

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		m.progress = pm.(progress.Model)
		return m, cmd

	case finishedMsg:
		m.finished = true
		m.report = msg.report
		m.err = msg.err
		return m, m.progress.SetPercent(1)
	}
	return m, nil
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("refstress"))
	b.WriteString(fmt.Sprintf(" %d bridges on %s store\n\n", m.opts.bridges, m.opts.store))

	if !m.finished {
		b.WriteString(m.spinner.View())
		b.WriteString(fmt.Sprintf(" %d/%d bridges released\n\n", m.done, m.total))
	}
	b.WriteString(m.progress.View())
	b.WriteString("\n\n")

	if m.report != nil {
		b.WriteString(renderReport(m.report))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("q quit"))
	return b.String()
}

// runInteractive drives the scenario behind the TUI and returns the report
// the program finished with. The report is nil when the user quit first.
func runInteractive(ctx context.Context, opts options) (*report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newInteractiveModel(opts, cancel)
	p := tea.NewProgram(m, tea.WithAltScreen())
	m.start = func() tea.Msg {
		rep, err := runScenario(ctx, opts, func(done, total int) {
			p.Send(progressMsg{done: done, total: total})
		})
		return finishedMsg{report: rep, err: err}
	}

	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	fm, ok := final.(*interactiveModel)
	if !ok {
		return nil, fmt.Errorf("unexpected model %T", final)
	}
	return fm.report, fm.err
}
