package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ternarybob/stockcheck/internal/services/stock"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	availableStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	urlStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Underline(true)
)

const (
	refreshInterval = 100 * time.Millisecond
	maxBarWidth     = 60
)

type tickMsg time.Time

type settledMsg struct {
	outcome stock.Outcome
}

// checkModel renders a running stock check. It polls the run for progress
// and quits once the run settles.
type checkModel struct {
	run        *stock.Run
	label      string
	bar        progress.Model
	spinner    spinner.Model
	checked    int
	cancelling bool
	outcome    *stock.Outcome
}

func newCheckModel(run *stock.Run, label string) checkModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = titleStyle

	if label == "" {
		label = "items"
	}

	return checkModel{
		run:     run,
		label:   label,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spinner: s,
	}
}

func (m checkModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick(), waitSettled(m.run))
}

func (m checkModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.cancelling {
				m.cancelling = true
				m.run.Cancel()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width-20, maxBarWidth)
		return m, nil

	case tickMsg:
		m.checked = m.run.Checked()
		return m, tick()

	case settledMsg:
		m.outcome = &msg.outcome
		m.checked = msg.outcome.Checked
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m checkModel) View() string {
	if m.outcome != nil {
		return ""
	}

	total := m.run.Total()
	percent := 0.0
	if total > 0 {
		percent = float64(m.checked) / float64(total)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n %s Checking %s %s\n\n", m.spinner.View(), titleStyle.Render(m.label), hintStyle.Render(m.run.ID()))
	fmt.Fprintf(&b, " %s %d/%d\n\n", m.bar.ViewAs(percent), m.checked, total)
	if m.cancelling {
		b.WriteString(warnStyle.Render(" Cancelling, waiting for open pages to finish...") + "\n")
	} else {
		b.WriteString(hintStyle.Render(" q / ctrl+c to cancel") + "\n")
	}
	return b.String()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitSettled(run *stock.Run) tea.Cmd {
	return func() tea.Msg {
		outcome, _ := run.Wait(context.Background())
		return settledMsg{outcome: outcome}
	}
}

// renderSummary formats a settled run for the terminal
func renderSummary(o stock.Outcome) string {
	var b strings.Builder

	status := "completed"
	if o.Cancelled {
		status = warnStyle.Render("cancelled")
	}
	fmt.Fprintf(&b, "\n%s %s: checked %d of %d in %s\n",
		titleStyle.Render("Stock check"), status, o.Checked, o.Total, o.Duration.Round(time.Millisecond))

	if len(o.Available) == 0 {
		b.WriteString(hintStyle.Render("Nothing available.") + "\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%s\n", availableStyle.Render(fmt.Sprintf("%d available:", len(o.Available))))
	for _, item := range o.Available {
		name := item.DisplayName
		if item.PositionLabel != "" {
			name = fmt.Sprintf("%s (%s)", name, item.PositionLabel)
		}
		fmt.Fprintf(&b, "  %s\n    %s\n", name, urlStyle.Render(item.URL))
	}
	return b.String()
}
