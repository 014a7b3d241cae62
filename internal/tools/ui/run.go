package ui

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Action is a tool step that reports human-readable detail lines.
type Action func(context.Context) ([]string, error)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

type actionMsg struct {
	details []string
	err     error
}

type model struct {
	title   string
	timeout time.Duration
	details []string
	err     error
	done    bool
	action  Action
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		details, err := m.action(ctx)
		return actionMsg{details: details, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case actionMsg:
		m.details = msg.details
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	switch {
	case !m.done:
		b.WriteString("\nRunning...\n")
		return b.String()
	case m.err != nil:
		b.WriteString(failStyle.Render("FAILED") + ": " + m.err.Error() + "\n")
	default:
		b.WriteString(okStyle.Render("OK") + "\n")
	}
	for _, d := range m.details {
		b.WriteString(detailStyle.Render("- "+d) + "\n")
	}
	return b.String()
}

// Run executes action inside a bubbletea program and returns its outcome.
// Quitting before the action finishes reports context.Canceled.
func Run(title string, timeout time.Duration, action Action) ([]string, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	m := model{title: title, timeout: timeout, action: action}
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, err
	}
	res := final.(model)
	if !res.done {
		return nil, context.Canceled
	}
	return res.details, res.err
}
