package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateSelect modelState = iota
	stateUser
	stateResult
)

type interactiveModel struct {
	err      error
	st       *stack
	result   string
	status   string
	entities []entity
	input    textinput.Model
	selected int
	state    modelState
}

type evalResultMsg struct {
	err    error
	result string
}

type flushedMsg struct {
	err error
}

func newInteractiveModel(st *stack, userID string) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "user id"
	ti.Prompt = "user: "
	ti.Width = 40
	ti.SetValue(userID)

	return &interactiveModel{
		st:       st,
		entities: st.entities(),
		input:    ti,
		state:    stateSelect,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateUser {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelect && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelect && m.selected < len(m.entities)-1 {
				m.selected++
			}

		case "f":
			if m.state == stateSelect {
				m.status = "flushing events..."
				return m, m.flush
			}

		case "enter":
			switch m.state {
			case stateSelect:
				if len(m.entities) == 0 {
					return m, nil
				}
				m.state = stateUser
				m.input.Focus()
				return m, textinput.Blink

			case stateUser:
				if strings.TrimSpace(m.input.Value()) == "" {
					return m, nil
				}
				m.input.Blur()
				return m, m.evaluate

			case stateResult:
				m.state = stateSelect
				m.result = ""
				m.err = nil
			}
			return m, nil

		case "esc":
			switch m.state {
			case stateUser:
				m.input.Blur()
				m.state = stateSelect
			case stateResult:
				m.state = stateSelect
				m.result = ""
				m.err = nil
			}
			return m, nil
		}

	case evalResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateResult
		return m, nil

	case flushedMsg:
		if msg.err != nil {
			m.status = errorStyle.Render(fmt.Sprintf("flush failed: %v", msg.err))
		} else {
			m.status = "events flushed"
		}
		return m, nil
	}

	if m.state == stateUser {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) evaluate() tea.Msg {
	e := m.entities[m.selected]
	v, err := m.st.evaluate(e, strings.TrimSpace(m.input.Value()))
	if err != nil {
		return evalResultMsg{err: err}
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return evalResultMsg{err: err}
	}
	return evalResultMsg{result: string(out)}
}

func (m *interactiveModel) flush() tea.Msg {
	_, err := m.st.client.FlushEvents().AwaitTimeout(5 * time.Second)
	return flushedMsg{err: err}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Flag Explorer"))
	b.WriteString(" ")
	b.WriteString(m.st.engine)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelect:
		if len(m.entities) == 0 {
			b.WriteString("No specs loaded. Start with -specs to browse entities.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			return b.String()
		}
		b.WriteString("Select an entity to evaluate:\n\n")
		for i, e := range m.entities {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatEntity(e)))
			} else {
				b.WriteString("  " + formatEntity(e))
			}
			b.WriteString("\n")
		}
		if m.status != "" {
			b.WriteString("\n")
			b.WriteString(m.status)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter evaluate • f flush events • q quit"))

	case stateUser:
		e := m.entities[m.selected]
		b.WriteString(fmt.Sprintf("Evaluating %s %s\n\n", kindStyle.Render(e.kind), nameStyle.Render(e.name)))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter evaluate • esc back"))

	case stateResult:
		e := m.entities[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s for %s:\n\n", nameStyle.Render(e.name), m.input.Value()))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func formatEntity(e entity) string {
	return kindStyle.Render(fmt.Sprintf("%-10s", e.kind)) + " " + nameStyle.Render(e.name)
}

func runInteractive(st *stack, userID string) error {
	p := tea.NewProgram(newInteractiveModel(st, userID), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
