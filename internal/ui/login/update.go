package login

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

var errMissingFields = errors.New("handle and password are required")

// Update handles messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case resultMsg:
		m.submitting = false
		if msg.err != nil {
			m.err = msg.err
			m.password.Reset()
			return m, m.focusField(fieldPassword)
		}
		s := msg.session
		m.session = &s
		m.err = nil
		return m, tea.Quit

	case spinner.TickMsg:
		if !m.submitting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		// While the request runs only ctrl+c is honoured.
		if m.submitting {
			if msg.Type == tea.KeyCtrlC {
				m.cancelled = true
				return m, tea.Quit
			}
			return m, nil
		}
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	if m.focus == fieldHandle {
		m.handle, cmd = m.handle.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

// handleKey processes navigation and submit keys. Other keys fall through to
// the focused input.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.cancelled = true
		return tea.Quit, true

	case tea.KeyTab, tea.KeyShiftTab, tea.KeyUp, tea.KeyDown:
		if m.focus == fieldHandle {
			return m.focusField(fieldPassword), true
		}
		return m.focusField(fieldHandle), true

	case tea.KeyEnter:
		if m.focus == fieldHandle && strings.TrimSpace(m.handle.Value()) != "" {
			return m.focusField(fieldPassword), true
		}
		if strings.TrimSpace(m.handle.Value()) == "" || m.password.Value() == "" {
			m.err = errMissingFields
			return nil, true
		}
		m.err = nil
		m.submitting = true
		return tea.Batch(m.spinner.Tick, m.submit()), true
	}
	return nil, false
}
