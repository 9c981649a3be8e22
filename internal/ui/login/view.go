package login

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	apperrors "github.com/lucid-softworks/akari/internal/errors"
	"github.com/lucid-softworks/akari/internal/ui/components"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#CBA6F7")).
			Padding(1, 2)

	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")).Padding(1, 0, 0, 0)
)

// View renders the form.
func (m *Model) View() string {
	if m.session != nil {
		return components.RenderStatus("success", "Signed in as "+m.session.Handle) + "\n"
	}
	if m.cancelled {
		return ""
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("Sign in to " + m.service))
	s.WriteString("\n\n")

	form := lipgloss.JoinVertical(lipgloss.Left, m.handle.View(), m.password.View())
	s.WriteString(boxStyle.Render(form))
	s.WriteString("\n")

	switch {
	case m.submitting:
		s.WriteString(m.spinner.View() + " Signing in...")
	case m.err != nil:
		s.WriteString(components.RenderError(apperrors.Describe(m.err)))
	}

	s.WriteString(helpStyle.Render("[Enter] Next/Submit | [Tab] Switch field | [Esc] Cancel"))
	s.WriteString("\n")
	return s.String()
}
