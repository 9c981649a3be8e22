package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	apperrors "github.com/lucid-softworks/akari/internal/errors"
)

var (
	errorHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#F38BA8"))

	errorCodeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAB387")).
			Italic(true)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1"))
)

// RenderError renders a described error as a header, an optional code line
// and an optional recovery hint.
func RenderError(d *apperrors.Described) string {
	if d == nil {
		return ""
	}

	var builder strings.Builder
	builder.WriteString(errorHeaderStyle.Render("Error: " + d.Message))

	if d.Code != "" || d.Status != 0 {
		code := d.Code
		if d.Status != 0 {
			code = strings.TrimSpace(fmt.Sprintf("%s (HTTP %d)", d.Code, d.Status))
		}
		builder.WriteString("\n")
		builder.WriteString(errorCodeStyle.Render("  Code: " + code))
	}

	if d.Hint != "" {
		builder.WriteString("\n")
		builder.WriteString(hintStyle.Render("  " + d.Hint))
	}
	return builder.String()
}
