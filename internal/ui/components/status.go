// Package components provides the small lipgloss building blocks shared by the
// pdsctl views: status lines, session summaries and error panes.
package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lucid-softworks/akari/internal/auth"
	"github.com/lucid-softworks/akari/internal/interfaces"
)

// statusStyles maps status strings to their corresponding visual style.
var statusStyles = map[string]lipgloss.Style{
	"pending":    lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
	"success":    lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
	"error":      lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")),
	"warning":    lipgloss.NewStyle().Foreground(lipgloss.Color("#FAB387")),
	"info":       lipgloss.NewStyle().Foreground(lipgloss.Color("#89B4FA")),
	"refreshing": lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
}

// statusIcons maps status strings to their corresponding icon.
var statusIcons = map[string]string{
	"pending":    "…",
	"success":    "✓",
	"error":      "✗",
	"warning":    "!",
	"info":       "i",
	"refreshing": "↻",
}

var labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")).Width(14)

// RenderStatus formats a status message with an appropriate icon and color.
func RenderStatus(status, message string) string {
	style, exists := statusStyles[status]
	if !exists {
		style = lipgloss.NewStyle()
	}

	icon, exists := statusIcons[status]
	if !exists {
		icon = "-"
	}

	return style.Render(fmt.Sprintf("%s %s", icon, message))
}

// AccountStatus classifies a session for display.
func AccountStatus(s interfaces.Session) string {
	switch {
	case !s.HasTokens():
		return "error"
	case !s.Active:
		return "warning"
	default:
		return "success"
	}
}

// RenderSession summarizes a session as labelled lines. Token expiry is
// shown when the access token carries readable claims.
func RenderSession(s interfaces.Session, service string, now time.Time) string {
	rows := [][2]string{
		{"handle", s.Handle},
		{"did", s.DID},
		{"service", service},
	}
	if s.Email != "" {
		email := s.Email
		if !s.EmailConfirmed {
			email += " (unconfirmed)"
		}
		rows = append(rows, [2]string{"email", email})
	}

	state := "active"
	if !s.Active {
		state = "inactive"
		if s.Status != "" {
			state = s.Status
		}
	}
	rows = append(rows, [2]string{"status", RenderStatus(AccountStatus(s), state)})

	if claims, ok := auth.DecodeClaims(s.AccessToken); ok && !claims.ExpiresAt.IsZero() {
		if claims.Expired(now) {
			rows = append(rows, [2]string{"access", RenderStatus("warning", "expired, renews on next call")})
		} else {
			left := claims.ExpiresAt.Sub(now).Round(time.Second)
			rows = append(rows, [2]string{"access", fmt.Sprintf("expires in %s", left)})
		}
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		lines = append(lines, labelStyle.Render(row[0])+row[1])
	}
	return strings.Join(lines, "\n")
}
