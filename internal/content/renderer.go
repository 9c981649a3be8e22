// Package content formats XRPC responses for the terminal: pretty-printed and
// highlighted JSON bodies and fixed-width tables.
package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
	"github.com/charmbracelet/lipgloss"
)

const (
	minColumnWidth = 4
	maxColumnWidth = 48
)

// Renderer turns response bodies into display text. A Renderer with color
// disabled emits plain text suitable for pipes and files.
type Renderer struct {
	highlighter *SyntaxHighlighter
	color       bool
	maxRows     int
	headerStyle lipgloss.Style
}

// NewRenderer creates a renderer. When color is false no escape sequences are
// ever written.
func NewRenderer(color bool) (*Renderer, error) {
	highlighter, err := NewSyntaxHighlighter("github", "terminal256")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize syntax highlighter: %w", err)
	}
	return &Renderer{
		highlighter: highlighter,
		color:       color,
		maxRows:     200,
		headerStyle: lipgloss.NewStyle().Bold(true).Underline(true),
	}, nil
}

// SetTheme changes the chroma style used for JSON.
func (r *Renderer) SetTheme(name string) error {
	return r.highlighter.SetTheme(name)
}

// RenderJSON indents body and highlights it. Bodies that are not JSON are
// returned unchanged; an empty body renders as an empty string.
func (r *Renderer) RenderJSON(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, trimmed, "", "  "); err != nil {
		return string(body)
	}
	if !r.color {
		return indented.String()
	}

	highlighted, err := r.highlighter.Highlight(indented.String(), "json")
	if err != nil {
		return indented.String()
	}
	return highlighted
}

// RenderTable lays rows out under headers with padded columns. Cells wider
// than the column limit are truncated with an ellipsis.
func (r *Renderer) RenderTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	widths := columnWidths(headers, rows)
	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, r.formatRow(headers, widths, true))
	lines = append(lines, separator(widths))

	for i, row := range rows {
		if i >= r.maxRows {
			lines = append(lines, fmt.Sprintf("... and %d more rows", len(rows)-r.maxRows))
			break
		}
		lines = append(lines, r.formatRow(row, widths, false))
	}
	return strings.Join(lines, "\n")
}

func columnWidths(headers []string, rows [][]string) []int {
	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = lipgloss.Width(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}
	for i := range widths {
		widths[i] = max(minColumnWidth, min(widths[i], maxColumnWidth))
	}
	return widths
}

func (r *Renderer) formatRow(cells []string, widths []int, isHeader bool) string {
	formatted := make([]string, len(widths))
	for i, width := range widths {
		cell := ""
		if i < len(cells) {
			cell = truncate(cells[i], width)
		}
		padded := cell + strings.Repeat(" ", width-lipgloss.Width(cell))
		if isHeader && r.color {
			padded = r.headerStyle.Render(padded)
		}
		formatted[i] = padded
	}
	return strings.TrimRight(strings.Join(formatted, "  "), " ")
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

func separator(widths []int) string {
	parts := make([]string, len(widths))
	for i, width := range widths {
		parts[i] = strings.Repeat("─", width)
	}
	return strings.Join(parts, "  ")
}

// SyntaxHighlighter provides code syntax highlighting capabilities using Chroma
type SyntaxHighlighter struct {
	formatter chroma.Formatter
	style     *chroma.Style
	theme     string
}

// NewSyntaxHighlighter creates a new syntax highlighter with specified theme and format
func NewSyntaxHighlighter(themeName, formatterName string) (*SyntaxHighlighter, error) {
	formatter := formatters.Get(formatterName)
	if formatter == nil {
		formatter = formatters.Fallback
	}

	style := styles.Get(themeName)
	if style == nil {
		style = styles.GitHub
	}

	return &SyntaxHighlighter{
		formatter: formatter,
		style:     style,
		theme:     themeName,
	}, nil
}

// Highlight applies syntax highlighting to code
func (sh *SyntaxHighlighter) Highlight(code, language string) (string, error) {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	var highlighted strings.Builder
	if err := sh.formatter.Format(&highlighted, sh.style, iterator); err != nil {
		return code, err
	}
	return highlighted.String(), nil
}

// SetTheme updates the syntax highlighting theme
func (sh *SyntaxHighlighter) SetTheme(themeName string) error {
	style, ok := styles.Registry[themeName]
	if !ok {
		return fmt.Errorf("theme '%s' not found", themeName)
	}

	sh.style = style
	sh.theme = themeName
	return nil
}

// Theme returns the active chroma style name.
func (sh *SyntaxHighlighter) Theme() string {
	return sh.theme
}
