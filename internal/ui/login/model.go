// Package login implements the interactive sign-in form used by
// `pdsctl login` when stdin is a terminal.
package login

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lucid-softworks/akari/internal/interfaces"
)

// Func performs the createSession call.
type Func func(ctx context.Context, identifier, password string) (interfaces.Session, error)

type field int

const (
	fieldHandle field = iota
	fieldPassword
)

// Model is the sign-in form state.
type Model struct {
	ctx     context.Context
	login   Func
	service string

	handle   textinput.Model
	password textinput.Model
	spinner  spinner.Model
	focus    field

	submitting bool
	cancelled  bool
	session    *interfaces.Session
	err        error

	width int
}

// resultMsg carries the outcome of a createSession call.
type resultMsg struct {
	session interfaces.Session
	err     error
}

// New creates the form. A non-empty handle is pre-filled and focus starts on
// the password.
func New(ctx context.Context, service, handle string, login Func) *Model {
	h := textinput.New()
	h.Placeholder = "alice.bsky.social"
	h.Prompt = "Handle:   "
	h.CharLimit = 253
	h.Width = 40
	h.SetValue(handle)

	p := textinput.New()
	p.Placeholder = "app password"
	p.Prompt = "Password: "
	p.EchoMode = textinput.EchoPassword
	p.EchoCharacter = '•'
	p.CharLimit = 256
	p.Width = 40

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	m := &Model{
		ctx:      ctx,
		login:    login,
		service:  service,
		handle:   h,
		password: p,
		spinner:  s,
	}
	if handle != "" {
		m.focusField(fieldPassword)
	} else {
		m.focusField(fieldHandle)
	}
	return m
}

// Init is the first command that will be executed.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// Session returns the signed-in session once the form has completed.
func (m *Model) Session() (interfaces.Session, bool) {
	if m.session == nil {
		return interfaces.Session{}, false
	}
	return *m.session, true
}

// Cancelled reports whether the user left the form without signing in.
func (m *Model) Cancelled() bool {
	return m.cancelled
}

// Err returns the last sign-in failure shown by the form.
func (m *Model) Err() error {
	return m.err
}

func (m *Model) focusField(f field) tea.Cmd {
	m.focus = f
	if f == fieldHandle {
		m.password.Blur()
		return m.handle.Focus()
	}
	m.handle.Blur()
	return m.password.Focus()
}

// submit is a command that performs the sign-in.
func (m *Model) submit() tea.Cmd {
	ctx, login := m.ctx, m.login
	identifier, password := m.handle.Value(), m.password.Value()
	return func() tea.Msg {
		s, err := login(ctx, identifier, password)
		return resultMsg{session: s, err: err}
	}
}
