package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/lucid-softworks/akari/internal/account"
	"github.com/lucid-softworks/akari/internal/client"
	apperrors "github.com/lucid-softworks/akari/internal/errors"
	"github.com/lucid-softworks/akari/internal/health"
	"github.com/lucid-softworks/akari/internal/interfaces"
	"github.com/lucid-softworks/akari/internal/protocol"
	"github.com/lucid-softworks/akari/internal/ui/components"
	"github.com/lucid-softworks/akari/internal/ui/login"
)

var errNoPassword = errors.New("no password available: set AKARI_PASSWORD, pass --password-stdin, or run in a terminal")

func (a *App) cmdLogin(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "login", "[handle]")
	handle := fs.String("handle", "", "Handle, DID or email to sign in with (env AKARI_HANDLE)")
	passwordStdin := fs.Bool("password-stdin", false, "Read the password from the first line of stdin")
	authFactor := fs.String("auth-factor", "", "Two-factor code sent by email")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	p, err := a.resolveProfile(true)
	if err != nil {
		return err
	}
	identifier := firstNonEmpty(*handle, fs.Arg(0), p.Handle)

	// The profile must exist before the session listener can write to it.
	if err := a.configMgr.SaveProfile(p); err != nil {
		return err
	}
	c, err := a.newClient(p)
	if err != nil {
		return err
	}
	service, _ := c.ServiceURL()

	var s interfaces.Session
	switch {
	case *passwordStdin:
		password, err := readFirstLine(a.stdin)
		if err != nil {
			return err
		}
		s, err = a.login(ctx, c, identifier, password, *authFactor)
		if err != nil {
			return err
		}
	case a.env.Password != "":
		if s, err = a.login(ctx, c, identifier, a.env.Password, *authFactor); err != nil {
			return err
		}
	case isTerminal(a.stdin) && isTerminal(a.stdout):
		form := login.New(ctx, service, identifier, func(ctx context.Context, id, pw string) (interfaces.Session, error) {
			return c.Login(ctx, id, pw, *authFactor)
		})
		if _, err := tea.NewProgram(form, tea.WithInput(a.stdin), tea.WithOutput(a.stdout)).Run(); err != nil {
			return fmt.Errorf("login form failed: %w", err)
		}
		if form.Cancelled() {
			return errors.New("login cancelled")
		}
		var ok bool
		if s, ok = form.Session(); !ok {
			return form.Err()
		}
		return nil
	default:
		password, err := a.promptPassword()
		if err != nil {
			return err
		}
		if s, err = a.login(ctx, c, identifier, password, *authFactor); err != nil {
			return err
		}
	}

	fmt.Fprintln(a.stdout, components.RenderStatus("success", fmt.Sprintf("Signed in as %s (%s)", s.Handle, s.DID)))
	return nil
}

func (a *App) login(ctx context.Context, c *client.Client, identifier, password, authFactor string) (interfaces.Session, error) {
	if identifier == "" {
		return interfaces.Session{}, errors.New("no handle given: pass --handle or set AKARI_HANDLE")
	}
	return c.Login(ctx, identifier, password, authFactor)
}

// promptPassword reads a password without echo when stdin is a terminal.
func (a *App) promptPassword() (string, error) {
	f, ok := a.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", errNoPassword
	}
	fmt.Fprint(a.stderr, "Password: ")
	pass, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(a.stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pass), nil
}

func (a *App) cmdWhoami(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "whoami", "")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	c, p, err := a.sessionClient()
	if err != nil {
		return err
	}
	if _, err := c.ResumeSession(ctx, *p.Session); err != nil {
		return err
	}
	s, ok := c.Session()
	if !ok {
		return apperrors.ErrNoSession
	}
	service, _ := c.ServiceURL()
	fmt.Fprintln(a.stdout, components.RenderSession(s, service, time.Now()))
	return nil
}

func (a *App) cmdCall(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "call", "<nsid> [key=value ...]")
	post := fs.Bool("post", false, "Send a procedure (POST) instead of a query")
	data := fs.StringP("data", "d", "", "JSON input: literal, @file, or - for stdin (implies --post)")
	public := fs.Bool("public", false, "Send without credentials")
	raw := fs.Bool("raw", false, "Print the response body unformatted")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("call: missing method NSID")
	}

	nsid := fs.Arg(0)
	if !protocol.ValidNSID(nsid) {
		return fmt.Errorf("call: invalid method NSID %q", nsid)
	}
	params, err := parseParams(fs.Args()[1:])
	if err != nil {
		return err
	}

	opts := protocol.RequestOptions{Query: params}
	method := http.MethodGet
	if *post || *data != "" {
		method = http.MethodPost
	}
	if *data != "" {
		body, err := readData(*data, a.stdin)
		if err != nil {
			return err
		}
		opts.Body = body
	}

	var resp *protocol.Response
	if *public {
		p, err := a.resolveProfile(true)
		if err != nil {
			return err
		}
		c, err := a.newClient(p)
		if err != nil {
			return err
		}
		resp, err = c.CallPublic(ctx, method, protocol.MethodPath(nsid), opts)
		if err != nil {
			return err
		}
	} else {
		c, _, err := a.sessionClient()
		if err != nil {
			return err
		}
		if resp, err = c.Call(ctx, method, protocol.MethodPath(nsid), opts); err != nil {
			return err
		}
	}

	a.writeBody(resp.Body, *raw)
	return nil
}

func (a *App) writeBody(body []byte, raw bool) {
	if raw {
		a.stdout.Write(body)
		return
	}
	if out := a.renderer.RenderJSON(body); out != "" {
		fmt.Fprintln(a.stdout, out)
	}
}

type batchResult struct {
	body []byte
	err  error
}

func (a *App) cmdBatch(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "batch", "<file|->")
	concurrency := fs.IntP("concurrency", "c", 4, "Maximum calls in flight")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("batch: expected exactly one input file")
	}
	if *concurrency < 1 {
		return errors.New("batch: --concurrency must be at least 1")
	}

	items, err := a.readBatch(fs.Arg(0))
	if err != nil {
		return err
	}
	c, _, err := a.sessionClient()
	if err != nil {
		return err
	}

	results := make([]batchResult, len(items))
	var g errgroup.Group
	g.SetLimit(*concurrency)
	for i, item := range items {
		g.Go(func() error {
			resp, err := c.Call(ctx, http.MethodGet, protocol.MethodPath(item.nsid), protocol.RequestOptions{Query: item.params})
			if err != nil {
				results[i] = batchResult{err: err}
				return nil
			}
			results[i] = batchResult{body: resp.Body}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, item := range items {
		fmt.Fprintf(a.stdout, "# %d %s\n", item.line, item.nsid)
		if results[i].err != nil {
			failed++
			fmt.Fprintln(a.stdout, components.RenderError(apperrors.Describe(results[i].err)))
			continue
		}
		a.writeBody(results[i].body, false)
	}

	a.logger.Info("Batch completed", "calls", len(items), "failed", failed,
		"refreshes", c.Metrics().RefreshesStarted())
	a.logger.Debug("Client metrics", "metrics", c.Metrics().JSON())
	if failed > 0 {
		return fmt.Errorf("batch: %d of %d calls failed", failed, len(items))
	}
	return nil
}

func (a *App) readBatch(name string) ([]batchItem, error) {
	if name == "-" {
		return parseBatch(a.stdin)
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	defer f.Close()
	return parseBatch(f)
}

func (a *App) cmdLogout(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "logout", "")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	c, p, err := a.sessionClient()
	if errors.Is(err, apperrors.ErrNoSession) {
		fmt.Fprintln(a.stdout, components.RenderStatus("info", "Not signed in"))
		return nil
	}
	if err != nil {
		return err
	}

	// The stored session is dropped even when the server refuses the revoke.
	defer func() {
		if cerr := a.configMgr.ClearSession(p.Name); cerr != nil {
			a.logger.Error("Failed to clear stored session", "profile", p.Name, "error", cerr.Error())
		}
	}()
	if err := c.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, components.RenderStatus("success", "Signed out of "+p.Name))
	return nil
}

func (a *App) cmdStatus(ctx context.Context, args []string) error {
	fs := newFlagSet(a, "status", "")
	noSession := fs.Bool("no-session", false, "Skip the authenticated session check")
	dialTimeout := fs.Duration("dial-timeout", 5*time.Second, "Connectivity check timeout")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	p, err := a.resolveProfile(true)
	if err != nil {
		return err
	}
	c, err := a.newClient(p)
	if err != nil {
		return err
	}

	var sessionFn health.SessionDescriber
	if p.Session != nil && !*noSession {
		c.UseSession(*p.Session)
		sessionFn = func(ctx context.Context) (account.SessionInfo, error) {
			return c.Accounts().GetSession(ctx, c.Authenticated())
		}
	}

	service, _ := c.ServiceURL()
	report := health.NewMonitor(a.logger, health.WithDialTimeout(*dialTimeout)).
		Check(ctx, service, c.Accounts(), sessionFn)
	fmt.Fprintln(a.stdout, components.RenderHealth(report))

	switch report.Overall {
	case health.StatusOffline, health.StatusError:
		return fmt.Errorf("%s is %s", service, report.Overall)
	}
	return nil
}

func (a *App) cmdProfiles(_ context.Context, args []string) error {
	fs := newFlagSet(a, "profiles", "")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	names, err := a.configMgr.ListProfiles()
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		p, err := a.configMgr.LoadProfile(name)
		if err != nil {
			rows = append(rows, []string{name, "", "", "invalid"})
			continue
		}
		state := "signed out"
		if p.Session != nil {
			state = "signed in"
		}
		marker := name
		if name == a.opts.profile {
			marker = "*" + name
		}
		rows = append(rows, []string{marker, p.Service, p.Handle, state})
	}
	fmt.Fprintln(a.stdout, a.renderer.RenderTable([]string{"PROFILE", "SERVICE", "HANDLE", "SESSION"}, rows))
	return nil
}

func readFirstLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password from stdin: %w", err)
	}
	line = trimLine(line)
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
