// Package app implements the pdsctl command line: flag parsing, dependency
// wiring and the login, whoami, call, batch, logout, status and profiles commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/lucid-softworks/akari/internal/client"
	"github.com/lucid-softworks/akari/internal/config"
	"github.com/lucid-softworks/akari/internal/content"
	apperrors "github.com/lucid-softworks/akari/internal/errors"
	"github.com/lucid-softworks/akari/internal/interfaces"
	"github.com/lucid-softworks/akari/internal/logging"
)

// Application metadata
const ProgramName = "pdsctl"

// Version is overridable at link time:
//
//	go build -ldflags "-X github.com/lucid-softworks/akari/internal/app.Version=1.2.0"
var Version = "0.1.0"

// errHelp is returned after usage has been printed on request.
var errHelp = errors.New("help requested")

// globalOptions are the flags accepted before the command name.
type globalOptions struct {
	profile   string
	service   string
	logLevel  string
	logFormat string
	timeout   time.Duration
	noColor   bool
}

// App is one pdsctl invocation.
type App struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// environ replaces the process environment and .env file when set.
	environ map[string]string
	// configDir replaces the XDG locations of the profiles file and key.
	configDir string

	env       config.Env
	opts      globalOptions
	logger    *logging.Logger
	configMgr *config.Manager
	renderer  *content.Renderer
}

// New creates an App bound to the given streams.
func New(stdin io.Reader, stdout, stderr io.Writer) *App {
	return &App{stdin: stdin, stdout: stdout, stderr: stderr}
}

// Execute runs pdsctl with the process streams.
func Execute(ctx context.Context, args []string) error {
	return New(os.Stdin, os.Stdout, os.Stderr).Run(ctx, args)
}

type command struct {
	name    string
	summary string
	run     func(a *App, ctx context.Context, args []string) error
}

var commands = []command{
	{"login", "Sign in and store the session in the profile", (*App).cmdLogin},
	{"whoami", "Show the account of the stored session", (*App).cmdWhoami},
	{"call", "Call an XRPC method: call <nsid> [key=value ...]", (*App).cmdCall},
	{"batch", "Run queries from a file concurrently: batch <file|->", (*App).cmdBatch},
	{"logout", "Revoke the stored session", (*App).cmdLogout},
	{"status", "Check that the service is reachable and the session valid", (*App).cmdStatus},
	{"profiles", "List configured profiles", (*App).cmdProfiles},
}

// Run parses args and dispatches to a command.
func (a *App) Run(ctx context.Context, args []string) error {
	env, err := a.loadEnv()
	if err != nil {
		return err
	}
	a.env = env

	fs := flag.NewFlagSet(ProgramName, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.SetInterspersed(false)

	fs.StringVarP(&a.opts.profile, "profile", "p", env.Profile, "Profile to use")
	fs.StringVarP(&a.opts.service, "service", "s", "", "PDS URL, overrides the profile (env AKARI_SERVICE)")
	fs.StringVar(&a.opts.logLevel, "log-level", env.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&a.opts.logFormat, "log-format", env.LogFormat, "Log format: text or json")
	fs.DurationVar(&a.opts.timeout, "timeout", env.Timeout, "Per-request timeout")
	fs.BoolVar(&a.opts.noColor, "no-color", false, "Disable colored output")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.Usage = func() { a.printUsage(fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Fprintf(a.stdout, "%s %s\n", ProgramName, Version)
		return nil
	}
	if showHelp || fs.NArg() == 0 {
		a.printUsage(fs)
		return nil
	}

	name := fs.Arg(0)
	idx := slices.IndexFunc(commands, func(c command) bool { return c.name == name })
	if idx < 0 {
		a.printUsage(fs)
		return fmt.Errorf("unknown command %q", name)
	}

	if err := a.initialize(); err != nil {
		return err
	}
	a.logger.Debug("Running command", "command", name, "profile", a.opts.profile)

	err = commands[idx].run(a, ctx, fs.Args()[1:])
	if errors.Is(err, errHelp) {
		return nil
	}
	return err
}

func (a *App) loadEnv() (config.Env, error) {
	if a.environ != nil {
		return config.ParseEnv(a.environ)
	}
	return config.LoadEnv()
}

// initialize builds the logger, configuration manager and renderer.
func (a *App) initialize() error {
	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.ParseLevel(a.opts.logLevel)
	logConfig.Format = a.opts.logFormat
	logConfig.Writer = a.stderr
	logConfig.Component = ProgramName
	if err := logging.InitGlobalLogger(logConfig); err != nil {
		return err
	}
	a.logger = logging.GetGlobalLogger()

	if a.opts.timeout <= 0 {
		return fmt.Errorf("--timeout must be positive")
	}

	var err error
	if a.configDir != "" {
		var sec *config.AESSecurityManager
		sec, err = config.NewSecurityManager(filepath.Join(a.configDir, "master.key"))
		if err != nil {
			return fmt.Errorf("failed to initialize security manager: %w", err)
		}
		a.configMgr, err = config.NewManagerAt(filepath.Join(a.configDir, "profiles.yaml"), sec)
	} else {
		a.configMgr, err = config.NewManager()
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	a.renderer, err = content.NewRenderer(!a.opts.noColor && isTerminal(a.stdout))
	if err != nil {
		return fmt.Errorf("failed to initialize content renderer: %w", err)
	}
	return nil
}

func (a *App) printUsage(fs *flag.FlagSet) {
	w := a.stderr
	fmt.Fprintf(w, "Usage: %s [options] <command> [command options]\n\n", ProgramName)
	fmt.Fprintf(w, "Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-9s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nOptions:\n%s", fs.FlagUsages())
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  %s login --handle alice.bsky.social\n", ProgramName)
	fmt.Fprintf(w, "  %s call app.bsky.actor.getProfile actor=alice.bsky.social\n", ProgramName)
	fmt.Fprintf(w, "  %s call com.atproto.repo.createRecord --data @post.json\n", ProgramName)
}

// resolveProfile loads the selected profile and applies environment and flag
// overrides. A missing profile is an error unless create is set.
func (a *App) resolveProfile(create bool) (*interfaces.Profile, error) {
	names, err := a.configMgr.ListProfiles()
	if err != nil {
		return nil, err
	}

	var p *interfaces.Profile
	if slices.Contains(names, a.opts.profile) {
		if p, err = a.configMgr.LoadProfile(a.opts.profile); err != nil {
			return nil, err
		}
	} else if create {
		p = &interfaces.Profile{Name: a.opts.profile, Service: config.DefaultService}
	} else {
		return nil, fmt.Errorf("profile '%s' not found; run '%s login' first", a.opts.profile, ProgramName)
	}

	a.env.Apply(p)
	if a.opts.service != "" {
		p.Service = a.opts.service
	}
	return p, nil
}

// newClient builds a client for the profile's service. Session changes are
// persisted to the profile.
func (a *App) newClient(p *interfaces.Profile) (*client.Client, error) {
	c, err := client.New(
		client.WithServiceURL(p.Service),
		client.WithLogger(a.logger.WithField("profile", p.Name)),
		client.WithHTTPClient(&http.Client{Timeout: a.opts.timeout}),
		client.WithUserAgent(ProgramName+"/"+Version))
	if err != nil {
		return nil, err
	}
	c.OnSessionChange(a.configMgr.SessionListener(p.Name))
	return c, nil
}

// sessionClient returns a client carrying the profile's stored session.
func (a *App) sessionClient() (*client.Client, *interfaces.Profile, error) {
	p, err := a.resolveProfile(false)
	if err != nil {
		return nil, nil, err
	}
	if p.Session == nil {
		return nil, nil, apperrors.ErrNoSession
	}
	c, err := a.newClient(p)
	if err != nil {
		return nil, nil, err
	}
	c.UseSession(*p.Session)
	return c, p, nil
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newFlagSet(a *App, name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage: %s %s %s\n\n%s", ProgramName, name, usage, fs.FlagUsages())
	}
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errHelp
		}
		return err
	}
	return nil
}

func trimLine(s string) string {
	return strings.TrimRight(s, "\r\n")
}
