package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/lucid-softworks/akari/internal/interfaces"
)

// EnvPrefix is prepended to every variable read by LoadEnv.
const EnvPrefix = "AKARI_"

// Env holds the settings that can be supplied through the environment or a
// .env file. Values set here take precedence over the stored profile.
type Env struct {
	Service   string        `env:"SERVICE"`
	Profile   string        `env:"PROFILE" envDefault:"default"`
	Handle    string        `env:"HANDLE"`
	Password  string        `env:"PASSWORD"`
	LogLevel  string        `env:"LOG_LEVEL" envDefault:"warn"`
	LogFormat string        `env:"LOG_FORMAT" envDefault:"text"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// LoadEnv reads the given dotenv files (".env" when none are named) and the
// process environment. Process variables win over file values. Missing files
// are skipped.
func LoadEnv(files ...string) (Env, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	environ := make(map[string]string)
	for _, file := range files {
		values, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Env{}, fmt.Errorf("failed to read %s: %w", file, err)
		}
		for k, v := range values {
			environ[k] = v
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			environ[k] = v
		}
	}
	return ParseEnv(environ)
}

// ParseEnv builds an Env from an explicit variable set.
func ParseEnv(environ map[string]string) (Env, error) {
	var cfg Env
	if err := env.ParseWithOptions(&cfg, env.Options{
		Environment: environ,
		Prefix:      EnvPrefix,
	}); err != nil {
		return Env{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.Timeout <= 0 {
		return Env{}, fmt.Errorf("%sTIMEOUT must be positive, got %s", EnvPrefix, cfg.Timeout)
	}
	return cfg, nil
}

// Apply overlays non-empty environment values onto a profile.
func (e Env) Apply(p *interfaces.Profile) {
	if e.Service != "" {
		p.Service = e.Service
	}
	if e.Handle != "" {
		p.Handle = e.Handle
	}
}
