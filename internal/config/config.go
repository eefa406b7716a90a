// Package config loads tether configuration.
//
// A configuration file is CUE, unified with an embedded schema that supplies
// defaults and constraints. Environment variables (TETHER_*) override the
// file. Loading without a file yields the schema defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/caarlos0/env/v11"
)

//go:embed schema.cue
var schemaCUE string

// Config is the resolved configuration.
type Config struct {
	Endpoint string        `env:"TETHER_ENDPOINT"`
	Period   time.Duration `env:"TETHER_PERIOD"`
	Backoff  time.Duration `env:"TETHER_BACKOFF"`
	Timeout  time.Duration `env:"TETHER_TIMEOUT"`
	Debounce time.Duration `env:"TETHER_DEBOUNCE"`
	Journal  string        `env:"TETHER_JOURNAL"`
	LogLevel string        `env:"TETHER_LOG_LEVEL"`

	Telemetry Telemetry `envPrefix:"TETHER_OTEL_"`
	Server    Server    `envPrefix:"TETHER_SERVER_"`
}

// Telemetry controls the trace exporter. Export is active only when
// Endpoint is set and Enabled is true.
type Telemetry struct {
	Enabled  bool   `env:"ENABLED"`
	Endpoint string `env:"ENDPOINT"`
	Service  string `env:"SERVICE"`
}

// Server configures `tether serve`.
type Server struct {
	Addr     string        `env:"ADDR"`
	Lifetime time.Duration `env:"LIFETIME"`
}

// Level converts LogLevel to a slog level. Unknown names map to Info.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Error is one configuration problem, positioned when it came from a file.
type Error struct {
	Pos     token.Pos
	Field   string
	Message string
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), msg)
	}
	return msg
}

// Errors collects every problem found while loading.
type Errors []*Error

func (es Errors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Option configures Load.
type Option func(*loader)

type loader struct {
	environ map[string]string
}

// WithEnvironment replaces the process environment as the source of
// overrides.
func WithEnvironment(environ map[string]string) Option {
	return func(l *loader) {
		l.environ = environ
	}
}

// raw mirrors the schema for decoding.
type raw struct {
	Endpoint  string `json:"endpoint"`
	Period    string `json:"period"`
	Backoff   string `json:"backoff"`
	Timeout   string `json:"timeout"`
	Debounce  string `json:"debounce"`
	Journal   string `json:"journal"`
	LogLevel  string `json:"log_level"`
	Telemetry struct {
		Enabled  bool   `json:"enabled"`
		Endpoint string `json:"endpoint"`
		Service  string `json:"service"`
	} `json:"telemetry"`
	Server struct {
		Addr     string `json:"addr"`
		Lifetime string `json:"lifetime"`
	} `json:"server"`
}

// Default returns the schema defaults.
func Default() Config {
	cfg, err := Load("", WithEnvironment(map[string]string{}))
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema is invalid: %v", err))
	}
	return cfg
}

// Load reads the CUE file at path (optional) and applies environment
// overrides. A returned error is of type Errors.
func Load(path string, opts ...Option) (Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, Errors{{Message: fmt.Sprintf("read config: %v", err)}}
		}
		data = b
	}
	return load(path, data, opts...)
}

// Parse is Load for in-memory content; filename is used in positions.
func Parse(filename string, data []byte, opts ...Option) (Config, error) {
	return load(filename, data, opts...)
}

func load(filename string, data []byte, opts ...Option) (Config, error) {
	l := &loader{}
	for _, opt := range opts {
		opt(l)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, convert(err, filename)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if len(data) > 0 {
		file := ctx.CompileBytes(data, cue.Filename(filename))
		if err := file.Err(); err != nil {
			return Config{}, convert(err, filename)
		}
		v = v.Unify(file)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, convert(err, filename)
	}

	var r raw
	if err := v.Decode(&r); err != nil {
		return Config{}, convert(err, filename)
	}

	cfg, errs := resolve(r)
	if len(errs) > 0 {
		return Config{}, errs
	}

	envOpts := env.Options{}
	if l.environ != nil {
		envOpts.Environment = l.environ
	}
	if err := env.ParseWithOptions(&cfg, envOpts); err != nil {
		return Config{}, Errors{{Message: fmt.Sprintf("parse env: %v", err)}}
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return Config{}, errs
	}
	return cfg, nil
}

func resolve(r raw) (Config, Errors) {
	var errs Errors
	dur := func(field, s string) time.Duration {
		d, err := time.ParseDuration(s)
		if err != nil {
			errs = append(errs, &Error{Field: field, Message: err.Error()})
		}
		return d
	}

	cfg := Config{
		Endpoint: r.Endpoint,
		Period:   dur("period", r.Period),
		Backoff:  dur("backoff", r.Backoff),
		Timeout:  dur("timeout", r.Timeout),
		Debounce: dur("debounce", r.Debounce),
		Journal:  r.Journal,
		LogLevel: r.LogLevel,
		Telemetry: Telemetry{
			Enabled:  r.Telemetry.Enabled,
			Endpoint: r.Telemetry.Endpoint,
			Service:  r.Telemetry.Service,
		},
		Server: Server{
			Addr:     r.Server.Addr,
			Lifetime: dur("server.lifetime", r.Server.Lifetime),
		},
	}
	return cfg, errs
}

// Validate checks constraints that environment overrides could break.
func (c Config) Validate() Errors {
	var errs Errors
	positive := func(field string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, &Error{Field: field, Message: fmt.Sprintf("must be positive, got %s", d)})
		}
	}
	positive("period", c.Period)
	positive("backoff", c.Backoff)
	positive("timeout", c.Timeout)
	positive("server.lifetime", c.Server.Lifetime)
	if c.Debounce < 0 {
		errs = append(errs, &Error{Field: "debounce", Message: fmt.Sprintf("must not be negative, got %s", c.Debounce)})
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, &Error{Field: "log_level", Message: fmt.Sprintf("unknown level %q", c.LogLevel)})
	}
	return errs
}

// convert flattens CUE errors, preferring positions inside the user's file.
func convert(err error, filename string) Errors {
	var errs Errors
	for _, ce := range cueerrors.Errors(err) {
		e := &Error{
			Pos:     ce.Position(),
			Field:   strings.Join(ce.Path(), "."),
			Message: message(ce),
		}
		for _, p := range ce.InputPositions() {
			if filename != "" && p.Filename() == filename {
				e.Pos = p
				break
			}
		}
		errs = append(errs, e)
	}
	if len(errs) == 0 {
		errs = append(errs, &Error{Message: err.Error()})
	}
	return errs
}

func message(ce cueerrors.Error) string {
	format, args := ce.Msg()
	return fmt.Sprintf(format, args...)
}

// IsConfigError reports whether err came from Load or Parse.
func IsConfigError(err error) bool {
	var es Errors
	return errors.As(err, &es)
}
