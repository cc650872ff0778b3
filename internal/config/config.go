// Package config turns command-line arguments and LOGINCAP_* environment
// variables into the settings of one capture run.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"

	"github.com/mrzor/logincap/internal/message"
	"github.com/mrzor/logincap/internal/probe"
	"github.com/mrzor/logincap/internal/qualify"
)

// DefaultTargetPath is launched when no target is given.
const DefaultTargetPath = "SkyrimSE.exe"

// WindowsLauncher runs .exe targets when LOGINCAP_LAUNCHER is not set.
const WindowsLauncher = "wine"

// EnvPrefix prefixes every tunable.
const EnvPrefix = "LOGINCAP_"

// Target names the client to launch and the process to wait for.
type Target struct {
	// Path is the executable to launch. Empty means attach to a client that
	// is already running.
	Path string
	// ProcessName is matched exactly against process names.
	ProcessName string
}

// Launch reports whether the client should be started.
func (t Target) Launch() bool {
	return t.Path != ""
}

// LaunchCommand returns the command prepended to t.Path. LOGINCAP_LAUNCHER
// wins; otherwise Windows executables go through WindowsLauncher and anything
// else is run directly.
func (c *Config) LaunchCommand(t Target) []string {
	if len(c.Launcher) > 0 {
		return c.Launcher
	}
	if strings.EqualFold(filepath.Ext(t.Path), ".exe") {
		return []string{WindowsLauncher}
	}
	return nil
}

// ParseArgs interprets the positional arguments `[target-path [process-name]]`.
func ParseArgs(args []string) (Target, error) {
	t := Target{Path: DefaultTargetPath}

	switch len(args) {
	case 0:
	case 1:
		t.Path = args[0]
	case 2:
		t.Path, t.ProcessName = args[0], args[1]
	default:
		return Target{}, errors.Newf("expected at most 2 arguments, got %d", len(args))
	}

	if t.ProcessName == "" {
		if t.Path == "" {
			return Target{}, errors.New("a process name is required when no target path is given")
		}
		t.ProcessName = filepath.Base(t.Path)
	}
	return t, nil
}

// Config holds the tunables read from the environment.
type Config struct {
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`

	// Timeout bounds the whole run; zero waits forever.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"0s"`

	// Launcher is prepended to the target path, e.g. "wine" or "proton run".
	Launcher []string `env:"LAUNCHER" envSeparator:" "`

	HeaderModule string `env:"HEADER_MODULE" envDefault:"winhttp.dll.so"`
	HeaderSymbol string `env:"HEADER_SYMBOL" envDefault:"WinHttpAddRequestHeaders"`
	DataModule   string `env:"DATA_MODULE" envDefault:"winhttp.dll.so"`
	DataSymbol   string `env:"DATA_SYMBOL" envDefault:"WinHttpWriteData"`
	ABI          string `env:"ABI" envDefault:"ms"`
	MaxPayload   int    `env:"MAX_PAYLOAD" envDefault:"8192"`

	// Qualify is an expr predicate over `body`; empty uses the default.
	Qualify string `env:"QUALIFY"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

// Parse reads Config from the process environment.
func Parse() (*Config, error) {
	return parse(env.Options{Prefix: EnvPrefix})
}

// ParseEnvironment reads Config from environ instead of the process
// environment; keys carry the LOGINCAP_ prefix.
func ParseEnvironment(environ map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: EnvPrefix, Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the environment parser cannot.
func (c *Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, errors.Newf("%sPOLL_INTERVAL must be positive, got %s", EnvPrefix, c.PollInterval))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.Newf("%sTIMEOUT must not be negative, got %s", EnvPrefix, c.Timeout))
	}
	if c.MaxPayload <= 0 || c.MaxPayload > 1<<20 {
		errs = append(errs, errors.Newf("%sMAX_PAYLOAD must be in (0, 1048576], got %d", EnvPrefix, c.MaxPayload))
	}
	if _, err := probe.ParseABI(c.ABI); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Predicate(); err != nil {
		errs = append(errs, err)
	}
	for _, f := range []struct{ name, value string }{
		{"HEADER_MODULE", c.HeaderModule},
		{"HEADER_SYMBOL", c.HeaderSymbol},
		{"DATA_MODULE", c.DataModule},
		{"DATA_SYMBOL", c.DataSymbol},
	} {
		if f.value == "" {
			errs = append(errs, errors.Newf("%s%s must not be empty", EnvPrefix, f.name))
		}
	}

	if len(errs) > 0 {
		return errors.Wrap(errors.Join(errs...), "invalid configuration")
	}
	return nil
}

// ProbeABI returns the validated calling convention.
func (c *Config) ProbeABI() probe.ABI {
	return probe.ABI(c.ABI)
}

// Predicate compiles the completion predicate.
func (c *Config) Predicate() (*qualify.Expression, error) {
	return qualify.Compile(c.Qualify)
}

// HeaderHook describes the header-setting call: a wide string whose length
// in characters follows it.
func (c *Config) HeaderHook() probe.HookSpec {
	return probe.HookSpec{
		Kind:      message.KindHeader,
		Module:    c.HeaderModule,
		Symbol:    c.HeaderSymbol,
		BufferArg: 1,
		LengthArg: 2,
		Encoding:  probe.EncodingUTF16LE,
	}
}

// DataHook describes the data-write call: a byte buffer and its length.
func (c *Config) DataHook() probe.HookSpec {
	return probe.HookSpec{
		Kind:      message.KindData,
		Module:    c.DataModule,
		Symbol:    c.DataSymbol,
		BufferArg: 1,
		LengthArg: 2,
		Encoding:  probe.EncodingBytes,
	}
}
