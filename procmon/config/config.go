// Package config loads the procmon configuration file. The file is YAML or
// TOML, depending on its extension.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.unix.lgbt/diamondburned/procmon/procmon"
	"github.com/BurntSushi/toml"
	"github.com/google/shlex"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the procmon configuration.
type Config struct {
	// Journal is the path to the JSON-lines journal file.
	Journal string `yaml:"journal" toml:"journal"`
	// ScriptsDir is the directory watched for executables to supervise.
	ScriptsDir string `yaml:"scripts_dir" toml:"scripts_dir"`
	// History is the path to the run history database. Empty disables it.
	History string `yaml:"history" toml:"history"`

	WaitTimeout  time.Duration   `yaml:"wait_timeout" toml:"wait_timeout"`
	RetryBackoff []time.Duration `yaml:"retry_backoff" toml:"retry_backoff"`

	Programs []Program `yaml:"programs" toml:"programs"`
}

// Program is a program supervised regardless of the scripts directory.
type Program struct {
	Name string `yaml:"name" toml:"name"`
	// Command is split into arguments the way a POSIX shell would, without
	// running one. Args, if any, are appended after it.
	Command string   `yaml:"command" toml:"command"`
	Args    []string `yaml:"args" toml:"args"`
	// Timeout kills a run that lasts longer. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// Argv returns the program's executable followed by its arguments.
func (p Program) Argv() ([]string, error) {
	argv, err := shlex.Split(p.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "program %q: invalid command", p.Name)
	}

	argv = append(argv, p.Args...)

	if len(argv) == 0 {
		return nil, errors.Errorf("program %q: missing command", p.Name)
	}

	return argv, nil
}

// Default returns the configuration used when no file is given. Paths are
// inside the user's configuration directory, if there is one.
func Default() Config {
	cfg := Config{
		WaitTimeout:  procmon.ProcessWaitTimeout,
		RetryBackoff: append([]time.Duration(nil), procmon.ProcessRetryBackoff...),
	}

	if dir, err := os.UserConfigDir(); err == nil {
		cfg.ScriptsDir = filepath.Join(dir, "procmon", "scripts")
		cfg.Journal = filepath.Join(dir, "procmon", "journal.json")
		cfg.History = filepath.Join(dir, "procmon", "history.db")
	}

	return cfg
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read config")
	}

	cfg := Default()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = decodeYAML(b, &cfg)
	case ".toml":
		err = decodeTOML(b, &cfg)
	default:
		return Config{}, errors.Errorf("unknown config format %q", ext)
	}

	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse %s", filepath.Base(path))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "invalid %s", filepath.Base(path))
	}

	return cfg, nil
}

func decodeYAML(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

func decodeTOML(b []byte, cfg *Config) error {
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return err
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return errors.Errorf("unknown key %q", undecoded[0].String())
	}

	return nil
}

// Validate checks that the configuration can be run.
func (c Config) Validate() error {
	if c.WaitTimeout < 0 {
		return errors.New("wait_timeout must not be negative")
	}

	for _, d := range c.RetryBackoff {
		if d < 0 {
			return errors.New("retry_backoff must not be negative")
		}
	}

	seen := make(map[string]struct{}, len(c.Programs))

	for i, p := range c.Programs {
		if p.Name == "" {
			return errors.Errorf("program %d: missing name", i)
		}

		if _, dup := seen[p.Name]; dup {
			return errors.Errorf("program %q: duplicate name", p.Name)
		}
		seen[p.Name] = struct{}{}

		if p.Timeout < 0 {
			return errors.Errorf("program %q: timeout must not be negative", p.Name)
		}

		if _, err := p.Argv(); err != nil {
			return err
		}
	}

	return nil
}

// MonitorConfig converts the configuration into what procmon.NewMonitor takes.
func (c Config) MonitorConfig() (procmon.MonitorConfig, error) {
	mcfg := procmon.MonitorConfig{
		ScriptsDir:   c.ScriptsDir,
		WaitTimeout:  c.WaitTimeout,
		RetryBackoff: c.RetryBackoff,
		Programs:     make([]procmon.Program, 0, len(c.Programs)),
	}

	for _, p := range c.Programs {
		argv, err := p.Argv()
		if err != nil {
			return procmon.MonitorConfig{}, err
		}

		mcfg.Programs = append(mcfg.Programs, procmon.Program{
			File:    p.Name,
			Path:    argv[0],
			Args:    argv[1:],
			Timeout: p.Timeout,
		})
	}

	return mcfg, nil
}
