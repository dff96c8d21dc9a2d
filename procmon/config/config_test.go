package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"git.unix.lgbt/diamondburned/procmon/procmon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const yamlConfig = `
journal: /var/lib/procmon/journal.json
scripts_dir: /etc/procmon/scripts
wait_timeout: 10s
retry_backoff: [0s, 1s, 1m]
programs:
  - name: backup
    command: rsync -a "/home/my files" /mnt/backup
    timeout: 1h30m
  - name: ping
    command: ping
    args: [-c, "3", example.com]
`

const tomlConfig = `
journal = "/var/lib/procmon/journal.json"
scripts_dir = "/etc/procmon/scripts"
wait_timeout = "10s"
retry_backoff = ["0s", "1s", "1m"]

[[programs]]
name = "backup"
command = 'rsync -a "/home/my files" /mnt/backup'
timeout = "1h30m"

[[programs]]
name = "ping"
command = "ping"
args = ["-c", "3", "example.com"]
`

func TestLoad(t *testing.T) {
	for _, file := range []struct{ name, content string }{
		{"procmon.yaml", yamlConfig},
		{"procmon.yml", yamlConfig},
		{"procmon.toml", tomlConfig},
	} {
		t.Run(file.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, file.name, file.content))
			require.NoError(t, err)

			assert.Equal(t, "/var/lib/procmon/journal.json", cfg.Journal)
			assert.Equal(t, "/etc/procmon/scripts", cfg.ScriptsDir)
			assert.Equal(t, Default().History, cfg.History, "unset fields keep defaults")
			assert.Equal(t, 10*time.Second, cfg.WaitTimeout)
			assert.Equal(t, []time.Duration{0, time.Second, time.Minute}, cfg.RetryBackoff)

			mcfg, err := cfg.MonitorConfig()
			require.NoError(t, err)

			assert.Equal(t, procmon.MonitorConfig{
				ScriptsDir:   "/etc/procmon/scripts",
				WaitTimeout:  10 * time.Second,
				RetryBackoff: []time.Duration{0, time.Second, time.Minute},
				Programs: []procmon.Program{
					{
						File:    "backup",
						Path:    "rsync",
						Args:    []string{"-a", "/home/my files", "/mnt/backup"},
						Timeout: 90 * time.Minute,
					},
					{
						File: "ping",
						Path: "ping",
						Args: []string{"-c", "3", "example.com"},
					},
				},
			}, mcfg)
		})
	}
}

func TestLoadEmpty(t *testing.T) {
	cfg, err := Load(writeConfig(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		err     string
	}{
		{"unknown format", "procmon.ini", "", `unknown config format ".ini"`},
		{"unknown yaml key", "a.yaml", "jornal: x\n", "field jornal not found"},
		{"unknown toml key", "a.toml", "jornal = 'x'\n", `unknown key "jornal"`},
		{"bad duration", "a.yaml", "wait_timeout: forever\n", "failed to parse a.yaml"},
		{"missing name", "a.yaml", "programs: [{command: ls}]\n", "program 0: missing name"},
		{"missing command", "a.yaml", "programs: [{name: x}]\n", `program "x": missing command`},
		{"bad quoting", "a.yaml", "programs: [{name: x, command: 'echo \"oops'}]\n", `program "x": invalid command`},
		{"duplicate", "a.toml", "[[programs]]\nname='x'\ncommand='ls'\n[[programs]]\nname='x'\ncommand='ls'\n", `program "x": duplicate name`},
		{"negative timeout", "a.yaml", "programs: [{name: x, command: ls, timeout: -1s}]\n", "timeout must not be negative"},
		{"negative backoff", "a.yaml", "retry_backoff: [1s, -1s]\n", "retry_backoff must not be negative"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, test.file, test.content))
			assert.ErrorContains(t, err, test.err)
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
