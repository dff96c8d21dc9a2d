package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"git.unix.lgbt/diamondburned/procmon/procmon"
	"git.unix.lgbt/diamondburned/procmon/procmon/journal"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	var outBuf, errBuf bytes.Buffer

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

func TestCron(t *testing.T) {
	out, _, err := execute(t, "", "cron", "-j", "/tmp/j.json", "-s", "/tmp/scripts")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 4)

	assert.Equal(t, "# Start procmon immediately on startup.", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "@reboot "))
	assert.True(t, strings.HasPrefix(lines[3], "* * * * * "))
	assert.True(t, strings.HasSuffix(lines[3], `start -j "/tmp/j.json" -s "/tmp/scripts/"`), lines[3])
}

func TestStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")

	out, _, err := execute(t, "", "status", "-j", path)
	require.NoError(t, err)
	assert.Contains(t, out, "procmon has never run")

	j, err := journal.NewFileLockJournaler(path)
	require.NoError(t, err)

	j.Write(&procmon.EventAcquired{PID: 99})
	j.Write(&procmon.EventProcessSpawned{File: "web", PID: 100})
	j.Write(&procmon.EventProcessExited{File: "job", PID: 101, ExitCode: -127, Killed: true})

	out, _, err = execute(t, "", "status", "-j", path)
	require.NoError(t, err)
	assert.Contains(t, out, "procmon running as pid 99")
	assert.Regexp(t, `job\s+stopped\s+101\s+-127 \(killed\)`, out)
	assert.Regexp(t, `web\s+running\s+100\s+-`, out)

	require.NoError(t, j.Close())

	out, _, err = execute(t, "", "status", "-j", path)
	require.NoError(t, err)
	assert.Contains(t, out, "procmon not running")
}

func TestHistory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "history.db")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h, err := journal.OpenHistory(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, h.Write(&procmon.EventProcessExited{File: "job", PID: 7, ExitCode: 2, Error: "boom"}))
	require.NoError(t, h.Close())

	out, _, err := execute(t, "",
		"history", "-j", filepath.Join(dir, "journal.json"), "--history", dbPath, "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "PROGRAM")
	assert.Regexp(t, `job\s+7\s+2\s+0s\s+boom`, out)
}

func TestRunArgs(t *testing.T) {
	_, _, err := execute(t, "", "run")
	assert.Error(t, err)

	var code exitCode
	assert.False(t, errors.As(err, &code))
}

func TestMissingConfig(t *testing.T) {
	_, _, err := execute(t, "", "status", "-c", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
