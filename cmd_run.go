package main

import (
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"git.unix.lgbt/diamondburned/procmon/procmon"
	"git.unix.lgbt/diamondburned/procmon/procmon/exec"
	"git.unix.lgbt/diamondburned/procmon/procmon/journal"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	// runSpawnFailed is the exit status when the program could not be
	// started, as a shell reports a missing command.
	runSpawnFailed = 127
	// runKilled is the exit status when the program was killed for running
	// too long or because procmon was interrupted, as timeout(1) reports it.
	runKilled = 124
)

func newRunCmd() *cobra.Command {
	var timeout time.Duration
	var logPath string

	cmd := &cobra.Command{
		Use:   "run [flags] -- executable [args...]",
		Short: "run a program once",
		Long: `Run a program once and exit with its status. The program's output is
forwarded and procmon's standard input is copied to it. The program is killed
if it runs past --timeout or if procmon is interrupted, in which case procmon
exits with status 124. If the program cannot be started, the status is 127.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, args, timeout, logPath)
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "kill the program after this long")
	cmd.Flags().StringVar(&logPath, "log", "", "append the run's events to this journal file")

	return cmd
}

func runOnce(cmd *cobra.Command, args []string, timeout time.Duration, logPath string) error {
	var j procmon.Journaler = journal.MultiWriter()

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return errors.Wrap(err, "failed to open journal")
		}
		defer f.Close()

		j = journal.NewWriter(f)
	}

	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()

	run := uuid.New().String()
	file := filepath.Base(args[0])

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := exec.New(exec.Config{
		Path:     args[0],
		Args:     args[1:],
		Timeout:  timeout,
		OnStdout: func(b []byte) { stdout.Write(b) },
		OnStderr: func(b []byte) { stderr.Write(b) },
		OnWarning: func(err error) {
			j.Write(&procmon.EventWarning{Component: "exec:" + file, Error: err.Error()})
		},
	})

	if err := c.Spawn(ctx); err != nil {
		j.Write(&procmon.EventProcessSpawnError{File: file, Reason: err.Error()})
		log.Println(err)
		return exitCode(runSpawnFailed)
	}

	j.Write(&procmon.EventProcessSpawned{Run: run, File: file, PID: c.PID()})

	go func() {
		io.Copy(c.Stdin(), cmd.InOrStdin())
		c.Stdin().Close()
	}()

	status := c.Wait()

	ev := procmon.EventProcessExited{
		Run:      run,
		PID:      status.PID,
		File:     file,
		ExitCode: status.Code,
		Killed:   status.Killed,
		Duration: status.Duration(),
	}
	if status.Error != nil {
		ev.Error = status.Error.Error()
	}
	j.Write(&ev)

	switch {
	case status.Killed:
		return exitCode(runKilled)
	case status.Code < 0:
		return exitCode(1)
	case status.Code > 0:
		return exitCode(status.Code)
	default:
		return nil
	}
}
