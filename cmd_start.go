package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"git.unix.lgbt/diamondburned/procmon/procmon"
	"git.unix.lgbt/diamondburned/procmon/procmon/exec"
	"git.unix.lgbt/diamondburned/procmon/procmon/journal"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newStartCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "start the supervisor",
		Long: `Start the supervisor. It exits quietly if another instance already holds
the journal, so it is safe to run from cron every minute.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, g)
		},
	}
}

func runStart(cmd *cobra.Command, g *globalFlags) error {
	cfg, err := g.load(cmd)
	if err != nil {
		return err
	}

	// Ensure that, if the scripts directory exists, that it is an actual
	// directory.
	if stat, err := os.Stat(cfg.ScriptsDir); err == nil && !stat.IsDir() {
		return errors.Errorf("scripts path %s is not directory", cfg.ScriptsDir)
	}

	mcfg, err := cfg.MonitorConfig()
	if err != nil {
		return err
	}

	j, err := journal.NewFileLockJournaler(cfg.Journal)
	if err != nil {
		if errors.Is(err, journal.ErrLockedElsewhere) {
			// Non-fatal error.
			log.Println("procmon is already running")
			return nil
		}

		return errors.Wrap(err, "failed to acquire journal lock")
	}
	defer j.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	writers := []procmon.Journaler{j, journal.NewHumanWriter("procmon", cmd.ErrOrStderr())}

	if cfg.History != "" {
		h, err := journal.OpenHistory(ctx, cfg.History)
		if err != nil {
			log.Println("not recording history:", err)
		} else {
			defer h.Close()
			writers = append(writers, h)
		}
	}

	journaler := journal.MultiWriter(writers...)

	warnOrphans(j, journaler)

	// Orphaned grandchildren are reparented to us instead of init, so that
	// they can be reaped.
	if err := exec.SetSubreaper(); err != nil {
		journaler.Write(&procmon.EventWarning{
			Component: "start",
			Error:     "failed to become a subreaper: " + err.Error(),
		})
	}

	m, err := procmon.NewMonitor(ctx, mcfg, journaler)
	if err != nil {
		return errors.Wrap(err, "failed to create monitor")
	}

	<-ctx.Done()
	return m.Stop()
}

// warnOrphans warns about programs that the previous monitor left running.
func warnOrphans(j *journal.FileLockJournaler, journaler procmon.Journaler) {
	r, err := j.Reader()
	if err != nil {
		return
	}

	prev, err := procmon.ReadPreviousState(r)
	if err != nil || prev.Acquired.IsZero() {
		return
	}

	files := make([]string, 0, len(prev.Programs))
	for file, state := range prev.Programs {
		if state.Running {
			files = append(files, file)
		}
	}
	sort.Strings(files)

	for _, file := range files {
		journaler.Write(&procmon.EventWarning{
			Component: "start",
			Error: fmt.Sprintf(
				"%s (pid %d) was still running when the previous monitor (pid %d) went away",
				file, prev.Programs[file].PID, prev.MonitorPID),
		})
	}
}
