package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"git.unix.lgbt/diamondburned/procmon/procmon/journal"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show what the journal says about the last session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}

			prev, err := journal.ReadPreviousStateFromFile(cfg.Journal)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					fmt.Fprintln(cmd.OutOrStdout(), "procmon has never run with journal", cfg.Journal)
					return nil
				}
				return errors.Wrap(err, "failed to read journal")
			}

			running, err := journal.IsLocked(cfg.Journal)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			switch {
			case prev.Acquired.IsZero():
				fmt.Fprintln(out, "journal has no session")
				return nil
			case running:
				fmt.Fprintf(out, "procmon running as pid %d since %s\n",
					prev.MonitorPID, prev.Acquired.Format(time.RFC3339))
			default:
				fmt.Fprintf(out, "procmon not running; last session by pid %d started %s\n",
					prev.MonitorPID, prev.Acquired.Format(time.RFC3339))
			}

			files := make([]string, 0, len(prev.Programs))
			for file := range prev.Programs {
				files = append(files, file)
			}
			sort.Strings(files)

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROGRAM\tSTATE\tPID\tLAST EXIT\tSINCE")

			for _, file := range files {
				p := prev.Programs[file]

				state := "stopped"
				switch {
				case p.Running:
					state = "running"
				case p.SpawnError != "":
					state = "spawn error"
				}

				lastExit := "-"
				if p.LastExit != nil {
					lastExit = fmt.Sprint(p.LastExit.ExitCode)
					if p.LastExit.Killed {
						lastExit += " (killed)"
					}
				}

				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					file, state, p.PID, lastExit, p.LastSeen.Format(time.RFC3339))
			}

			return w.Flush()
		},
	}
}
