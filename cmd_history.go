package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"git.unix.lgbt/diamondburned/procmon/procmon/journal"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [program]",
		Short: "show recent runs",
		Long: `Show the most recent runs recorded in the history database, newest first.
With a program argument, only runs of that program are shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}

			if cfg.History == "" {
				return errors.New("no history database configured")
			}

			var file string
			if len(args) > 0 {
				file = args[0]
			}

			h, err := journal.OpenHistory(cmd.Context(), cfg.History)
			if err != nil {
				return err
			}
			defer h.Close()

			runs, err := h.Recent(cmd.Context(), file, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ENDED\tPROGRAM\tPID\tSTATUS\tDURATION\tERROR")

			for _, r := range runs {
				status := fmt.Sprint(r.ExitCode)
				if r.Killed {
					status += " (killed)"
				}

				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					r.Ended.Format(time.RFC3339), r.File, r.PID, status,
					r.Duration.Round(time.Millisecond), r.Error)
			}

			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to show")

	return cmd
}
