package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newCronCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cron",
		Short: "print crontab lines that keep procmon running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}

			command := []string{os.Args[0], "start"}
			if g.config != "" {
				command = append(command, "-c", strconv.Quote(g.config))
			}
			command = append(command,
				"-j", strconv.Quote(cfg.Journal),
				"-s", strconv.Quote(cfg.ScriptsDir+"/"),
			)

			printCron(cmd, strings.Join(command, " "))
			return nil
		},
	}
}

func printCron(cmd *cobra.Command, command string) {
	crontimes := [...]string{
		"# Start procmon immediately on startup.",
		"@reboot",
		"# Monitor procmon's status every minute.",
		"* * * * *",
	}

	out := cmd.OutOrStdout()

	for _, crontime := range crontimes {
		if strings.HasPrefix(crontime, "#") {
			fmt.Fprintln(out, crontime)
			continue
		}

		fmt.Fprintln(out, crontime, command)
	}
}
