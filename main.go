package main

import (
	"fmt"
	"log"
	"os"

	"git.unix.lgbt/diamondburned/procmon/procmon/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// exitCode is returned by commands that want the program to exit with a
// specific status without printing anything else.
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

type globalFlags struct {
	config  string
	journal string
	scripts string
	history string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "procmon",
		Short: "run and supervise processes",
		Long: `procmon runs programs, watches their output and restarts them when they
exit. Every program in the configuration file and every executable in the
scripts directory is supervised. Without a subcommand, procmon starts the
supervisor.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, g)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&g.config, "config", "c", "", "config file path (.yaml, .yml or .toml)")
	flags.StringVarP(&g.journal, "journal", "j", "", "journal file path")
	flags.StringVarP(&g.scripts, "scripts", "s", "", "scripts directory path")
	flags.StringVar(&g.history, "history", "", "run history database path")

	root.AddCommand(
		newStartCmd(g),
		newRunCmd(),
		newCronCmd(g),
		newStatusCmd(g),
		newHistoryCmd(g),
	)

	return root
}

// load loads the configuration file, if any, and applies the flags over it.
func (g *globalFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()

	if g.config != "" {
		var err error
		cfg, err = config.Load(g.config)
		if err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("journal") {
		cfg.Journal = g.journal
	}
	if flags.Changed("scripts") {
		cfg.ScriptsDir = g.scripts
	}
	if flags.Changed("history") {
		cfg.History = g.history
	}

	if cfg.Journal == "" {
		return cfg, errors.New("missing -j path to journal file")
	}

	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var code exitCode
		if errors.As(err, &code) {
			os.Exit(int(code))
		}

		log.Fatalln(err)
	}
}
