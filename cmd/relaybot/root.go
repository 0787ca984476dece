package main

import (
	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

type globalFlags struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "relaybot",
		Short:         "Relay messages between every registered Telegram chat",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return config.LoadDotEnv(g.envFiles...)
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to a JSON or YAML config file (env only when empty)")
	root.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", nil, "dotenv files to load (default .env)")

	run := newRunCmd(g)
	root.RunE = run.RunE
	root.Flags().AddFlagSet(run.Flags())

	root.AddCommand(
		run,
		newMigrateCmd(g),
		newChatsCmd(g),
		newGrantCmd(g),
		newRevokeCmd(g),
		newPauseCmd(g, true),
		newPauseCmd(g, false),
	)
	return root
}

// load parses the config once without watching it.
func (g *globalFlags) load() (*config.Config, error) {
	return config.NewManager(g.configPath, nil).Load()
}
