package main

import (
	"github.com/spf13/cobra"
)

const configFlag = "config"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pluginhostd [sub-command]",
		Short: "Plugin lifecycle host",
		Long: `pluginhostd discovers plugin folders, loads them in boot priority order
and drives their OnLoad, OnStart and OnStop hooks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}
	cmd.PersistentFlags().String(configFlag, "",
		`Path to the host configuration file. Defaults to $PLUGINHOST_CONFIG, then configs/pluginhost.json.`)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newListCmd())
	return cmd
}
