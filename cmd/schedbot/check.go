package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"schedbot/internal/config"
)

var checkCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Parse and validate the config without starting anything",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewConfigManager(configPath).Parse()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: transport=%s autostart=%d producers=%d http=%t\n",
			cfg.Transport.Driver, len(cfg.Sessions.Autostart), len(cfg.Content.Producers), cfg.HTTP.Enabled)
		return nil
	},
}
