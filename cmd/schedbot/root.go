package main

import "github.com/spf13/cobra"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "schedbot",
	Short: "Multi-tenant scheduled messaging",
	Long: `schedbot keeps one messaging session per tenant and delivers
one-time and cron-scheduled messages through it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	rootCmd.AddCommand(runCmd, checkCmd, versionCmd)
}
