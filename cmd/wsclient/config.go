package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the wsclient config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the defaults, environment and flags applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd, true)
		if err != nil {
			return err
		}

		path := configPath()
		if err := cfg.Save(path); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote config to %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
