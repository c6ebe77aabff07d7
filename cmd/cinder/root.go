// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/cinderhost/cinder/internal/config"
)

// NewRootCmd creates the root command for the cinder CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cinder",
		Short: "cinder - a Lua plugin host",
		Long: `cinder loads Lua plugins from <root>/plugins into one shared state,
dispatches hooks to them and drives their timers and web requests.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewCheckCmd())
	cmd.AddCommand(NewSchemaCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// loadConfig resolves the configuration from --config and the flags of cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		path = ""
	}
	return config.Load(path, cmd.Flags())
}
