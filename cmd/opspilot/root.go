// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"

	"github.com/ankitjain91/opspilot-sub000/pkg/logging"
)

var (
	flagConfig   string
	flagLogLevel string
	flagLogDir   string
)

var rootCmd = &cobra.Command{
	Use:   "opspilot",
	Short: "Autonomous Kubernetes investigation agent",
	Long: `opspilot investigates Kubernetes clusters autonomously.

Given a diagnostic goal it plans read-only inspection steps, generates and
safety-checks commands, executes them, and reflects on the output until it
can synthesize an evidence-backed answer. Mutations are never executed
without human approval.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := logging.Init(logging.Config{
			Level:   logging.ParseLevel(flagLogLevel),
			Service: "opspilot",
			LogDir:  flagLogDir,
		})
		return err
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "",
		"path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogDir, "log-dir", "",
		"directory for JSON log files (disabled when empty)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(investigateCmd)
}
