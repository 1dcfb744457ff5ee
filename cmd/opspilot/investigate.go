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
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/config"
)

var investigateCmd = &cobra.Command{
	Use:   "investigate [goal]",
	Short: "Run one investigation from the terminal",
	Long: `Runs a single investigation synchronously and prints the answer.

When a command needs approval the run pauses and asks on stdin. Mutating
commands outside the remediation allow-list are never executed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		goal := strings.Join(args, " ")

		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}

		loop, store, _, _, err := buildLoop(cfg)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
		}

		sess, err := agent.NewSession(cfg.AgentConfig())
		if err != nil {
			return err
		}

		ctx := context.Background()
		result, err := loop.Run(ctx, sess, goal)
		if err != nil {
			return err
		}

		// Interactive approval loop: parked runs ask on stdin and resume.
		reader := bufio.NewReader(os.Stdin)
		for result.State == agent.StateApproval {
			req := result.PendingApproval
			fmt.Printf("\nApproval required:\n  command: %s\n  reason:  %s\n", req.Command, req.Reason)
			fmt.Print("Approve? [y/N]: ")
			line, _ := reader.ReadString('\n')
			granted := strings.EqualFold(strings.TrimSpace(line), "y")

			result, err = loop.Resume(ctx, sess.ID, agent.ApprovalDecision{
				Granted: granted,
				Reason:  "interactive decision",
			})
			if err != nil {
				return err
			}
		}

		printResult(result)
		return nil
	},
}

// printResult renders a run result for the terminal.
func printResult(result *agent.RunResult) {
	switch result.State {
	case agent.StateComplete:
		fmt.Println("\n=== Answer ===")
		fmt.Println(result.Answer)
		if result.Incomplete {
			fmt.Println("\n(best-effort answer: budgets were exhausted before full verification)")
		}
	case agent.StateError:
		fmt.Println("\n=== Failed ===")
		if result.Error != nil {
			fmt.Println(result.Error.Message)
			for _, fact := range result.Error.PartialEvidence {
				fmt.Printf("  partial: %s\n", fact)
			}
		}
	}

	fmt.Printf("\ncommands run: %d, blocked: %d, attempts: %d, duration: %s\n",
		result.CommandsRun, result.CommandsBlocked, result.Attempts,
		result.Duration.Round(time.Millisecond))
	if result.PlanSummary != "" {
		fmt.Printf("plan: %s\n", result.PlanSummary)
	}
	if len(result.Evidence) > 0 {
		fmt.Println("\nevidence:")
		for _, fact := range result.Evidence {
			fmt.Printf("  - %s\n", fact)
		}
	}
}
