package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon running: %s (pid %d)\n", yesNo(status.Running), status.PID)
			fmt.Fprintf(out, "Queue DB:       %s\n", status.QueueDBPath)
			fmt.Fprintf(out, "Lock file:      %s\n", status.LockFilePath)

			rows := buildStatsRows(status.QueueStats)
			if len(rows) == 0 {
				fmt.Fprintln(out, "Queue is empty")
			} else {
				fmt.Fprintln(out, renderTable(
					[]string{"Stage", "Count"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
			}

			if len(status.StageHealth) > 0 {
				fmt.Fprintln(out, renderTable(
					[]string{"Executor", "State", "Detail"},
					buildHealthRows(status.StageHealth),
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				))
			}
			return nil
		},
	}
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check store and executor readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if health.Healthy {
				fmt.Fprintln(out, "Healthy")
			} else {
				fmt.Fprintln(out, "Unhealthy")
				if health.Detail != "" {
					fmt.Fprintf(out, "  %s\n", health.Detail)
				}
			}
			if len(health.StageHealth) > 0 {
				fmt.Fprintln(out, renderTable(
					[]string{"Executor", "State", "Detail"},
					buildHealthRows(health.StageHealth),
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				))
			}
			if !health.Healthy {
				return fmt.Errorf("daemon reports unhealthy state")
			}
			return nil
		},
	}
}
