package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dramapipe/internal/api"
	"dramapipe/internal/queue"
)

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var inputJSON string
	var genre string
	var description string

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Submit a new content job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := buildInput(inputJSON, genre, description)
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.CreateJob(cmd.Context(), api.CreateJobRequest{
				Title: args[0],
				Input: input,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created job %d (%s), now %s\n",
				job.ID, job.Title, stageLabel(job.Stage))
			return nil
		},
	}

	cmd.Flags().StringVar(&inputJSON, "input", "", "Creative brief as a JSON object")
	cmd.Flags().StringVar(&genre, "genre", "", "Genre shortcut, ignored when --input is set")
	cmd.Flags().StringVar(&description, "description", "", "Description shortcut, ignored when --input is set")
	return cmd
}

// buildInput assembles the creative brief payload: either the raw --input
// object or one synthesized from the shortcut flags.
func buildInput(inputJSON, genre, description string) (json.RawMessage, error) {
	if trimmed := strings.TrimSpace(inputJSON); trimmed != "" {
		if !json.Valid([]byte(trimmed)) {
			return nil, fmt.Errorf("--input is not valid JSON")
		}
		return json.RawMessage(trimmed), nil
	}
	payload := map[string]string{}
	if genre != "" {
		payload["genre"] = genre
	}
	if description != "" {
		payload["description"] = description
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var stages []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipeline jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			jobs, err := client.ListJobs(cmd.Context(), stages...)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			out := renderTable(
				[]string{"ID", "Title", "Stage", "Attempts", "Updated"},
				buildJobRows(jobs),
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
			)
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&stages, "stage", nil, "Filter by stage (repeatable)")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.GetJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			printJobDetail(cmd, job)
			return nil
		},
	}
}

func printJobDetail(cmd *cobra.Command, job api.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %d: %s\n", job.ID, job.Title)
	fmt.Fprintf(out, "  Stage:            %s\n", stageLabel(job.Stage))
	if job.FailedStage != "" {
		fmt.Fprintf(out, "  Failed stage:     %s\n", stageLabel(job.FailedStage))
	}
	fmt.Fprintf(out, "  Attempts:         %d\n", job.Attempts)
	if job.NextRetryAt != "" {
		fmt.Fprintf(out, "  Next retry:       %s\n", formatTimestamp(job.NextRetryAt))
	}
	fmt.Fprintf(out, "  Cancel requested: %s\n", yesNo(job.CancelRequested))
	if job.LastError != "" {
		fmt.Fprintf(out, "  Last error:       %s\n", job.LastError)
	}
	if len(job.Input) > 0 && string(job.Input) != "{}" {
		fmt.Fprintf(out, "  Input:            %s\n", string(job.Input))
	}
	artifacts := []struct {
		label string
		value string
	}{
		{"Script", job.ScriptFile},
		{"Audio", job.AudioFile},
		{"Video", job.VideoFile},
		{"Thumbnail", job.ThumbnailFile},
		{"Published at", job.PublishURL},
	}
	for _, artifact := range artifacts {
		if artifact.value != "" {
			fmt.Fprintf(out, "  %-17s %s\n", artifact.label+":", artifact.value)
		}
	}
	fmt.Fprintf(out, "  Created:          %s\n", formatTimestamp(job.CreatedAt))
	fmt.Fprintf(out, "  Updated:          %s\n", formatTimestamp(job.UpdatedAt))
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Request cooperative cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.CancelJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			if job.Stage == string(queue.StageCancelled) {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d cancelled\n", job.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %d, takes effect at the next stage boundary\n", job.ID)
			}
			return nil
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry a failed job from the stage that failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.RetryJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d resumed at %s\n", job.ID, stageLabel(job.Stage))
			return nil
		},
	}
}

func newReopenCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <id> <stage>",
		Short: "Rewind a failed job to an earlier stage and regenerate from there",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.ReopenJob(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d reopened at %s\n", job.ID, stageLabel(job.Stage))
			return nil
		},
	}
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a finished job and its staged files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.RemoveJob(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d removed\n", id)
			return nil
		},
	}
}

func newClearCompletedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-completed",
		Short: "Remove all completed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			removed, err := client.ClearCompleted(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d completed job(s)\n", removed)
			return nil
		},
	}
}
