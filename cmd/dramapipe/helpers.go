package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"dramapipe/internal/api"
	"dramapipe/internal/queue"
	"dramapipe/internal/stage"
)

func parseJobID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", arg)
	}
	return id, nil
}

func stageLabel(name string) string {
	if name == "" {
		return ""
	}
	return stage.Label(queue.Stage(name))
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

// formatTimestamp shortens an API timestamp for table display. Unparseable
// values pass through untouched.
func formatTimestamp(value string) string {
	if value == "" {
		return ""
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000Z07:00", time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.Local().Format("2006-01-02 15:04:05")
		}
	}
	return value
}

func truncate(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	if max <= 3 {
		return value[:max]
	}
	return value[:max-3] + "..."
}

func buildJobRows(jobs []api.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		stageCol := stageLabel(job.Stage)
		if job.Stage == string(queue.StageFailed) && job.FailedStage != "" {
			stageCol = fmt.Sprintf("%s (%s)", stageCol, stageLabel(job.FailedStage))
		}
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			truncate(job.Title, 40),
			stageCol,
			strconv.Itoa(job.Attempts),
			formatTimestamp(job.UpdatedAt),
		})
	}
	return rows
}

func buildStatsRows(stats map[string]int) [][]string {
	rows := make([][]string, 0, len(stats))
	order := append(queue.Sequence(), queue.StageFailed, queue.StageCancelled)
	for _, s := range order {
		count, ok := stats[string(s)]
		if !ok || count == 0 {
			continue
		}
		rows = append(rows, []string{stageLabel(string(s)), strconv.Itoa(count)})
	}
	return rows
}

func buildHealthRows(healths []api.StageHealth) [][]string {
	rows := make([][]string, 0, len(healths))
	for _, h := range healths {
		ready := "ready"
		if !h.Ready {
			ready = "not ready"
		}
		rows = append(rows, []string{stageLabel(h.Name), ready, h.Detail})
	}
	return rows
}
