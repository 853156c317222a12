package main

import (
	"testing"

	"dramapipe/internal/api"
)

func TestBuildJobRowsAnnotatesFailedStage(t *testing.T) {
	rows := buildJobRows([]api.Job{
		{ID: 7, Title: "Broken", Stage: "failed", FailedStage: "voice_synthesis", Attempts: 3},
	})
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0][2] != "Failed (Voice Synthesis)" {
		t.Fatalf("stage column = %q", rows[0][2])
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 40); got != "short" {
		t.Fatalf("truncate(short) = %q", got)
	}
	if got := truncate("abcdefghij", 8); got != "abcde..." {
		t.Fatalf("truncate = %q", got)
	}
}

func TestFormatTimestampPassesThroughGarbage(t *testing.T) {
	if got := formatTimestamp("not-a-time"); got != "not-a-time" {
		t.Fatalf("formatTimestamp = %q", got)
	}
	if got := formatTimestamp(""); got != "" {
		t.Fatalf("formatTimestamp empty = %q", got)
	}
}
