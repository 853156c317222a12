package stage

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"dramapipe/internal/queue"
	"dramapipe/internal/services"
)

// Input is the creative brief attached to a job at creation time.
type Input struct {
	Genre       string   `json:"genre,omitempty"`
	Description string   `json:"description,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

var titleCaser = cases.Title(language.English)

// ParseInput parses a job's input JSON. On failure it returns a
// services.ErrValidation suitable for stage Execute methods.
func ParseInput(raw string) (Input, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Input{}, nil
	}
	var input Input
	if err := json.Unmarshal([]byte(trimmed), &input); err != nil {
		return Input{}, services.Wrap(
			services.ErrValidation, "stage", "parse input",
			"Job input missing or invalid; recreate the job", err)
	}
	return input, nil
}

// Label renders a stage name for human-facing output, e.g.
// voice_synthesis becomes "Voice Synthesis".
func Label(s queue.Stage) string {
	if s == "" {
		return ""
	}
	return titleCaser.String(strings.ReplaceAll(string(s), "_", " "))
}
