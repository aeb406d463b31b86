package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"content-job-queue/internal/job"
)

// TypeStoryEnhancement is the job type for script punch-up.
const TypeStoryEnhancement = "story-enhancement"

// Spoken-word pacing used to size a story against its target duration.
const wordsPerSecond = 2.5

// StoryEnhancement consumes a story and a target duration and produces
// enhanced narration text sized to that duration.
func StoryEnhancement(ctx context.Context, j *job.Job) error {
	var p struct {
		Story                 string `json:"story"`
		TargetDurationSeconds int    `json:"target_duration_seconds"`
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.Story) == "" {
		return errors.New("missing story")
	}
	if p.TargetDurationSeconds <= 0 {
		p.TargetDurationSeconds = 60
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	words := strings.Fields(p.Story)
	targetWords := int(float64(p.TargetDurationSeconds) * wordsPerSecond)

	enhanced := p.Story
	if len(words) > targetWords && targetWords > 0 {
		enhanced = strings.Join(words[:targetWords], " ")
	}
	enhanced = strings.TrimSpace(enhanced)
	if !strings.HasSuffix(enhanced, ".") && !strings.HasSuffix(enhanced, "!") && !strings.HasSuffix(enhanced, "?") {
		enhanced += "."
	}

	estimated := float64(len(strings.Fields(enhanced))) / wordsPerSecond
	out, err := json.Marshal(map[string]any{
		"enhanced_story":             enhanced,
		"estimated_duration_seconds": estimated,
	})
	if err != nil {
		return err
	}
	j.Result = out
	return nil
}
