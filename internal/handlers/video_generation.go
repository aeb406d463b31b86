package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"content-job-queue/internal/job"
)

// TypeVideoGeneration is the job type for the video rendering pipeline.
const TypeVideoGeneration = "video-generation"

// VideoGeneration consumes a video configuration and produces media
// references. This reference implementation simulates the vendor render in
// staged steps; a production deployment swaps in the real pipeline behind the
// same signature.
func VideoGeneration(ctx context.Context, j *job.Job) error {
	var p struct {
		Prompt          string `json:"prompt"`
		DurationSeconds int    `json:"duration_seconds"`
		AspectRatio     string `json:"aspect_ratio"`
		Voice           string `json:"voice"`
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return err
	}
	if p.Prompt == "" {
		return errors.New("missing prompt")
	}
	if p.DurationSeconds <= 0 {
		p.DurationSeconds = 30
	}
	if p.AspectRatio == "" {
		p.AspectRatio = "9:16"
	}

	// simulate script, render and mux stages; each stage yields on the context
	for i := 0; i < 3; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	assetID := uuid.NewString()
	result := map[string]any{
		"video_url":        fmt.Sprintf("https://cdn.example.com/videos/%s.mp4", assetID),
		"thumbnail_url":    fmt.Sprintf("https://cdn.example.com/thumbs/%s.jpg", assetID),
		"duration_seconds": p.DurationSeconds,
		"aspect_ratio":     p.AspectRatio,
	}
	out, err := json.Marshal(result)
	if err != nil {
		return err
	}
	j.Result = out
	return nil
}
