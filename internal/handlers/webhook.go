package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"content-job-queue/internal/job"
)

// TypeWebhook is the job type for outbound HTTP notifications, used to tell
// downstream systems that generated content is ready.
const TypeWebhook = "webhook"

// Webhook performs an HTTP request to the URL in the job payload and records
// the response status. Non-2xx responses are errors so the attempt can retry.
func Webhook(ctx context.Context, j *job.Job) error {
	var p struct {
		URL     string            `json:"url"`
		Method  string            `json:"method"`
		Headers map[string]string `json:"headers"`
		Body    map[string]any    `json:"body"`
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return err
	}
	if p.URL == "" {
		return errors.New("missing url")
	}
	method := p.Method
	if method == "" {
		method = "POST"
	}

	b, _ := json.Marshal(p.Body)
	req, err := http.NewRequestWithContext(ctx, method, p.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	// short client timeout to avoid long hangs
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New("non-2xx response from target")
	}

	out, err := json.Marshal(map[string]int{"status_code": resp.StatusCode})
	if err != nil {
		return err
	}
	j.Result = out
	return nil
}
