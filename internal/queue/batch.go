package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"content-job-queue/internal/job"
)

// TypeBatch is the job type handled by the built-in batch executor.
const TypeBatch = "batch"

const defaultBatchPoll = time.Second

// BatchPayload lists the operations a batch runs serially.
type BatchPayload struct {
	Operations []BatchOperation `json:"operations"`
}

// BatchOperation is one child job to enqueue.
type BatchOperation struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BatchResult accumulates the child results in operation order.
type BatchResult struct {
	Results []json.RawMessage `json:"results"`
}

// NewBatchHandler returns the executor for batch jobs. Children are enqueued
// one at a time with priority low and a single attempt, then awaited by
// polling Status — the same public contract external callers use, with the
// snapshot as the single source of truth. The first child failure aborts the
// batch with that child's error. Finished children stay in the queue until
// garbage collection.
//
// A batch job holds a processing slot while it waits on its children, so the
// manager needs a concurrency cap of at least 2 to make progress.
func NewBatchHandler(m *Manager, pollInterval time.Duration) HandlerFunc {
	if pollInterval <= 0 {
		pollInterval = defaultBatchPoll
	}
	return func(ctx context.Context, j *job.Job) error {
		var p BatchPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return fmt.Errorf("invalid batch payload: %w", err)
		}
		if len(p.Operations) == 0 {
			return errors.New("batch has no operations")
		}

		res := BatchResult{Results: make([]json.RawMessage, 0, len(p.Operations))}
		for _, op := range p.Operations {
			id, err := m.Enqueue(op.Type, op.Payload,
				WithPriority(job.PriorityLow), WithMaxAttempts(1))
			if err != nil {
				return err
			}

			child, err := m.awaitTerminal(ctx, id, pollInterval)
			if err != nil {
				return err
			}
			if child.Status == job.StatusFailed {
				if child.Error != "" {
					return errors.New(child.Error)
				}
				return fmt.Errorf("child job %s failed", id)
			}
			res.Results = append(res.Results, child.Result)
		}

		out, err := json.Marshal(res)
		if err != nil {
			return err
		}
		j.Result = out
		return nil
	}
}

// awaitTerminal polls the job until it reaches a terminal status. The first
// check happens before any delay so fast children are picked up immediately.
func (m *Manager) awaitTerminal(ctx context.Context, id string, interval time.Duration) (*job.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		j, ok := m.Status(id)
		if !ok {
			return nil, fmt.Errorf("child job %s disappeared", id)
		}
		if j.Status.Terminal() {
			return j, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
