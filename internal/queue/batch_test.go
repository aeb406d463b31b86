package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-job-queue/internal/job"
)

// Batch tests run the real scheduler loop: a batch occupies one processing
// slot while its children need another, so the cap is 2 and the tick and
// poll intervals are short.
func newBatchManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(newTestStore(t), Config{
		Concurrency:  2,
		TickInterval: 10 * time.Millisecond,
	})
	m.RegisterHandler("echo", echoHandler)
	m.RegisterHandler(TypeBatch, NewBatchHandler(m, 10*time.Millisecond))
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func TestBatchAggregatesChildResults(t *testing.T) {
	m := newBatchManager(t)

	payload, err := json.Marshal(BatchPayload{Operations: []BatchOperation{
		{Type: "echo", Payload: json.RawMessage(`{"input":1}`)},
		{Type: "echo", Payload: json.RawMessage(`{"input":2}`)},
	}})
	require.NoError(t, err)

	id, err := m.Enqueue(TypeBatch, payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, _ := m.Status(id)
		return j != nil && j.Status.Terminal()
	}, waitFor, pollEach, "batch should finish")

	j, _ := m.Status(id)
	assert.Equal(t, job.StatusCompleted, j.Status)
	assert.JSONEq(t, `{"results":[2,3]}`, string(j.Result))

	// child echo jobs stay in the snapshot until garbage collection
	children := m.List(job.Filter{Type: "echo"})
	require.Len(t, children, 2)
	for _, c := range children {
		assert.Equal(t, job.StatusCompleted, c.Status)
		assert.Equal(t, job.PriorityLow, c.Priority)
		assert.Equal(t, 1, c.MaxAttempts)
	}
}

func TestBatchPropagatesChildFailure(t *testing.T) {
	m := newBatchManager(t)
	m.RegisterHandler("doomed", func(context.Context, *job.Job) error {
		return errors.New("render quota exceeded")
	})

	payload, err := json.Marshal(BatchPayload{Operations: []BatchOperation{
		{Type: "echo", Payload: json.RawMessage(`{"input":1}`)},
		{Type: "doomed"},
		{Type: "echo", Payload: json.RawMessage(`{"input":9}`)},
	}})
	require.NoError(t, err)

	id, err := m.Enqueue(TypeBatch, payload, WithMaxAttempts(1))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, _ := m.Status(id)
		return j != nil && j.Status.Terminal()
	}, waitFor, pollEach, "batch should finish")

	j, _ := m.Status(id)
	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Equal(t, "render quota exceeded", j.Error)

	// the batch aborts before the third operation is enqueued
	assert.Len(t, m.List(job.Filter{Type: "echo"}), 1)
	// the completed first child remains in the snapshot
	first := m.List(job.Filter{Type: "echo"})[0]
	assert.Equal(t, job.StatusCompleted, first.Status)
}

func TestBatchRejectsBadPayload(t *testing.T) {
	m := newBatchManager(t)

	id, err := m.Enqueue(TypeBatch, json.RawMessage(`{"operations":[]}`), WithMaxAttempts(1))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, _ := m.Status(id)
		return j != nil && j.Status.Terminal()
	}, waitFor, pollEach, "batch should finish")

	j, _ := m.Status(id)
	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Equal(t, "batch has no operations", j.Error)
}
