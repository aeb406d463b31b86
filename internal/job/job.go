package job

import (
	"encoding/json"
	"errors"
	"time"
)

// Status enumerates possible states for a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var terminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusFailed:    true,
}

// Terminal reports whether the status is final for a job's lifecycle.
func (s Status) Terminal() bool {
	return terminalStatuses[s]
}

// Priority controls head-of-line position at enqueue time.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var priorityRanks = map[Priority]int{
	PriorityHigh:   0,
	PriorityMedium: 1,
	PriorityLow:    2,
}

// Rank maps a priority to its scheduling rank; lower runs first.
func (p Priority) Rank() int {
	r, ok := priorityRanks[p]
	if !ok {
		return priorityRanks[PriorityMedium]
	}
	return r
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	_, ok := priorityRanks[p]
	return ok
}

// Job represents one unit of work tracked by the queue.
// Payload stays generic as raw JSON; handlers write their output into Result.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Priority    Priority        `json:"priority"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ValidateBasic checks minimal requirements before enqueueing and fills
// defaults for the optional fields.
func (j *Job) ValidateBasic() error {
	if j.Type == "" {
		return errors.New("type is required")
	}
	if j.MaxAttempts < 0 {
		return errors.New("max_attempts must be >= 1")
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 3
	}
	if j.Priority == "" {
		j.Priority = PriorityMedium
	}
	if !j.Priority.Valid() {
		return errors.New("unknown priority")
	}
	return nil
}

// Clone returns an independent copy of the job. Raw JSON slices are copied so
// the caller can mutate its copy without racing the queue's record.
func (j *Job) Clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status Status
	Type   string
}

// Matches reports whether the job passes the filter.
func (f Filter) Matches(j *Job) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.Type != "" && j.Type != f.Type {
		return false
	}
	return true
}

// Stats is the aggregate view derived from the current snapshot.
type Stats struct {
	Total                 int     `json:"total"`
	Pending               int     `json:"pending"`
	Processing            int     `json:"processing"`
	Completed             int     `json:"completed"`
	Failed                int     `json:"failed"`
	AverageProcessingTime float64 `json:"average_processing_time"` // seconds
	SuccessRate           float64 `json:"success_rate"`            // percent
}

// ComputeStats derives aggregate stats from an ordered snapshot.
func ComputeStats(jobs []*Job) Stats {
	s := Stats{Total: len(jobs)}
	var procSum float64
	var procCount int
	for _, j := range jobs {
		switch j.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
			if j.StartedAt != nil && j.CompletedAt != nil {
				procSum += j.CompletedAt.Sub(*j.StartedAt).Seconds()
				procCount++
			}
		case StatusFailed:
			s.Failed++
		}
	}
	if procCount > 0 {
		s.AverageProcessingTime = procSum / float64(procCount)
	}
	finished := s.Completed + s.Failed
	if finished == 0 {
		s.SuccessRate = 100
	} else {
		s.SuccessRate = float64(s.Completed) / float64(finished) * 100
	}
	return s
}

// Snapshot is the persisted envelope for the full ordered job sequence.
// Unknown fields in older or newer blobs are ignored on load.
type Snapshot struct {
	SchemaVersion int    `json:"schema_version"`
	Jobs          []*Job `json:"jobs"`
}

// SchemaVersion of snapshots written by this build.
const SchemaVersion = 1
