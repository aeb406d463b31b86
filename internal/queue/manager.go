package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"content-job-queue/internal/job"
	"content-job-queue/internal/otelsetup"
	"content-job-queue/internal/storage"
)

// HandlerFunc executes one job. It may read the payload and write the result
// into j.Result; it must not touch status, attempts or timing fields (the
// manager hands it a private copy, so such writes would be lost anyway).
// Returning an error marks the attempt as failed.
type HandlerFunc func(ctx context.Context, j *job.Job) error

// Config tunes the manager. Zero values take defaults.
type Config struct {
	// Concurrency caps the number of jobs in processing at once.
	// Default 1: handlers fan out to rate-limited third-party services,
	// and serializing them is the most predictable. Batches need >= 2.
	Concurrency int
	// TickInterval is the scheduler's periodic promotion interval (default 5s).
	TickInterval time.Duration
	// GCSchedule is a cron spec for the garbage-collection tick (default "@every 1h").
	GCSchedule string
	// Retention is how long finished jobs are kept (default 24h).
	Retention time.Duration
	// Now is the clock; injectable for tests (default time.Now).
	Now func() time.Time
}

const (
	defaultConcurrency  = 1
	defaultTickInterval = 5 * time.Second
	defaultGCSchedule   = "@every 1h"
	defaultRetention    = 24 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.GCSchedule == "" {
		c.GCSchedule = defaultGCSchedule
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Manager owns the ordered job snapshot and drives jobs through their
// lifecycle: pending -> processing -> completed/failed, with bounded retry
// back to pending. Every transition is persisted before observers see it.
type Manager struct {
	store *storage.Store
	cfg   Config
	now   func() time.Time

	mu        sync.Mutex
	jobs      []*job.Job
	index     map[string]*job.Job
	handlers  map[string]HandlerFunc
	inFlight  map[string]struct{}
	running   bool
	jobSubs   map[string][]*jobSubscriber
	statsSubs []*statsSubscriber

	kick   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cron   *cron.Cron
}

// NewManager loads the persisted snapshot from the store and applies the
// startup recovery rule: jobs left in processing by a previous session are
// reset to pending with startedAt cleared and attempts preserved. A missing
// or corrupt blob starts an empty queue with a warning.
func NewManager(store *storage.Store, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:    store,
		cfg:      cfg,
		now:      cfg.Now,
		index:    make(map[string]*job.Job),
		handlers: make(map[string]HandlerFunc),
		inFlight: make(map[string]struct{}),
		running:  true,
		jobSubs:  make(map[string][]*jobSubscriber),
		kick:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}

	m.load()
	return m
}

func (m *Manager) load() {
	blob, err := m.store.Load(storage.SnapshotKey)
	if err != nil {
		log.Printf("[queue] storage unavailable, starting empty: %v", err)
		return
	}
	if blob == nil {
		return
	}

	var snap job.Snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		log.Printf("[queue] corrupt snapshot, starting empty: %v", err)
		return
	}

	recovered := 0
	for _, j := range snap.Jobs {
		if j == nil || j.ID == "" {
			continue
		}
		if j.Status == job.StatusProcessing {
			j.Status = job.StatusPending
			j.StartedAt = nil
			recovered++
		}
		m.jobs = append(m.jobs, j)
		m.index[j.ID] = j
	}
	if recovered > 0 {
		log.Printf("[queue] recovered %d interrupted job(s) to pending", recovered)
	}

	m.mu.Lock()
	m.persistLocked()
	m.mu.Unlock()
}

// Start launches the periodic scheduler tick and the garbage-collection
// schedule. It is safe to use the manager without Start for callers that
// drive promotion themselves through Resume.
func (m *Manager) Start() {
	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.cfg.GCSchedule, func() {
		if removed := m.ClearOldJobs(m.cfg.Retention); removed > 0 {
			log.Printf("[queue] gc removed %d finished job(s)", removed)
		}
	}); err != nil {
		log.Printf("[queue] invalid gc schedule %q: %v", m.cfg.GCSchedule, err)
	} else {
		m.cron.Start()
	}

	m.wg.Add(1)
	go m.loop()
	log.Printf("[queue] scheduler started (concurrency=%d tick=%v)", m.cfg.Concurrency, m.cfg.TickInterval)
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		case <-m.kick:
			m.tick()
		}
	}
}

// Stop cancels the scheduler and waits for in-flight handlers to resolve.
// Their final transitions are persisted, then recovered to pending on the
// next start if they were interrupted mid-run.
func (m *Manager) Stop() {
	m.cancel()
	if m.cron != nil {
		m.cron.Stop()
	}
	m.wg.Wait()
	log.Println("[queue] scheduler stopped")
}

// EnqueueOption customizes a job at enqueue time.
type EnqueueOption func(*job.Job)

// WithPriority sets the job's priority (default medium).
func WithPriority(p job.Priority) EnqueueOption {
	return func(j *job.Job) { j.Priority = p }
}

// WithMaxAttempts caps processing attempts (default 3, must be >= 1).
func WithMaxAttempts(n int) EnqueueOption {
	return func(j *job.Job) { j.MaxAttempts = n }
}

// Enqueue adds a job to the queue and returns its id. The job is inserted
// after all pending jobs of equal or higher priority and before pending jobs
// of strictly lower priority; records already processing or finished keep
// their slots. By the time Enqueue returns the job is persisted and visible.
func (m *Manager) Enqueue(jobType string, payload json.RawMessage, opts ...EnqueueOption) (string, error) {
	j := &job.Job{Type: jobType, Payload: payload}
	for _, opt := range opts {
		opt(j)
	}
	if err := j.ValidateBasic(); err != nil {
		return "", err
	}

	m.mu.Lock()
	j.ID = uuid.NewString()
	j.Status = job.StatusPending
	j.CreatedAt = m.now()

	idx := len(m.jobs)
	for i, existing := range m.jobs {
		if existing.Status == job.StatusPending && existing.Priority.Rank() > j.Priority.Rank() {
			idx = i
			break
		}
	}
	m.jobs = append(m.jobs, nil)
	copy(m.jobs[idx+1:], m.jobs[idx:])
	m.jobs[idx] = j
	m.index[j.ID] = j

	m.persistLocked()
	m.publishStatsLocked()
	m.mu.Unlock()

	otelsetup.CountEnqueued(m.ctx)
	m.kickTick()
	return j.ID, nil
}

// Cancel removes the job with this id regardless of status and reports
// whether it was found. An in-flight handler is not interrupted; its
// eventual outcome is discarded when it resolves against the missing id.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	j, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.index, id)
	delete(m.inFlight, id)
	for i, existing := range m.jobs {
		if existing == j {
			m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
			break
		}
	}
	m.persistLocked()
	m.publishStatsLocked()
	m.mu.Unlock()

	log.Printf("[queue] job %s cancelled", id)
	m.kickTick()
	return true
}

// Status returns a copy of the job's current record, or false if absent.
func (m *Manager) Status(id string) (*job.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.index[id]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// List returns copies of all records passing the filter, in queue order.
func (m *Manager) List(f job.Filter) []*job.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*job.Job
	for _, j := range m.jobs {
		if f.Matches(j) {
			out = append(out, j.Clone())
		}
	}
	return out
}

// PendingJobs returns all jobs waiting for promotion, in scheduling order.
func (m *Manager) PendingJobs() []*job.Job {
	return m.List(job.Filter{Status: job.StatusPending})
}

// Stats derives aggregate counts and timings from the current snapshot.
func (m *Manager) Stats() job.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return job.ComputeStats(m.jobs)
}

// RegisterHandler adds or replaces the executor for a job type. Jobs already
// in flight finish with the executor they were promoted with; the
// replacement applies from the next promotion.
func (m *Manager) RegisterHandler(jobType string, h HandlerFunc) {
	m.mu.Lock()
	m.handlers[jobType] = h
	m.mu.Unlock()
}

// Pause stops promoting pending jobs. In-flight jobs are unaffected.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	log.Println("[queue] processing paused")
}

// Resume re-enables promotion and performs an immediate tick.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	log.Println("[queue] processing resumed")
	m.tick()
}

// ClearOldJobs removes finished jobs created before now-olderThan and
// returns the count removed. Pending and processing jobs are kept regardless
// of age. A non-positive olderThan uses the configured retention.
func (m *Manager) ClearOldJobs(olderThan time.Duration) int {
	if olderThan <= 0 {
		olderThan = m.cfg.Retention
	}

	m.mu.Lock()
	cutoff := m.now().Add(-olderThan)
	kept := m.jobs[:0]
	removed := 0
	for _, j := range m.jobs {
		if j.Status.Terminal() && j.CreatedAt.Before(cutoff) {
			delete(m.index, j.ID)
			removed++
			continue
		}
		kept = append(kept, j)
	}
	m.jobs = kept
	if removed > 0 {
		m.persistLocked()
		m.publishStatsLocked()
	}
	m.mu.Unlock()
	return removed
}

// tick promotes pending jobs up to the concurrency cap and dispatches their
// handlers. It is triggered periodically, after every enqueue or resolution,
// and immediately on Resume.
func (m *Manager) tick() {
	type launch struct {
		j *job.Job
		h HandlerFunc
	}
	var launches []launch

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	budget := m.cfg.Concurrency - len(m.inFlight)
	if budget <= 0 {
		m.mu.Unlock()
		return
	}

	var transitions []*job.Job
	failures := 0
	for _, j := range m.jobs {
		if budget == 0 {
			break
		}
		if j.Status != job.StatusPending {
			continue
		}
		// A recovered job may arrive here with its budget already spent.
		if j.Attempts >= j.MaxAttempts {
			now := m.now()
			j.Status = job.StatusFailed
			j.CompletedAt = &now
			j.Error = "max attempts exhausted"
			transitions = append(transitions, j)
			failures++
			continue
		}

		h, ok := m.handlers[j.Type]
		if !ok {
			h = unknownTypeHandler
		}
		now := m.now()
		j.Status = job.StatusProcessing
		j.StartedAt = &now
		j.Attempts++
		m.inFlight[j.ID] = struct{}{}
		transitions = append(transitions, j)
		launches = append(launches, launch{j: j.Clone(), h: h})
		budget--
	}

	if len(transitions) > 0 {
		m.persistLocked()
		for _, j := range transitions {
			m.publishJobLocked(j)
		}
		m.publishStatsLocked()
	}
	m.mu.Unlock()

	for i := 0; i < failures; i++ {
		otelsetup.CountFailed(m.ctx)
	}
	for _, l := range launches {
		m.wg.Add(1)
		go m.runJob(l.j, l.h)
	}
}

// unknownTypeHandler stands in when no executor is registered for a type at
// dispatch time; the failure runs through the normal retry policy so a
// late registration can still rescue the job.
func unknownTypeHandler(context.Context, *job.Job) error {
	return errors.New("unknown job type")
}

func (m *Manager) runJob(j *job.Job, h HandlerFunc) {
	defer m.wg.Done()
	err := runHandler(m.ctx, j, h)
	m.resolve(j.ID, j.Result, err)
}

func runHandler(ctx context.Context, j *job.Job, h HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, j)
}

// resolve applies a handler outcome to the live record. A cancelled job is
// no longer in the index; its outcome is logged and dropped.
func (m *Manager) resolve(id string, result json.RawMessage, handlerErr error) {
	m.mu.Lock()
	j, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		log.Printf("[queue] job %s resolved after cancellation, discarding outcome", id)
		return
	}
	delete(m.inFlight, id)

	now := m.now()
	var retried, failed, completed bool
	switch {
	case handlerErr == nil:
		j.Status = job.StatusCompleted
		j.CompletedAt = &now
		j.Result = result
		completed = true
	case j.Attempts < j.MaxAttempts:
		j.Status = job.StatusPending
		j.StartedAt = nil
		retried = true
		log.Printf("[queue] job %s failed (attempt %d/%d), re-queued: %v", id, j.Attempts, j.MaxAttempts, handlerErr)
	default:
		j.Status = job.StatusFailed
		j.CompletedAt = &now
		j.Error = handlerErr.Error()
		failed = true
		log.Printf("[queue] job %s failed permanently after %d attempt(s): %v", id, j.Attempts, handlerErr)
	}

	m.persistLocked()
	m.publishJobLocked(j)
	m.publishStatsLocked()
	m.mu.Unlock()

	switch {
	case completed:
		otelsetup.CountCompleted(m.ctx)
	case retried:
		otelsetup.CountRetried(m.ctx)
	case failed:
		otelsetup.CountFailed(m.ctx)
	}
	m.kickTick()
}

// persistLocked serializes the snapshot to the store. Persistence failures
// are logged; the in-memory snapshot stays authoritative for the session and
// the next transition rewrites the blob.
func (m *Manager) persistLocked() {
	snap := job.Snapshot{SchemaVersion: job.SchemaVersion, Jobs: m.jobs}
	blob, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[queue] snapshot marshal failed: %v", err)
		return
	}
	if err := m.store.Save(storage.SnapshotKey, blob); err != nil {
		log.Printf("[queue] snapshot persist failed: %v", err)
	}
}

func (m *Manager) kickTick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}
