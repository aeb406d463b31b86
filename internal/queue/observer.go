package queue

import (
	"log"
	"sync"

	"content-job-queue/internal/job"
)

// Subscriptions deliver events asynchronously over buffered channels, one
// delivery goroutine per subscriber, so a slow or panicking observer can
// never stall the scheduler or other observers. Events for one subscriber
// are delivered in publish order; if a subscriber's buffer is full the event
// is dropped for that subscriber.

const subscriberBuffer = 64

type jobSubscriber struct {
	ch chan job.Job
}

type statsSubscriber struct {
	ch chan job.Stats
}

// SubscribeJob registers an observer for every state transition of the job
// with the given id. Returns an unsubscribe function; calling it more than
// once is safe.
func (m *Manager) SubscribeJob(id string, fn func(job.Job)) func() {
	sub := &jobSubscriber{ch: make(chan job.Job, subscriberBuffer)}

	m.mu.Lock()
	m.jobSubs[id] = append(m.jobSubs[id], sub)
	m.mu.Unlock()

	go func() {
		for ev := range sub.ch {
			invokeJobObserver(fn, ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			subs := m.jobSubs[id]
			for i, s := range subs {
				if s == sub {
					m.jobSubs[id] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(m.jobSubs[id]) == 0 {
				delete(m.jobSubs, id)
			}
			m.mu.Unlock()
			close(sub.ch)
		})
	}
}

// SubscribeStats registers an observer invoked whenever aggregate stats are
// recomputed. Returns an unsubscribe function.
func (m *Manager) SubscribeStats(fn func(job.Stats)) func() {
	sub := &statsSubscriber{ch: make(chan job.Stats, subscriberBuffer)}

	m.mu.Lock()
	m.statsSubs = append(m.statsSubs, sub)
	m.mu.Unlock()

	go func() {
		for st := range sub.ch {
			invokeStatsObserver(fn, st)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			for i, s := range m.statsSubs {
				if s == sub {
					m.statsSubs = append(m.statsSubs[:i], m.statsSubs[i+1:]...)
					break
				}
			}
			m.mu.Unlock()
			close(sub.ch)
		})
	}
}

func invokeJobObserver(fn func(job.Job), ev job.Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[queue] job observer panic: %v", r)
		}
	}()
	fn(ev)
}

func invokeStatsObserver(fn func(job.Stats), st job.Stats) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[queue] stats observer panic: %v", r)
		}
	}()
	fn(st)
}

// publishJobLocked fans out one transition of j to its subscribers.
// Callers hold m.mu and have already persisted the snapshot.
func (m *Manager) publishJobLocked(j *job.Job) {
	subs := m.jobSubs[j.ID]
	if len(subs) == 0 {
		return
	}
	ev := *j.Clone()
	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			// buffer full, drop for this subscriber
		}
	}
}

// publishStatsLocked recomputes aggregate stats and fans them out.
// Callers hold m.mu and have already persisted the snapshot.
func (m *Manager) publishStatsLocked() {
	if len(m.statsSubs) == 0 {
		return
	}
	st := job.ComputeStats(m.jobs)
	for _, sub := range m.statsSubs {
		select {
		case sub.ch <- st:
		default:
		}
	}
}
