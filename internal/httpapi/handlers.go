package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"content-job-queue/internal/job"
	"content-job-queue/internal/queue"
	"content-job-queue/internal/version"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Queue *queue.Manager
}

// NewRouter builds the HTTP router with routes bound to our handlers.
func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()

	r.Use(versionHeaderMiddleware)

	r.HandleFunc("/jobs", h.CreateJob).Methods("POST")
	r.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/jobs/{id}/cancel", h.CancelJob).Methods("POST")
	r.HandleFunc("/stats", h.GetStats).Methods("GET")
	r.HandleFunc("/queue/pause", h.PauseQueue).Methods("POST")
	r.HandleFunc("/queue/resume", h.ResumeQueue).Methods("POST")
	return r
}

func versionHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Add version header
		w.Header().Set("X-App-Version", version.Version)
		next.ServeHTTP(w, r)
	})
}

type createJobRequest struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    job.Priority    `json:"priority"`
	MaxAttempts int             `json:"max_attempts"`
}

// CreateJob accepts a JSON body and enqueues a job, returning the stored record.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var opts []queue.EnqueueOption
	if req.Priority != "" {
		opts = append(opts, queue.WithPriority(req.Priority))
	}
	if req.MaxAttempts != 0 {
		opts = append(opts, queue.WithMaxAttempts(req.MaxAttempts))
	}

	id, err := h.Queue.Enqueue(req.Type, req.Payload, opts...)
	if err != nil {
		log.Printf("enqueue error: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	j, _ := h.Queue.Status(id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(j)
}

// GetJob returns job metadata so clients can poll status and results.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	j, ok := h.Queue.Status(vars["id"])
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(j)
}

// ListJobs returns the snapshot, optionally filtered by status and/or type.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	f := job.Filter{
		Status: job.Status(r.URL.Query().Get("status")),
		Type:   r.URL.Query().Get("type"),
	}
	jobs := h.Queue.List(f)
	if jobs == nil {
		jobs = []*job.Job{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

// CancelJob removes a job from the queue. In-flight work is not interrupted;
// its outcome is discarded when the handler resolves.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !h.Queue.Cancel(vars["id"]) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStats returns aggregate queue statistics.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Queue.Stats())
}

// PauseQueue stops promotions until resumed.
func (h *Handler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	h.Queue.Pause()
	w.WriteHeader(http.StatusNoContent)
}

// ResumeQueue re-enables promotions and ticks immediately.
func (h *Handler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	h.Queue.Resume()
	w.WriteHeader(http.StatusNoContent)
}
