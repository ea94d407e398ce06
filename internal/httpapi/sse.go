package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MimeLyc/book-translator/internal/jobs"
)

// handleJobStream sends the current job list once, then every job update
// as it happens. ?job_id= follows a single job.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	jobID := r.URL.Query().Get("job_id")
	updates, unsubscribe := s.hub.Subscribe(jobID)
	defer unsubscribe()

	list, err := s.initialJobs(r.Context(), jobID)
	if err != nil {
		writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(payload []byte) bool {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	initial, err := json.Marshal(JobEvent{Type: "initial_jobs", Jobs: list})
	if err != nil || !send(initial) {
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-updates:
			if !send(payload) {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// initialJobs is the snapshot a new stream starts with.
func (s *Server) initialJobs(ctx context.Context, jobID string) ([]*jobs.TranslationJob, error) {
	if jobID == "" {
		return s.app.Store.ListJobs(ctx)
	}
	job, err := s.app.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return []*jobs.TranslationJob{job}, nil
}
