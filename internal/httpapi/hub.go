package httpapi

import (
	"encoding/json"
	"sync"

	"github.com/MimeLyc/book-translator/internal/jobs"
	"github.com/MimeLyc/book-translator/pkg/log"
)

const subscriberBuffer = 64

// JobEvent is the payload pushed to SSE and WebSocket clients.
type JobEvent struct {
	Type     string                 `json:"type"`
	Job      *jobs.TranslationJob   `json:"job,omitempty"`
	Jobs     []*jobs.TranslationJob `json:"jobs,omitempty"`
	Progress float64                `json:"progress,omitempty"`
}

// Hub fans job snapshots out to streaming clients. A slow client misses
// events rather than blocking the pipeline.
type Hub struct {
	mu sync.RWMutex
	// subscriber channel to the job it follows, "" for all jobs
	subs map[chan []byte]string
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]string)}
}

// Publish is a jobs.Notifier.
func (h *Hub) Publish(job *jobs.TranslationJob) {
	payload, err := json.Marshal(JobEvent{Type: "job_update", Job: job, Progress: job.Progress()})
	if err != nil {
		log.Error("Failed to marshal job update: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, jobID := range h.subs {
		if jobID != "" && jobID != job.ID {
			continue
		}
		select {
		case ch <- payload:
		default:
			log.Debug("Dropped job update for slow subscriber")
		}
	}
}

// Subscribe returns a channel of encoded JobEvents and a func that ends the
// subscription. A non-empty jobID limits events to that job.
func (h *Hub) Subscribe(jobID string) (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = jobID
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
