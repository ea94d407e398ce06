package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MimeLyc/book-translator/internal/errs"
	"github.com/MimeLyc/book-translator/pkg/log"
)

const (
	wsWriteWait = 10 * time.Second

	// application close code for an unknown ?job_id
	closeJobNotFound = 4404
)

// handleWebSocket mirrors the job stream over a WebSocket. Client messages
// are read only to notice the disconnect.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Failed to upgrade to WebSocket: %v", err)
		return
	}
	defer conn.Close()

	jobID := r.URL.Query().Get("job_id")
	updates, unsubscribe := s.hub.Subscribe(jobID)
	defer unsubscribe()
	log.Debug("WebSocket client connected. Total subscribers: %d", s.hub.Subscribers())

	list, err := s.initialJobs(r.Context(), jobID)
	if err != nil {
		log.Warn("Failed to load jobs for WebSocket client: %v", err)
		code := websocket.CloseInternalServerErr
		if errs.Is(err, errs.KindNotFound) {
			code = closeJobNotFound
		}
		_ = s.write(conn, websocket.CloseMessage, websocket.FormatCloseMessage(code, errs.Message(err)))
		return
	}
	initial, err := json.Marshal(JobEvent{Type: "initial_jobs", Jobs: list})
	if err != nil {
		return
	}
	if err := s.write(conn, websocket.TextMessage, initial); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Debug("WebSocket client disconnected")
			return
		case payload := <-updates:
			if err := s.write(conn, websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, messageType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(messageType, data)
}
