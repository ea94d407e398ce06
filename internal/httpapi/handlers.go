package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/MimeLyc/book-translator/internal/assembler"
	"github.com/MimeLyc/book-translator/internal/config"
	"github.com/MimeLyc/book-translator/internal/errs"
	"github.com/MimeLyc/book-translator/internal/jobs"
	"github.com/MimeLyc/book-translator/pkg/log"
)

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req jobs.BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	book, err := s.app.CreateBook(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.app.Store.ListBooks(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.app.Store.GetBook(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

type createJobRequest struct {
	BookID         string `json:"book_id"`
	TargetLanguage string `json:"target_language"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.BookID == "" {
		writeError(w, http.StatusBadRequest, "book_id is required")
		return
	}
	job, err := s.app.Orchestrator.CreateJob(r.Context(), req.BookID, req.TargetLanguage)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.app.Store.ListJobs(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	status := jobs.Status(r.URL.Query().Get("status"))
	bookID := r.URL.Query().Get("book_id")
	ret := make([]*jobs.TranslationJob, 0, len(list))
	for _, job := range list {
		if status != "" && job.Status != status {
			continue
		}
		if bookID != "" && job.BookID != bookID {
			continue
		}
		ret = append(ret, job)
	}
	writeJSON(w, http.StatusOK, ret)
}

type chunkSummary struct {
	Index        int         `json:"chunk_index"`
	Status       jobs.Status `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

type jobDetails struct {
	*jobs.TranslationJob
	Progress float64        `json:"progress"`
	Chunks   []chunkSummary `json:"chunks"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := s.app.Store.GetJob(ctx, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	chunks, err := s.app.Store.ListChunks(ctx, job.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	details := jobDetails{
		TranslationJob: job,
		Progress:       job.Progress(),
		Chunks:         make([]chunkSummary, 0, len(chunks)),
	}
	for _, c := range chunks {
		details.Chunks = append(details.Chunks, chunkSummary{
			Index:        c.Index,
			Status:       c.Status,
			ErrorMessage: c.ErrorMessage,
		})
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Store.DeleteJob(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	cancelled, err := s.app.Orchestrator.CancelJob(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	job, err := s.app.Store.GetJob(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	code := http.StatusOK
	if !cancelled {
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]any{
		"cancelled": cancelled,
		"job":       job,
	})
}

func (s *Server) handleAssembleJob(w http.ResponseWriter, r *http.Request) {
	if err := s.app.RequestAssembly(r.Context(), r.PathValue("id")); err != nil {
		if errs.Is(err, errs.KindValidation) {
			writeError(w, http.StatusConflict, errs.Message(err))
			return
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid chunk index")
		return
	}
	chunk, err := s.app.Store.GetChunk(r.Context(), r.PathValue("id"), index)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chunk)
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	page, ok := queryInt(w, r, "page", 1)
	if !ok {
		return
	}
	pageSize, ok := queryInt(w, r, "page_size", assembler.DefaultPageSize)
	if !ok {
		return
	}
	ret, err := s.app.Pages.Page(r.Context(), r.PathValue("id"), page, pageSize)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	content, err := s.app.Pages.Content(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(content))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":       s.app.Queue.Stats(),
		"reconciler":  s.app.Reconciler.Status(),
		"subscribers": s.hub.Subscribers(),
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.app.Reconciler.Run(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings.Redacted())
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, saved.Redacted())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// writeErr maps the error kind to a status code.
func writeErr(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	switch kind {
	case errs.KindNotFound:
		writeError(w, http.StatusNotFound, errs.Message(err))
	case errs.KindValidation, errs.KindUnsupportedFormat, errs.KindUnsupportedLanguagePair:
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": errs.Message(err),
			"kind":  kind.String(),
		})
	default:
		log.Error("Request failed: %v", err)
		writeError(w, http.StatusInternalServerError, errs.Message(err))
	}
}
