package jobs

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/MimeLyc/book-translator/internal/errs"
	"github.com/MimeLyc/book-translator/internal/extract"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AutoLanguage asks the orchestrator to detect the source language from the
// extracted text.
const AutoLanguage = "auto"

type Book struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Author         string         `json:"author,omitempty"`
	SourceLanguage string         `json:"source_language"`
	TargetLanguage string         `json:"target_language"`
	FilePath       string         `json:"file_path,omitempty"`
	URL            string         `json:"url,omitempty"`
	Format         extract.Format `json:"format"`
	CreatedAt      time.Time      `json:"created_at"`
}

type BookRequest struct {
	Title          string `json:"title"`
	Author         string `json:"author"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	FilePath       string `json:"file_path"`
	URL            string `json:"url"`
	Format         string `json:"format"`
}

// NewBook validates req and resolves the book format. A local file with an
// unknown extension is rejected; a URL may leave the format to be sniffed
// from the response at extraction time.
func NewBook(req BookRequest) (*Book, error) {
	filePath := strings.TrimSpace(req.FilePath)
	rawURL := strings.TrimSpace(req.URL)
	if (filePath == "") == (rawURL == "") {
		return nil, errs.New(errs.KindValidation, "exactly one of file_path or url is required")
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, errs.New(errs.KindValidation, "title is required")
	}

	source := strings.TrimSpace(req.SourceLanguage)
	if source == "" {
		source = AutoLanguage
	}
	if source != AutoLanguage {
		if _, err := language.Parse(source); err != nil {
			return nil, errs.Wrap(err, errs.KindValidation, "invalid source_language")
		}
	}
	target := strings.TrimSpace(req.TargetLanguage)
	if _, err := language.Parse(target); err != nil {
		return nil, errs.Wrap(err, errs.KindValidation, "invalid target_language")
	}

	var format extract.Format
	if req.Format != "" {
		f, err := extract.ParseFormat(req.Format)
		if err != nil {
			return nil, err
		}
		format = f
	}

	if rawURL != "" {
		u, err := url.Parse(rawURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, errs.Newf(errs.KindValidation, "invalid url %q", rawURL)
		}
		if format == extract.FormatUnknown {
			format = extract.FormatFromPath(u.Path)
		}
	} else if format == extract.FormatUnknown {
		format = extract.FormatFromPath(filePath)
		if format == extract.FormatUnknown {
			return nil, errs.Newf(errs.KindUnsupportedFormat, "cannot detect format of %q", filePath)
		}
	}

	return &Book{
		ID:             uuid.NewString(),
		Title:          strings.TrimSpace(req.Title),
		Author:         strings.TrimSpace(req.Author),
		SourceLanguage: source,
		TargetLanguage: target,
		FilePath:       filePath,
		URL:            rawURL,
		Format:         format,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Source is the extractor descriptor for the book's content.
func (b *Book) Source() extract.Source {
	return extract.Source{Path: b.FilePath, URL: b.URL, Format: b.Format}
}

type TranslationJob struct {
	ID              string    `json:"id"`
	BookID          string    `json:"book_id"`
	SourceLanguage  string    `json:"source_language"`
	TargetLanguage  string    `json:"target_language"`
	Status          Status    `json:"status"`
	TotalChunks     int       `json:"total_chunks"`
	CompletedChunks int       `json:"completed_chunks"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ArtifactRef     string    `json:"artifact_ref,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Progress returns the completed percentage in [0, 100].
func (j *TranslationJob) Progress() float64 {
	if j.TotalChunks == 0 {
		return 0
	}
	return float64(j.CompletedChunks) * 100 / float64(j.TotalChunks)
}

type Chunk struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	Index          int       `json:"chunk_index"`
	OriginalText   string    `json:"original_text"`
	TranslatedText string    `json:"translated_text,omitempty"`
	Status         Status    `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ChunkCounts is the per-status aggregation of a job's chunks.
type ChunkCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

type ChunkUpdate struct {
	Status         Status
	TranslatedText string
	ErrorMessage   string
}

// JobUpdate is applied conditionally by Store.UpdateJob. A nil
// CompletedChunks keeps the stored counter.
type JobUpdate struct {
	Status          Status
	CompletedChunks *int
	ErrorMessage    string
}

func cloneJob(job *TranslationJob) *TranslationJob {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}
