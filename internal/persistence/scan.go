package persistence

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/MimeLyc/book-translator/internal/extract"
	"github.com/MimeLyc/book-translator/internal/jobs"
)

const (
	bookColumns  = `id, title, author, source_language, target_language, file_path, url, format, created_at`
	jobColumns   = `id, book_id, source_language, target_language, status, total_chunks, completed_chunks, error_message, artifact_ref, created_at, updated_at`
	chunkColumns = `id, job_id, chunk_index, original_text, translated_text, status, error_message, created_at, updated_at`
)

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*jobs.Book, error) {
	var b jobs.Book
	var format string
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &b.SourceLanguage, &b.TargetLanguage, &b.FilePath, &b.URL, &format, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Format = extract.Format(format)
	return &b, nil
}

func scanJob(row rowScanner) (*jobs.TranslationJob, error) {
	var j jobs.TranslationJob
	var status string
	if err := row.Scan(
		&j.ID,
		&j.BookID,
		&j.SourceLanguage,
		&j.TargetLanguage,
		&status,
		&j.TotalChunks,
		&j.CompletedChunks,
		&j.ErrorMessage,
		&j.ArtifactRef,
		&j.CreatedAt,
		&j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.Status = jobs.Status(status)
	return &j, nil
}

func scanChunk(row rowScanner) (*jobs.Chunk, error) {
	var c jobs.Chunk
	var status string
	var translated sql.NullString
	if err := row.Scan(
		&c.ID,
		&c.JobID,
		&c.Index,
		&c.OriginalText,
		&translated,
		&status,
		&c.ErrorMessage,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Status = jobs.Status(status)
	c.TranslatedText = translated.String
	return &c, nil
}

// translatedValue is NULL unless the chunk completed.
func translatedValue(update jobs.ChunkUpdate) sql.NullString {
	if update.Status != jobs.StatusCompleted {
		return sql.NullString{}
	}
	return sql.NullString{String: update.TranslatedText, Valid: true}
}

func completedValue(update jobs.JobUpdate) sql.NullInt64 {
	if update.CompletedChunks == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*update.CompletedChunks), Valid: true}
}

// statusList renders from as SQL placeholders starting at position start
// (1-based, for numbered placeholders) and returns the matching args.
func statusList(from []jobs.Status, numbered bool, start int) (string, []any) {
	marks := make([]string, len(from))
	args := make([]any, len(from))
	for i, s := range from {
		if numbered {
			marks[i] = "$" + strconv.Itoa(start+i)
		} else {
			marks[i] = "?"
		}
		args[i] = string(s)
	}
	return strings.Join(marks, ", "), args
}
