package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MimeLyc/book-translator/internal/errs"
	"github.com/MimeLyc/book-translator/internal/jobs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

var _ jobs.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) CreateBook(ctx context.Context, book *jobs.Book) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO books (`+bookColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID,
		book.Title,
		book.Author,
		book.SourceLanguage,
		book.TargetLanguage,
		book.FilePath,
		book.URL,
		string(book.Format),
		book.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert book %s: %w", book.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetBook(ctx context.Context, id string) (*jobs.Book, error) {
	b, err := scanBook(s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "book %s not found", id)
	}
	return b, err
}

func (s *SQLiteStore) ListBooks(ctx context.Context) ([]*jobs.Book, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Book, 0)
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, b)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *jobs.TranslationJob) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.BookID,
		job.SourceLanguage,
		job.TargetLanguage,
		string(job.Status),
		job.TotalChunks,
		job.CompletedChunks,
		job.ErrorMessage,
		job.ArtifactRef,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*jobs.TranslationJob, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "job %s not found", id)
	}
	return j, err
}

func (s *SQLiteStore) ListJobs(ctx context.Context) ([]*jobs.TranslationJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.TranslationJob, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, j)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) StartJob(ctx context.Context, jobID, sourceLanguage string, chunks []*jobs.Chunk) (started bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil || !started {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, source_language = ?, total_chunks = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(jobs.StatusProcessing),
		sourceLanguage,
		len(chunks),
		now,
		jobID,
		string(jobs.StatusPending),
	)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		if err != nil {
			return false, err
		}
		return false, s.ensureJobTx(ctx, tx, jobID)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (`+chunkColumns+`) VALUES (?, ?, ?, ?, NULL, ?, '', ?, ?)`)
	if err != nil {
		return false, err
	}
	defer stmt.Close()
	for _, c := range chunks {
		if _, err = stmt.ExecContext(ctx, c.ID, jobID, c.Index, c.OriginalText, string(jobs.StatusPending), now, now); err != nil {
			return false, fmt.Errorf("insert chunk %d of job %s: %w", c.Index, jobID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, jobID string, from []jobs.Status, update jobs.JobUpdate) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	marks, statusArgs := statusList(from, false, 0)
	completed := completedValue(update)
	args := []any{
		string(update.Status),
		completed, completed,
		update.ErrorMessage, update.ErrorMessage,
		time.Now().UTC(),
		jobID,
	}
	args = append(args, statusArgs...)

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET
			status = ?,
			completed_chunks = CASE WHEN ? IS NULL THEN completed_chunks ELSE MAX(completed_chunks, ?) END,
			error_message = CASE WHEN ? = '' THEN error_message ELSE ? END,
			updated_at = ?
		 WHERE id = ? AND status IN (`+marks+`)`,
		args...,
	)
	if err != nil {
		return false, err
	}
	return s.applied(ctx, res, jobID)
}

func (s *SQLiteStore) SetJobArtifact(ctx context.Context, jobID, ref string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET artifact_ref = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND artifact_ref = ''`,
		ref,
		time.Now().UTC(),
		jobID,
		string(jobs.StatusCompleted),
	)
	if err != nil {
		return false, err
	}
	return s.applied(ctx, res, jobID)
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.Newf(errs.KindNotFound, "job %s not found", jobID)
	}
	return nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, jobID string, index int) (*jobs.Chunk, error) {
	c, err := scanChunk(s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE job_id = ? AND chunk_index = ?`, jobID, index))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "chunk %d of job %s not found", index, jobID)
	}
	return c, err
}

func (s *SQLiteStore) ListChunks(ctx context.Context, jobID string) ([]*jobs.Chunk, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE job_id = ? ORDER BY chunk_index ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Chunk, 0)
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, c)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) TransitionChunk(ctx context.Context, jobID string, index int, from []jobs.Status, update jobs.ChunkUpdate) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	marks, statusArgs := statusList(from, false, 0)
	args := []any{
		string(update.Status),
		translatedValue(update),
		update.ErrorMessage,
		time.Now().UTC(),
		jobID,
		index,
	}
	args = append(args, statusArgs...)

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE chunks SET
			status = ?,
			translated_text = COALESCE(?, translated_text),
			error_message = ?,
			updated_at = ?
		 WHERE job_id = ? AND chunk_index = ? AND status IN (`+marks+`)`,
		args...,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetChunk(ctx, jobID, index); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) CountChunks(ctx context.Context, jobID string) (jobs.ChunkCounts, error) {
	var c jobs.ChunkCounts
	err := s.db.QueryRowContext(
		ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		 FROM chunks WHERE job_id = ?`,
		jobID,
	).Scan(&c.Total, &c.Pending, &c.Processing, &c.Completed, &c.Failed)
	return c, err
}

func (s *SQLiteStore) applied(ctx context.Context, res sql.Result, jobID string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) ensureJobTx(ctx context.Context, tx *sql.Tx, jobID string) error {
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, jobID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return errs.Newf(errs.KindNotFound, "job %s not found", jobID)
	}
	return nil
}
