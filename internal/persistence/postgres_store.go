package persistence

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MimeLyc/book-translator/internal/errs"
	"github.com/MimeLyc/book-translator/internal/jobs"
)

//go:embed postgres/*.sql
var postgresMigrations embed.FS

// PostgresStore implements jobs.Store on a pgx connection pool. The schema
// mirrors the SQLite one.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ jobs.Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database url is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := postgresMigrations.ReadDir("postgres")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		version := migrationVersion(entry.Name())
		if entry.IsDir() || version <= 0 {
			continue
		}
		var exists int
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := postgresMigrations.ReadFile("postgres/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.pool.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateBook(ctx context.Context, book *jobs.Book) error {
	_, err := s.pool.Exec(
		ctx,
		`INSERT INTO books (`+bookColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		book.ID, book.Title, book.Author, book.SourceLanguage, book.TargetLanguage,
		book.FilePath, book.URL, string(book.Format), book.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert book %s: %w", book.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetBook(ctx context.Context, id string) (*jobs.Book, error) {
	b, err := scanBook(s.pool.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "book %s not found", id)
	}
	return b, err
}

func (s *PostgresStore) ListBooks(ctx context.Context) ([]*jobs.Book, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+bookColumns+` FROM books ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBook)
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *jobs.TranslationJob) error {
	_, err := s.pool.Exec(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.BookID, job.SourceLanguage, job.TargetLanguage, string(job.Status),
		job.TotalChunks, job.CompletedChunks, job.ErrorMessage, job.ArtifactRef,
		job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*jobs.TranslationJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "job %s not found", id)
	}
	return j, err
}

func (s *PostgresStore) ListJobs(ctx context.Context) ([]*jobs.TranslationJob, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanJob)
}

func (s *PostgresStore) StartJob(ctx context.Context, jobID, sourceLanguage string, chunks []*jobs.Chunk) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	tag, err := tx.Exec(
		ctx,
		`UPDATE jobs SET status = $1, source_language = $2, total_chunks = $3, updated_at = $4
		 WHERE id = $5 AND status = $6`,
		string(jobs.StatusProcessing), sourceLanguage, len(chunks), now, jobID, string(jobs.StatusPending),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, errs.Newf(errs.KindNotFound, "job %s not found", jobID)
		}
		return false, nil
	}

	rows := make([][]any, len(chunks))
	for i, c := range chunks {
		rows[i] = []any{c.ID, jobID, c.Index, c.OriginalText, nil, string(jobs.StatusPending), "", now, now}
	}
	if _, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"chunks"},
		[]string{"id", "job_id", "chunk_index", "original_text", "translated_text", "status", "error_message", "created_at", "updated_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return false, fmt.Errorf("copy chunks of job %s: %w", jobID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, jobID string, from []jobs.Status, update jobs.JobUpdate) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	marks, statusArgs := statusList(from, true, 6)
	args := append([]any{
		string(update.Status),
		completedValue(update),
		update.ErrorMessage,
		time.Now().UTC(),
		jobID,
	}, statusArgs...)

	tag, err := s.pool.Exec(
		ctx,
		`UPDATE jobs SET
			status = $1,
			completed_chunks = CASE WHEN $2::integer IS NULL THEN completed_chunks ELSE GREATEST(completed_chunks, $2::integer) END,
			error_message = CASE WHEN $3::text = '' THEN error_message ELSE $3::text END,
			updated_at = $4
		 WHERE id = $5 AND status IN (`+marks+`)`,
		args...,
	)
	if err != nil {
		return false, err
	}
	return s.applied(ctx, tag.RowsAffected(), jobID)
}

func (s *PostgresStore) SetJobArtifact(ctx context.Context, jobID, ref string) (bool, error) {
	tag, err := s.pool.Exec(
		ctx,
		`UPDATE jobs SET artifact_ref = $1, updated_at = $2
		 WHERE id = $3 AND status = $4 AND artifact_ref = ''`,
		ref, time.Now().UTC(), jobID, string(jobs.StatusCompleted),
	)
	if err != nil {
		return false, err
	}
	return s.applied(ctx, tag.RowsAffected(), jobID)
}

func (s *PostgresStore) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.Newf(errs.KindNotFound, "job %s not found", jobID)
	}
	return nil
}

func (s *PostgresStore) GetChunk(ctx context.Context, jobID string, index int) (*jobs.Chunk, error) {
	c, err := scanChunk(s.pool.QueryRow(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE job_id = $1 AND chunk_index = $2`, jobID, index))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "chunk %d of job %s not found", index, jobID)
	}
	return c, err
}

func (s *PostgresStore) ListChunks(ctx context.Context, jobID string) ([]*jobs.Chunk, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE job_id = $1 ORDER BY chunk_index ASC`, jobID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanChunk)
}

func (s *PostgresStore) TransitionChunk(ctx context.Context, jobID string, index int, from []jobs.Status, update jobs.ChunkUpdate) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	marks, statusArgs := statusList(from, true, 7)
	args := append([]any{
		string(update.Status),
		translatedValue(update),
		update.ErrorMessage,
		time.Now().UTC(),
		jobID,
		index,
	}, statusArgs...)

	tag, err := s.pool.Exec(
		ctx,
		`UPDATE chunks SET
			status = $1,
			translated_text = COALESCE($2::text, translated_text),
			error_message = $3,
			updated_at = $4
		 WHERE job_id = $5 AND chunk_index = $6 AND status IN (`+marks+`)`,
		args...,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := s.GetChunk(ctx, jobID, index); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) CountChunks(ctx context.Context, jobID string) (jobs.ChunkCounts, error) {
	var c jobs.ChunkCounts
	err := s.pool.QueryRow(
		ctx,
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		 FROM chunks WHERE job_id = $1`,
		jobID,
	).Scan(&c.Total, &c.Pending, &c.Processing, &c.Completed, &c.Failed)
	return c, err
}

func (s *PostgresStore) applied(ctx context.Context, affected int64, jobID string) (bool, error) {
	if affected > 0 {
		return true, nil
	}
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return false, err
	}
	return false, nil
}

func collect[T any](rows pgx.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	ret := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	return ret, rows.Err()
}
