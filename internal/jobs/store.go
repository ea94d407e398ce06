package jobs

import "context"

// Store persists books, jobs and chunks. Lookups of missing rows return an
// errs.KindNotFound error. Every method that reports a bool applies its
// write only when the row is in one of the expected states and returns
// whether the write happened.
type Store interface {
	CreateBook(ctx context.Context, book *Book) error
	GetBook(ctx context.Context, id string) (*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)

	CreateJob(ctx context.Context, job *TranslationJob) error
	GetJob(ctx context.Context, id string) (*TranslationJob, error)
	ListJobs(ctx context.Context) ([]*TranslationJob, error)
	// StartJob inserts all chunks, records total_chunks and the resolved
	// source language, and moves the job pending -> processing in one
	// transaction. Nothing is written when the job is not pending.
	StartJob(ctx context.Context, jobID, sourceLanguage string, chunks []*Chunk) (bool, error)
	// UpdateJob never lowers completed_chunks.
	UpdateJob(ctx context.Context, jobID string, from []Status, update JobUpdate) (bool, error)
	// SetJobArtifact records ref on a completed job whose ref is still unset.
	SetJobArtifact(ctx context.Context, jobID, ref string) (bool, error)
	// DeleteJob removes the job and, by cascade, its chunks.
	DeleteJob(ctx context.Context, jobID string) error

	GetChunk(ctx context.Context, jobID string, index int) (*Chunk, error)
	// ListChunks returns chunks ordered by index.
	ListChunks(ctx context.Context, jobID string) ([]*Chunk, error)
	TransitionChunk(ctx context.Context, jobID string, index int, from []Status, update ChunkUpdate) (bool, error)
	CountChunks(ctx context.Context, jobID string) (ChunkCounts, error)
}
