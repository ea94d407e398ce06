package persistence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/book-translator/internal/errs"
	"github.com/MimeLyc/book-translator/internal/extract"
	"github.com/MimeLyc/book-translator/internal/jobs"
)

// runStoreContract exercises the jobs.Store behavior shared by every backend.
func runStoreContract(t *testing.T, newStore func(t *testing.T) jobs.Store) {
	t.Run("books round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		book := newTestBook(t)

		require.NoError(t, store.CreateBook(ctx, book))
		got, err := store.GetBook(ctx, book.ID)
		require.NoError(t, err)
		assert.Equal(t, book.Title, got.Title)
		assert.Equal(t, extract.FormatText, got.Format)
		assert.True(t, book.CreatedAt.Equal(got.CreatedAt))

		all, err := store.ListBooks(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		_, err = store.GetBook(ctx, "missing")
		assert.True(t, errs.Is(err, errs.KindNotFound))
	})

	t.Run("start job is atomic and runs once", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		job := createTestJob(t, store)

		started, err := store.StartJob(ctx, job.ID, "en", testChunks(job.ID, 3))
		require.NoError(t, err)
		assert.True(t, started)

		started, err = store.StartJob(ctx, job.ID, "en", testChunks(job.ID, 5))
		require.NoError(t, err)
		assert.False(t, started)

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusProcessing, got.Status)
		assert.Equal(t, 3, got.TotalChunks)
		assert.Equal(t, "en", got.SourceLanguage)

		chunks, err := store.ListChunks(ctx, job.ID)
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		for i, c := range chunks {
			assert.Equal(t, i, c.Index)
			assert.Equal(t, jobs.StatusPending, c.Status)
			assert.Empty(t, c.TranslatedText)
		}

		_, err = store.StartJob(ctx, "missing", "en", nil)
		assert.True(t, errs.Is(err, errs.KindNotFound))
	})

	t.Run("duplicate chunk index rolls back", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		job := createTestJob(t, store)

		chunks := testChunks(job.ID, 2)
		chunks[1].Index = 0
		_, err := store.StartJob(ctx, job.ID, "en", chunks)
		require.Error(t, err)

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusPending, got.Status)
		assert.Zero(t, got.TotalChunks)

		listed, err := store.ListChunks(ctx, job.ID)
		require.NoError(t, err)
		assert.Empty(t, listed)
	})

	t.Run("conditional chunk transitions and counts", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		job := createTestJob(t, store)
		_, err := store.StartJob(ctx, job.ID, "en", testChunks(job.ID, 4))
		require.NoError(t, err)

		active := []jobs.Status{jobs.StatusPending, jobs.StatusProcessing}
		ok, err := store.TransitionChunk(ctx, job.ID, 0, active, jobs.ChunkUpdate{Status: jobs.StatusCompleted, TranslatedText: "uno"})
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.TransitionChunk(ctx, job.ID, 1, active, jobs.ChunkUpdate{Status: jobs.StatusFailed, ErrorMessage: "boom"})
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.TransitionChunk(ctx, job.ID, 2, active, jobs.ChunkUpdate{Status: jobs.StatusProcessing})
		require.NoError(t, err)
		assert.True(t, ok)

		// terminal chunks stay terminal
		ok, err = store.TransitionChunk(ctx, job.ID, 0, active, jobs.ChunkUpdate{Status: jobs.StatusFailed, ErrorMessage: "late"})
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.TransitionChunk(ctx, job.ID, 99, active, jobs.ChunkUpdate{Status: jobs.StatusProcessing})
		assert.True(t, errs.Is(err, errs.KindNotFound))

		c, err := store.GetChunk(ctx, job.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusCompleted, c.Status)
		assert.Equal(t, "uno", c.TranslatedText)
		assert.Empty(t, c.ErrorMessage)

		c, err = store.GetChunk(ctx, job.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, "boom", c.ErrorMessage)
		assert.Empty(t, c.TranslatedText)

		counts, err := store.CountChunks(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.ChunkCounts{Total: 4, Pending: 1, Processing: 1, Completed: 1, Failed: 1}, counts)
	})

	t.Run("job updates are conditional and monotonic", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		job := createTestJob(t, store)
		_, err := store.StartJob(ctx, job.ID, "en", testChunks(job.ID, 3))
		require.NoError(t, err)

		processing := []jobs.Status{jobs.StatusProcessing}
		two, one := 2, 1
		ok, err := store.UpdateJob(ctx, job.ID, processing, jobs.JobUpdate{Status: jobs.StatusProcessing, CompletedChunks: &two})
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.UpdateJob(ctx, job.ID, processing, jobs.JobUpdate{Status: jobs.StatusProcessing, CompletedChunks: &one})
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.CompletedChunks)

		ok, err = store.UpdateJob(ctx, job.ID, processing, jobs.JobUpdate{Status: jobs.StatusFailed, ErrorMessage: "1 chunk(s) failed to translate"})
		require.NoError(t, err)
		assert.True(t, ok)

		three := 3
		ok, err = store.UpdateJob(ctx, job.ID, processing, jobs.JobUpdate{Status: jobs.StatusCompleted, CompletedChunks: &three})
		require.NoError(t, err)
		assert.False(t, ok)

		got, err = store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusFailed, got.Status)
		assert.Equal(t, "1 chunk(s) failed to translate", got.ErrorMessage)
		assert.Equal(t, 2, got.CompletedChunks)

		_, err = store.UpdateJob(ctx, "missing", processing, jobs.JobUpdate{Status: jobs.StatusFailed})
		assert.True(t, errs.Is(err, errs.KindNotFound))
	})

	t.Run("artifact is recorded once on completed jobs", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		job := createTestJob(t, store)
		_, err := store.StartJob(ctx, job.ID, "en", testChunks(job.ID, 1))
		require.NoError(t, err)

		ok, err := store.SetJobArtifact(ctx, job.ID, "translations/early.txt")
		require.NoError(t, err)
		assert.False(t, ok)

		one := 1
		_, err = store.UpdateJob(ctx, job.ID, []jobs.Status{jobs.StatusProcessing}, jobs.JobUpdate{Status: jobs.StatusCompleted, CompletedChunks: &one})
		require.NoError(t, err)

		ok, err = store.SetJobArtifact(ctx, job.ID, "translations/a.txt")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.SetJobArtifact(ctx, job.ID, "translations/b.txt")
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "translations/a.txt", got.ArtifactRef)
	})

	t.Run("delete cascades to chunks", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		job := createTestJob(t, store)
		_, err := store.StartJob(ctx, job.ID, "en", testChunks(job.ID, 2))
		require.NoError(t, err)

		require.NoError(t, store.DeleteJob(ctx, job.ID))
		_, err = store.GetJob(ctx, job.ID)
		assert.True(t, errs.Is(err, errs.KindNotFound))
		_, err = store.GetChunk(ctx, job.ID, 0)
		assert.True(t, errs.Is(err, errs.KindNotFound))
		counts, err := store.CountChunks(ctx, job.ID)
		require.NoError(t, err)
		assert.Zero(t, counts.Total)

		assert.True(t, errs.Is(store.DeleteJob(ctx, job.ID), errs.KindNotFound))
	})

	t.Run("concurrent transitions have one winner", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		job := createTestJob(t, store)
		_, err := store.StartJob(ctx, job.ID, "en", testChunks(job.ID, 1))
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.TransitionChunk(ctx, job.ID, 0,
					[]jobs.Status{jobs.StatusPending, jobs.StatusProcessing},
					jobs.ChunkUpdate{Status: jobs.StatusCompleted, TranslatedText: fmt.Sprintf("t%d", i)})
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

func newTestBook(t *testing.T) *jobs.Book {
	t.Helper()
	book, err := jobs.NewBook(jobs.BookRequest{
		Title:          "Moby Dick",
		Author:         "Herman Melville",
		SourceLanguage: "en",
		TargetLanguage: "es",
		FilePath:       "/books/moby.txt",
	})
	require.NoError(t, err)
	book.CreatedAt = book.CreatedAt.Truncate(time.Millisecond)
	return book
}

func createTestJob(t *testing.T, store jobs.Store) *jobs.TranslationJob {
	t.Helper()
	ctx := context.Background()
	book := newTestBook(t)
	require.NoError(t, store.CreateBook(ctx, book))

	now := time.Now().UTC().Truncate(time.Millisecond)
	job := &jobs.TranslationJob{
		ID:             uuid.NewString(),
		BookID:         book.ID,
		SourceLanguage: book.SourceLanguage,
		TargetLanguage: book.TargetLanguage,
		Status:         jobs.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.CreateJob(ctx, job))
	return job
}

func testChunks(jobID string, n int) []*jobs.Chunk {
	now := time.Now().UTC()
	ret := make([]*jobs.Chunk, n)
	for i := range ret {
		ret[i] = &jobs.Chunk{
			ID:           uuid.NewString(),
			JobID:        jobID,
			Index:        i,
			OriginalText: fmt.Sprintf("Sentence %d.", i),
			Status:       jobs.StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}
	return ret
}
