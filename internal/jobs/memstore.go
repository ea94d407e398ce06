package jobs

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/MimeLyc/book-translator/internal/errs"
)

// MemoryStore is a Store kept in process memory. It backs STORE_DRIVER=memory
// for one-shot CLI runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	books  map[string]*Book
	jobs   map[string]*TranslationJob
	chunks map[string][]*Chunk
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:  make(map[string]*Book),
		jobs:   make(map[string]*TranslationJob),
		chunks: make(map[string][]*Chunk),
	}
}

func (m *MemoryStore) CreateBook(_ context.Context, book *Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[book.ID]; ok {
		return errs.Newf(errs.KindValidation, "book %s already exists", book.ID)
	}
	tmp := *book
	m.books[book.ID] = &tmp
	return nil
}

func (m *MemoryStore) GetBook(_ context.Context, id string) (*Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "book %s not found", id)
	}
	tmp := *b
	return &tmp, nil
}

func (m *MemoryStore) ListBooks(_ context.Context) ([]*Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make([]*Book, 0, len(m.books))
	for _, b := range m.books {
		tmp := *b
		ret = append(ret, &tmp)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].CreatedAt.After(ret[j].CreatedAt) })
	return ret, nil
}

func (m *MemoryStore) CreateJob(_ context.Context, job *TranslationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[job.BookID]; !ok {
		return errs.Newf(errs.KindNotFound, "book %s not found", job.BookID)
	}
	if _, ok := m.jobs[job.ID]; ok {
		return errs.Newf(errs.KindValidation, "job %s already exists", job.ID)
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*TranslationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "job %s not found", id)
	}
	return cloneJob(j), nil
}

func (m *MemoryStore) ListJobs(_ context.Context) ([]*TranslationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make([]*TranslationJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		ret = append(ret, cloneJob(j))
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].CreatedAt.After(ret[j].CreatedAt) })
	return ret, nil
}

func (m *MemoryStore) StartJob(_ context.Context, jobID, sourceLanguage string, chunks []*Chunk) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return false, errs.Newf(errs.KindNotFound, "job %s not found", jobID)
	}
	if j.Status != StatusPending {
		return false, nil
	}
	seen := make(map[int]bool, len(chunks))
	stored := make([]*Chunk, 0, len(chunks))
	for _, c := range chunks {
		if seen[c.Index] {
			return false, errs.Newf(errs.KindValidation, "duplicate chunk index %d for job %s", c.Index, jobID)
		}
		seen[c.Index] = true
		tmp := *c
		tmp.JobID = jobID
		stored = append(stored, &tmp)
	}
	sort.Slice(stored, func(a, b int) bool { return stored[a].Index < stored[b].Index })

	m.chunks[jobID] = stored
	j.Status = StatusProcessing
	j.SourceLanguage = sourceLanguage
	j.TotalChunks = len(stored)
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, jobID string, from []Status, update JobUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return false, errs.Newf(errs.KindNotFound, "job %s not found", jobID)
	}
	if !slices.Contains(from, j.Status) {
		return false, nil
	}
	j.Status = update.Status
	if update.CompletedChunks != nil && *update.CompletedChunks > j.CompletedChunks {
		j.CompletedChunks = *update.CompletedChunks
	}
	if update.ErrorMessage != "" {
		j.ErrorMessage = update.ErrorMessage
	}
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) SetJobArtifact(_ context.Context, jobID, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return false, errs.Newf(errs.KindNotFound, "job %s not found", jobID)
	}
	if j.Status != StatusCompleted || j.ArtifactRef != "" {
		return false, nil
	}
	j.ArtifactRef = ref
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; !ok {
		return errs.Newf(errs.KindNotFound, "job %s not found", jobID)
	}
	delete(m.jobs, jobID)
	delete(m.chunks, jobID)
	return nil
}

func (m *MemoryStore) GetChunk(_ context.Context, jobID string, index int) (*Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.findChunkLocked(jobID, index)
	if c == nil {
		return nil, errs.Newf(errs.KindNotFound, "chunk %d of job %s not found", index, jobID)
	}
	tmp := *c
	return &tmp, nil
}

func (m *MemoryStore) ListChunks(_ context.Context, jobID string) ([]*Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.jobs[jobID]; !ok {
		return nil, errs.Newf(errs.KindNotFound, "job %s not found", jobID)
	}
	ret := make([]*Chunk, 0, len(m.chunks[jobID]))
	for _, c := range m.chunks[jobID] {
		tmp := *c
		ret = append(ret, &tmp)
	}
	return ret, nil
}

func (m *MemoryStore) TransitionChunk(_ context.Context, jobID string, index int, from []Status, update ChunkUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.findChunkLocked(jobID, index)
	if c == nil {
		return false, errs.Newf(errs.KindNotFound, "chunk %d of job %s not found", index, jobID)
	}
	if !slices.Contains(from, c.Status) {
		return false, nil
	}
	c.Status = update.Status
	if update.Status == StatusCompleted {
		c.TranslatedText = update.TranslatedText
	}
	c.ErrorMessage = update.ErrorMessage
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) CountChunks(_ context.Context, jobID string) (ChunkCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var counts ChunkCounts
	for _, c := range m.chunks[jobID] {
		counts.Total++
		switch c.Status {
		case StatusPending:
			counts.Pending++
		case StatusProcessing:
			counts.Processing++
		case StatusCompleted:
			counts.Completed++
		case StatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

func (m *MemoryStore) findChunkLocked(jobID string, index int) *Chunk {
	for _, c := range m.chunks[jobID] {
		if c.Index == index {
			return c
		}
	}
	return nil
}
