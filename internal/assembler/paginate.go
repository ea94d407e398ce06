package assembler

import (
	"context"
	"fmt"
	"sync"

	"github.com/MimeLyc/book-translator/internal/errs"
	"github.com/MimeLyc/book-translator/internal/jobs"
)

const (
	DefaultPageSize  = 1000
	defaultCacheJobs = 64
)

type Page struct {
	Text        string `json:"text"`
	Page        int    `json:"page"`
	PageSize    int    `json:"page_size"`
	TotalPages  int    `json:"total_pages"`
	TotalChars  int    `json:"total_chars"`
	HasNext     bool   `json:"has_next"`
	HasPrevious bool   `json:"has_previous"`
}

// Paginate returns one window of content. Sizes count characters. There is
// always at least one page and page is clamped into range.
func Paginate(content string, page, pageSize int) Page {
	return paginateRunes([]rune(content), page, pageSize)
}

func paginateRunes(runes []rune, page, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	total := (len(runes) + pageSize - 1) / pageSize
	if total < 1 {
		total = 1
	}
	if page < 1 {
		page = 1
	}
	if page > total {
		page = total
	}

	start := (page - 1) * pageSize
	text := ""
	if start < len(runes) {
		end := min(start+pageSize, len(runes))
		text = string(runes[start:end])
	}
	return Page{
		Text:        text,
		Page:        page,
		PageSize:    pageSize,
		TotalPages:  total,
		TotalChars:  len(runes),
		HasNext:     page < total,
		HasPrevious: page > 1,
	}
}

type cachedContent struct {
	version string
	runes   []rune
}

// Pages serves paginated job output. A job with an artifact is served from
// the artifact; otherwise from its completed chunks. Content is cached per
// job version so paging does not reload chunks.
type Pages struct {
	store     jobs.Store
	artifacts ArtifactStore

	mu      sync.Mutex
	cache   map[string]cachedContent
	order   []string
	maxJobs int
}

func NewPages(store jobs.Store, artifacts ArtifactStore) *Pages {
	return &Pages{
		store:     store,
		artifacts: artifacts,
		cache:     make(map[string]cachedContent),
		maxJobs:   defaultCacheJobs,
	}
}

func (p *Pages) Page(ctx context.Context, jobID string, page, pageSize int) (Page, error) {
	runes, err := p.content(ctx, jobID)
	if err != nil {
		return Page{}, err
	}
	return paginateRunes(runes, page, pageSize), nil
}

// Content returns the full current output of the job.
func (p *Pages) Content(ctx context.Context, jobID string) (string, error) {
	runes, err := p.content(ctx, jobID)
	if err != nil {
		return "", err
	}
	return string(runes), nil
}

func (p *Pages) content(ctx context.Context, jobID string) ([]rune, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	version := contentVersion(job)

	p.mu.Lock()
	if c, ok := p.cache[jobID]; ok && c.version == version {
		p.mu.Unlock()
		return c.runes, nil
	}
	p.mu.Unlock()

	text, err := p.load(ctx, job)
	if err != nil {
		return nil, err
	}
	runes := []rune(text)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cache[jobID]; !ok {
		p.order = append(p.order, jobID)
	}
	p.cache[jobID] = cachedContent{version: version, runes: runes}
	for len(p.order) > p.maxJobs {
		delete(p.cache, p.order[0])
		p.order = p.order[1:]
	}
	return runes, nil
}

func (p *Pages) load(ctx context.Context, job *jobs.TranslationJob) (string, error) {
	if job.Status == jobs.StatusCompleted && job.ArtifactRef != "" && p.artifacts != nil {
		data, err := p.artifacts.Get(ctx, job.ArtifactRef)
		if err == nil {
			return string(data), nil
		}
		if !errs.Is(err, errs.KindNotFound) {
			return "", err
		}
	}
	chunks, err := p.store.ListChunks(ctx, job.ID)
	if err != nil {
		return "", err
	}
	text, _ := JoinCompleted(chunks)
	return text, nil
}

func contentVersion(job *jobs.TranslationJob) string {
	return fmt.Sprintf("%s|%d|%s|%d", job.Status, job.CompletedChunks, job.ArtifactRef, job.UpdatedAt.UnixNano())
}
