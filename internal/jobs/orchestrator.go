package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/MimeLyc/book-translator/internal/chunker"
	"github.com/MimeLyc/book-translator/internal/errs"
	"github.com/MimeLyc/book-translator/internal/extract"
	"github.com/MimeLyc/book-translator/pkg/log"
)

const (
	DefaultChunkSize = 1000

	msgNoText    = "no translatable text extracted"
	msgCancelled = "cancelled"
)

type Extractor interface {
	Extract(ctx context.Context, src extract.Source) (string, error)
}

type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Assembler builds the final artifact of a completed job and returns its
// reference.
type Assembler interface {
	Assemble(ctx context.Context, jobID string) (string, error)
}

type DetectFunc func(text string) (string, error)

// Notifier receives a job snapshot after every job write.
type Notifier func(job *TranslationJob)

type Orchestrator struct {
	store      Store
	extractor  Extractor
	translator Translator
	assembler  Assembler
	dispatcher Dispatcher
	detect     DetectFunc
	notify     Notifier
	chunkSize  atomic.Int64
	errHandler errs.Handler
}

type Option func(*Orchestrator)

func WithChunkSize(n int) Option {
	return func(o *Orchestrator) {
		o.SetChunkSize(n)
	}
}

func WithDetector(fn DetectFunc) Option {
	return func(o *Orchestrator) {
		o.detect = fn
	}
}

func WithNotifier(fn Notifier) Option {
	return func(o *Orchestrator) {
		o.notify = fn
	}
}

func WithAssembler(a Assembler) Option {
	return func(o *Orchestrator) {
		o.assembler = a
	}
}

func WithErrorHandler(h errs.Handler) Option {
	return func(o *Orchestrator) {
		if h != nil {
			o.errHandler = h
		}
	}
}

func NewOrchestrator(store Store, extractor Extractor, translator Translator, dispatcher Dispatcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		extractor:  extractor,
		translator: translator,
		dispatcher: dispatcher,
		errHandler: errs.NewDefaultHandler(),
	}
	o.chunkSize.Store(DefaultChunkSize)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetChunkSize changes the size used for jobs prepared from now on.
// Jobs already split keep their chunks.
func (o *Orchestrator) SetChunkSize(n int) {
	if n > 0 {
		o.chunkSize.Store(int64(n))
	}
}

func (o *Orchestrator) ChunkSize() int {
	return int(o.chunkSize.Load())
}

// SetDispatcher replaces the dispatcher. It must be called before any
// message is handled; it exists because the queue needs the orchestrator
// as its handler.
func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	o.dispatcher = d
}

// CreateJob persists a pending job for the book and requests its
// preparation. It returns without waiting for any work.
func (o *Orchestrator) CreateJob(ctx context.Context, bookID, targetLanguage string) (*TranslationJob, error) {
	book, err := o.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	target := strings.TrimSpace(targetLanguage)
	if target == "" {
		target = book.TargetLanguage
	}
	if _, err := language.Parse(target); err != nil {
		return nil, errs.Wrap(err, errs.KindValidation, "invalid target_language")
	}

	now := time.Now().UTC()
	job := &TranslationJob{
		ID:             uuid.NewString(),
		BookID:         book.ID,
		SourceLanguage: book.SourceLanguage,
		TargetLanguage: target,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	log.Info("Created job %s for book %s (%s -> %s)", job.ID, book.ID, job.SourceLanguage, job.TargetLanguage)
	o.publish(cloneJob(job))

	if err := o.dispatcher.Dispatch(ctx, PrepareJobRequested(job.ID)); err != nil {
		return nil, fmt.Errorf("dispatch prepare for job %s: %w", job.ID, err)
	}
	return job, nil
}

// CancelJob fails a non-terminal job. In-flight chunk work observes the
// terminal state and drops its results.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) (bool, error) {
	ok, err := o.store.UpdateJob(ctx, jobID, []Status{StatusPending, StatusProcessing}, JobUpdate{
		Status:       StatusFailed,
		ErrorMessage: msgCancelled,
	})
	if err != nil {
		return false, err
	}
	if !ok {
		if _, err := o.store.GetJob(ctx, jobID); err != nil {
			return false, err
		}
		return false, nil
	}
	log.Info("Cancelled job %s", jobID)
	o.publishByID(ctx, jobID)
	return true, nil
}

// Handle processes one message. A returned error asks the queue to
// redeliver; conditions that redelivery cannot fix are recorded on the job
// or chunk instead.
func (o *Orchestrator) Handle(ctx context.Context, msg Message) error {
	switch msg.Kind {
	case KindPrepareJob:
		return o.handlePrepare(ctx, msg.JobID)
	case KindTranslateChunk:
		return o.handleTranslateChunk(ctx, msg.JobID, msg.ChunkIndex)
	case KindChunkCompleted, KindChunkFailed:
		return o.handleChunkResult(ctx, msg)
	case KindCheckCompletion:
		return o.handleCompletionCheck(ctx, msg.JobID)
	case KindAssemble:
		return o.handleAssemble(ctx, msg.JobID)
	default:
		return fmt.Errorf("unknown message kind %q", msg.Kind)
	}
}

func (o *Orchestrator) handlePrepare(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return nil
		}
		return err
	}
	if job.Status != StatusPending {
		return nil
	}
	book, err := o.store.GetBook(ctx, job.BookID)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return o.failJob(ctx, job.ID, StatusPending, err)
		}
		return err
	}

	text, err := o.extractor.Extract(ctx, book.Source())
	if err != nil {
		return o.failJob(ctx, job.ID, StatusPending, err)
	}

	source := job.SourceLanguage
	if source == "" || source == AutoLanguage {
		if o.detect == nil {
			return o.failJob(ctx, job.ID, StatusPending, errs.New(errs.KindValidation, "source language is auto but no detector is configured"))
		}
		source, err = o.detect(text)
		if err != nil {
			return o.failJob(ctx, job.ID, StatusPending, err)
		}
		log.Info("Detected source language %s for job %s", source, job.ID)
	}

	size := o.ChunkSize()
	parts := chunker.Split(text, size)
	if len(parts) == 0 {
		return o.failJob(ctx, job.ID, StatusPending, errs.New(errs.KindExtraction, msgNoText))
	}

	now := time.Now().UTC()
	chunks := make([]*Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = &Chunk{
			ID:           uuid.NewString(),
			JobID:        job.ID,
			Index:        i,
			OriginalText: part,
			Status:       StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	started, err := o.store.StartJob(ctx, job.ID, source, chunks)
	if err != nil {
		return fmt.Errorf("start job %s: %w", job.ID, err)
	}
	if !started {
		return nil
	}
	log.Info("Job %s split into %d chunks (chunk size %d)", job.ID, len(chunks), size)
	o.publishByID(ctx, job.ID)

	for _, c := range chunks {
		if err := o.dispatcher.Dispatch(ctx, ChunkTranslationRequested(job.ID, c.Index)); err != nil {
			// the reconciler re-dispatches chunks that are still pending
			log.Error("Failed to dispatch chunk %d of job %s: %v", c.Index, job.ID, err)
		}
	}
	return nil
}

func (o *Orchestrator) handleTranslateChunk(ctx context.Context, jobID string, index int) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return nil
		}
		return err
	}
	if job.Status != StatusProcessing {
		return nil
	}

	chunk, err := o.store.GetChunk(ctx, jobID, index)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return nil
		}
		return err
	}
	if chunk.Status.Terminal() {
		return o.dispatcher.Dispatch(ctx, JobCompletionCheckRequested(jobID))
	}

	claimed, err := o.store.TransitionChunk(ctx, jobID, index, []Status{StatusPending, StatusProcessing}, ChunkUpdate{Status: StatusProcessing})
	if err != nil {
		return err
	}
	if !claimed {
		return o.dispatcher.Dispatch(ctx, JobCompletionCheckRequested(jobID))
	}

	translated, err := o.translator.Translate(ctx, chunk.OriginalText, job.SourceLanguage, job.TargetLanguage)
	if err != nil {
		o.errHandler.Handle(fmt.Errorf("job %s chunk %d: %w", jobID, index, err))
		return o.dispatcher.Dispatch(ctx, ChunkFailed(jobID, index, errs.Message(err)))
	}
	return o.dispatcher.Dispatch(ctx, ChunkCompleted(jobID, index, translated))
}

func (o *Orchestrator) handleChunkResult(ctx context.Context, msg Message) error {
	job, err := o.store.GetJob(ctx, msg.JobID)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return nil
		}
		return err
	}
	chunk, err := o.store.GetChunk(ctx, msg.JobID, msg.ChunkIndex)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return nil
		}
		return err
	}

	update, out := decideChunkResult(job, chunk, msg)
	if update != nil {
		if _, err := o.store.TransitionChunk(ctx, msg.JobID, msg.ChunkIndex, []Status{StatusPending, StatusProcessing}, *update); err != nil {
			return err
		}
	}
	for _, m := range out {
		if err := o.dispatcher.Dispatch(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// CheckCompletion recomputes the job state from persisted chunk counts.
// It is safe to run any number of times and concurrently.
func (o *Orchestrator) CheckCompletion(ctx context.Context, jobID string) error {
	return o.handleCompletionCheck(ctx, jobID)
}

func (o *Orchestrator) handleCompletionCheck(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return nil
		}
		return err
	}
	if job.Status != StatusProcessing {
		return nil
	}

	counts, err := o.store.CountChunks(ctx, jobID)
	if err != nil {
		return err
	}
	d := decideCompletion(job, counts)
	if !d.Changed {
		return nil
	}

	completed := d.CompletedChunks
	applied, err := o.store.UpdateJob(ctx, jobID, []Status{StatusProcessing}, JobUpdate{
		Status:          d.Status,
		CompletedChunks: &completed,
		ErrorMessage:    d.ErrorMessage,
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	o.publishByID(ctx, jobID)

	switch d.Status {
	case StatusFailed:
		log.Warn("Job %s failed: %s", jobID, d.ErrorMessage)
	case StatusCompleted:
		log.Info("Job %s completed (%d chunks)", jobID, completed)
		return o.dispatcher.Dispatch(ctx, AssembleRequested(jobID))
	}
	return nil
}

func (o *Orchestrator) handleAssemble(ctx context.Context, jobID string) error {
	if o.assembler == nil {
		return nil
	}
	ref, err := o.assembler.Assemble(ctx, jobID)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return nil
		}
		return err
	}
	log.Info("Assembled job %s into %s", jobID, ref)
	o.publishByID(ctx, jobID)
	return nil
}

func (o *Orchestrator) failJob(ctx context.Context, jobID string, from Status, cause error) error {
	o.errHandler.Handle(fmt.Errorf("job %s: %w", jobID, cause))
	ok, err := o.store.UpdateJob(ctx, jobID, []Status{from}, JobUpdate{
		Status:       StatusFailed,
		ErrorMessage: errs.Message(cause),
	})
	if err != nil {
		return err
	}
	if ok {
		o.publishByID(ctx, jobID)
	}
	return nil
}

func (o *Orchestrator) publishByID(ctx context.Context, jobID string) {
	if o.notify == nil {
		return
	}
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		log.Warn("Failed to reload job %s for notification: %v", jobID, err)
		return
	}
	o.notify(job)
}

func (o *Orchestrator) publish(job *TranslationJob) {
	if o.notify != nil {
		o.notify(job)
	}
}

// Decision is the outcome of a completion check.
type Decision struct {
	Changed         bool
	Status          Status
	CompletedChunks int
	ErrorMessage    string
}

// decideCompletion maps a processing job and its chunk counts to the next
// job state. Any failed chunk fails the job.
func decideCompletion(job *TranslationJob, counts ChunkCounts) Decision {
	if job.Status != StatusProcessing {
		return Decision{Status: job.Status, CompletedChunks: job.CompletedChunks}
	}
	completed := counts.Completed
	if completed < job.CompletedChunks {
		completed = job.CompletedChunks
	}

	switch {
	case counts.Failed > 0:
		return Decision{
			Changed:         true,
			Status:          StatusFailed,
			CompletedChunks: completed,
			ErrorMessage:    fmt.Sprintf("%d chunk(s) failed to translate", counts.Failed),
		}
	case job.TotalChunks > 0 && counts.Completed == job.TotalChunks:
		return Decision{Changed: true, Status: StatusCompleted, CompletedChunks: job.TotalChunks}
	default:
		return Decision{
			Changed:         completed != job.CompletedChunks,
			Status:          StatusProcessing,
			CompletedChunks: completed,
		}
	}
}

// decideChunkResult maps a chunk result message to the chunk write and the
// follow-up messages. Results for terminal jobs are dropped; results for
// terminal chunks only trigger a completion check.
func decideChunkResult(job *TranslationJob, chunk *Chunk, msg Message) (*ChunkUpdate, []Message) {
	if job.Status.Terminal() {
		return nil, nil
	}
	check := []Message{JobCompletionCheckRequested(job.ID)}
	if chunk.Status.Terminal() {
		return nil, check
	}
	switch msg.Kind {
	case KindChunkCompleted:
		return &ChunkUpdate{Status: StatusCompleted, TranslatedText: msg.Text}, check
	case KindChunkFailed:
		errMsg := msg.Text
		if errMsg == "" {
			errMsg = "translation failed"
		}
		return &ChunkUpdate{Status: StatusFailed, ErrorMessage: errMsg}, check
	default:
		return nil, nil
	}
}
