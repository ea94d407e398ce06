package service

import (
	"context"
	"fmt"

	"github.com/MimeLyc/book-translator/internal/assembler"
	"github.com/MimeLyc/book-translator/internal/config"
	"github.com/MimeLyc/book-translator/internal/errs"
	"github.com/MimeLyc/book-translator/internal/extract"
	"github.com/MimeLyc/book-translator/internal/glossary"
	"github.com/MimeLyc/book-translator/internal/jobs"
	"github.com/MimeLyc/book-translator/internal/llm"
	"github.com/MimeLyc/book-translator/internal/persistence"
	"github.com/MimeLyc/book-translator/internal/translator"
	"github.com/MimeLyc/book-translator/pkg/log"
)

// App wires the pipeline components together. Fields are exported for the
// HTTP layer and the CLI.
type App struct {
	Config       *config.Config
	Store        jobs.Store
	Extractor    *extract.Extractor
	Engine       *translator.Engine
	Orchestrator *jobs.Orchestrator
	Queue        *jobs.Queue
	Assembler    *assembler.Assembler
	Pages        *assembler.Pages
	Reconciler   *Reconciler
	Glossaries   *glossary.Dir

	loader     *translator.LLMLoader
	closeStore func() error
}

type options struct {
	store      jobs.Store
	translator jobs.Translator
	artifacts  assembler.ArtifactStore
	notifiers  []jobs.Notifier
}

type Option func(*options)

// WithStore uses store instead of opening the configured driver.
func WithStore(store jobs.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithTranslator bypasses the model registry.
func WithTranslator(t jobs.Translator) Option {
	return func(o *options) {
		o.translator = t
	}
}

func WithArtifactStore(a assembler.ArtifactStore) Option {
	return func(o *options) {
		o.artifacts = a
	}
}

// WithNotifier registers a callback for job snapshots. May be repeated.
func WithNotifier(fn jobs.Notifier) Option {
	return func(o *options) {
		if fn != nil {
			o.notifiers = append(o.notifiers, fn)
		}
	}
}

// New builds the application. Workers are not started until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	app := &App{
		Config:     cfg,
		closeStore: func() error { return nil },
	}

	if o.store != nil {
		app.Store = o.store
	} else {
		store, closeFn, err := OpenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		app.Store = store
		app.closeStore = closeFn
	}

	artifacts := o.artifacts
	if artifacts == nil {
		fs, err := assembler.NewFileArtifactStore(cfg.ArtifactDir())
		if err != nil {
			_ = app.closeStore()
			return nil, fmt.Errorf("open artifact store: %w", err)
		}
		artifacts = fs
	}

	app.Extractor = NewExtractor(cfg)
	app.Glossaries = glossary.NewDir(cfg.GlossaryDir())

	var tr jobs.Translator
	if o.translator != nil {
		tr = o.translator
	} else {
		engine, loader, err := NewEngine(cfg, app.Glossaries)
		if err != nil {
			_ = app.closeStore()
			return nil, err
		}
		app.Engine = engine
		app.loader = loader
		tr = engine
	}

	app.Assembler = assembler.New(app.Store, artifacts)
	app.Pages = assembler.NewPages(app.Store, artifacts)
	app.Queue = jobs.NewQueue(cfg.Pipeline.WorkerCount,
		jobs.WithMaxAttempts(cfg.Pipeline.MaxAttempts),
		jobs.WithBackoff(cfg.Pipeline.RetryBackoff),
	)

	notifiers := o.notifiers
	app.Orchestrator = jobs.NewOrchestrator(app.Store, app.Extractor, tr, app.Queue,
		jobs.WithChunkSize(cfg.Pipeline.ChunkSize),
		jobs.WithDetector(translator.DetectLanguage),
		jobs.WithAssembler(app.Assembler),
		jobs.WithErrorHandler(errs.NewDefaultHandler()),
		jobs.WithNotifier(func(job *jobs.TranslationJob) {
			for _, fn := range notifiers {
				fn(job)
			}
		}),
	)
	app.Reconciler = NewReconciler(app.Store, app.Queue, cfg.Pipeline.ReconcileCron)
	return app, nil
}

// Start launches the queue workers.
func (a *App) Start() {
	a.Queue.Start(a.Orchestrator.Handle)
}

// Close stops the workers and releases the store.
func (a *App) Close() error {
	a.Queue.Stop()
	return a.closeStore()
}

// CreateBook validates req and persists the book. An empty target language
// falls back to the configured default.
func (a *App) CreateBook(ctx context.Context, req jobs.BookRequest) (*jobs.Book, error) {
	if req.TargetLanguage == "" {
		req.TargetLanguage = a.Config.Pipeline.DefaultTargetLanguage
	}
	book, err := jobs.NewBook(req)
	if err != nil {
		return nil, err
	}
	if err := a.Store.CreateBook(ctx, book); err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}
	log.Info("Created book %s %q (%s, %s -> %s)", book.ID, book.Title, book.Format, book.SourceLanguage, book.TargetLanguage)
	return book, nil
}

// RequestAssembly re-dispatches assembly for a completed job.
func (a *App) RequestAssembly(ctx context.Context, jobID string) error {
	job, err := a.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != jobs.StatusCompleted {
		return errs.Newf(errs.KindValidation, "job %s is %s, not completed", jobID, job.Status)
	}
	return a.Queue.Dispatch(ctx, jobs.AssembleRequested(jobID))
}

// ApplyRuntimeSettings switches the LLM endpoint and pipeline tuning
// without a restart. Chunk size only affects jobs prepared afterwards.
func (a *App) ApplyRuntimeSettings(next config.RuntimeSettings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	merged := next.Merge(a.Config.RuntimeSettings())
	if err := a.Reconciler.Reschedule(merged.Pipeline.ReconcileCron); err != nil {
		return err
	}

	config.WithRuntimeSettings(merged)(a.Config)
	if a.loader != nil {
		a.loader.SetBase(llmConfig(a.Config))
		a.Engine.ResetModels()
	}
	p := a.Config.Pipeline
	a.Orchestrator.SetChunkSize(p.ChunkSize)
	a.Queue.SetMaxAttempts(p.MaxAttempts)
	a.Queue.Resize(p.WorkerCount)
	log.Info("Applied runtime settings: llm=%s reconcile=%s target=%s chunk_size=%d workers=%d attempts=%d",
		a.Config.LLM, p.ReconcileCron, p.DefaultTargetLanguage, p.ChunkSize, p.WorkerCount, p.MaxAttempts)
	return nil
}

// OpenStore opens the store selected by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg *config.Config) (jobs.Store, func() error, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		log.Warn("Using in-memory store; jobs are lost on restart")
		return jobs.NewMemoryStore(), func() error { return nil }, nil
	case config.StorePostgres:
		store, err := persistence.NewPostgresStore(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		store, err := persistence.NewSQLiteStore(cfg.DBPath())
		if err != nil {
			return nil, nil, err
		}
		log.Info("Opened sqlite store at %s", cfg.DBPath())
		return store, store.Close, nil
	}
}

func NewExtractor(cfg *config.Config) *extract.Extractor {
	return extract.New(
		extract.WithHTTPTimeout(cfg.Extract.HTTPTimeout),
		extract.WithMaxPDFPages(cfg.Extract.MaxPDFPages),
		extract.WithMaxDownloadBytes(cfg.Extract.MaxDownloadBytes),
		extract.WithUserAgent(cfg.LLM.AppName),
	)
}

// NewEngine builds the registry from MODEL_MAP and the multilingual
// settings, backed by chat-completion models.
func NewEngine(cfg *config.Config, glossaries translator.GlossarySource) (*translator.Engine, *translator.LLMLoader, error) {
	registry := translator.NewRegistry()
	dedicated, err := translator.ParseModelMap(cfg.Models.ModelMap)
	if err != nil {
		return nil, nil, errs.Wrap(err, errs.KindConfig, "invalid MODEL_MAP")
	}
	for pair, model := range dedicated {
		registry.Register(pair, model)
	}

	languages := cfg.Models.MultilingualLanguages
	if len(languages) == 0 {
		languages = translator.DefaultMultilingualLanguages
	}
	registry.SetMultilingual(cfg.Models.MultilingualModel, languages)

	loader := translator.NewLLMLoader(llmConfig(cfg), cfg.Models.MaxInputChars)
	engine := translator.NewEngine(registry, loader,
		translator.WithMaxInputChars(cfg.Models.MaxInputChars),
		translator.WithGlossary(glossaries),
	)
	return engine, loader, nil
}

func llmConfig(cfg *config.Config) llm.Config {
	return llm.Config{
		APIKey:      cfg.LLM.APIKey,
		APIURL:      cfg.LLM.APIURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		SiteURL:     cfg.LLM.SiteURL,
		AppName:     cfg.LLM.AppName,

		MaxRetries:   cfg.LLM.MaxRetries,
		RetryBackoff: cfg.LLM.RetryBackoff,
	}
}
