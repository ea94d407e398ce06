package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/book-translator/internal/chunker"
	"github.com/MimeLyc/book-translator/internal/config"
	"github.com/MimeLyc/book-translator/internal/extract"
	"github.com/MimeLyc/book-translator/internal/httpapi"
	"github.com/MimeLyc/book-translator/internal/jobs"
	"github.com/MimeLyc/book-translator/internal/service"
	"github.com/MimeLyc/book-translator/pkg/file"
	"github.com/MimeLyc/book-translator/pkg/log"
)

var (
	version = "dev"

	envFile   string
	logLevel  string
	logFormat string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "book-translator",
		Short: "Translate books into another language, chunk by chunk",
		Long: `book-translator extracts text from pdf, epub, docx, html, markdown and
plain text books, splits it into chunks, translates the chunks through a
chat completions model and assembles the result.

Commands:
  serve       Run the HTTP API with the background workers and reconciler
  translate   Translate one book and print or write the result
  extract     Print the extracted text of a book
  chunk       Print the chunks a book would be split into`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			level := logLevel
			if level == "" {
				level = os.Getenv("LOG_LEVEL")
			}
			format := logFormat
			if format == "" {
				format = os.Getenv("LOG_FORMAT")
			}
			log.InitLogger(log.ParseLevel(level),
				log.WithOutput(os.Stderr),
				log.WithFormat(log.ParseFormat(format)),
				log.WithAttrs(slog.String("app", "book-translator"), slog.String("version", version)),
			)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading configuration")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: LOG_LEVEL or info)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (default: LOG_FORMAT or text)")

	root.AddCommand(
		newServeCmd(),
		newTranslateCmd(),
		newExtractCmd(),
		newChunkCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadConfig reads the environment and applies the runtime settings file
// when one exists.
func loadConfig(opts ...config.Option) (*config.Config, error) {
	path := config.RuntimeSettingsFilePath()
	settings, err := config.LoadRuntimeSettingsFile(path)
	switch {
	case err == nil:
		log.Info("Loaded runtime settings from %s", path)
		opts = append([]config.Option{config.WithRuntimeSettings(settings)}, opts...)
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}
	return config.NewFromEnv(opts...)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "book-translator version %s\n", version)
		},
	}
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

// reconcileScheduler binds the reconciler to a cron engine.
type reconcileScheduler struct {
	reconciler *service.Reconciler
	cron       *cron.Cron
}

func (s reconcileScheduler) Schedule(ctx context.Context) error {
	if report, err := s.reconciler.Recover(ctx); err != nil {
		log.Warn("Startup recovery failed: %v", err)
	} else {
		log.Info("Startup recovery dispatched prepares=%d chunks=%d checks=%d assemblies=%d",
			report.Prepares, report.Chunks, report.Checks, report.Assemblies)
	}
	return s.reconciler.Schedule(ctx, s.cron)
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the queue workers and the reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if err := cfg.RequireLLM(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hub := httpapi.NewHub()
			app, err := service.New(ctx, cfg, service.WithNotifier(hub.Publish))
			if err != nil {
				return err
			}
			defer app.Close()
			app.Start()

			settings, err := config.NewRuntimeSettingsStore(config.RuntimeSettingsFilePath(), cfg.RuntimeSettings())
			if err != nil {
				return err
			}
			srv := httpapi.NewServer(app, hub,
				httpapi.WithRuntimeSettingsStore(settings),
				httpapi.WithRuntimeSettingsApplier(app.ApplyRuntimeSettings),
			)

			cronEngine := cron.New()
			return runWithComponents(ctx, cfg, reconcileScheduler{reconciler: app.Reconciler, cron: cronEngine}, cronEngine, srv)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: HTTP_ADDR or :8080)")
	return cmd
}

func runWithComponents(
	ctx context.Context,
	cfg *config.Config,
	sched scheduler,
	cronEngine cronEngine,
	httpSrv httpServer,
) error {
	if err := sched.Schedule(ctx); err != nil {
		return err
	}
	cronEngine.Start()
	defer cronEngine.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		errCh <- httpSrv.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

type translateOptions struct {
	title    string
	author   string
	from     string
	to       string
	format   string
	output   string
	poll     time.Duration
	showJSON bool
}

func newTranslateCmd() *cobra.Command {
	opts := translateOptions{poll: 200 * time.Millisecond}
	var driver string
	cmd := &cobra.Command{
		Use:   "translate <file-or-url>",
		Short: "Translate one book and print or write the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfgOpts []config.Option
			if driver != "" {
				cfgOpts = append(cfgOpts, config.WithStoreDriver(driver))
			}
			cfg, err := loadConfig(cfgOpts...)
			if err != nil {
				return err
			}
			if err := cfg.RequireLLM(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := service.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			app.Start()

			return runTranslate(ctx, app, args[0], opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.title, "title", "", "Book title (default: the file or URL name)")
	cmd.Flags().StringVar(&opts.author, "author", "", "Book author")
	cmd.Flags().StringVar(&opts.from, "from", jobs.AutoLanguage, "Source language code, or auto to detect")
	cmd.Flags().StringVar(&opts.to, "to", "", "Target language code (default: DEFAULT_TARGET_LANGUAGE)")
	cmd.Flags().StringVar(&opts.format, "format", "", "Force the input format: pdf, epub, txt, docx, html, md")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the translation to this file instead of stdout")
	cmd.Flags().BoolVar(&opts.showJSON, "json", false, "Print the finished job as JSON instead of the text")
	cmd.Flags().StringVar(&driver, "store", "", "Store driver override: sqlite, postgres or memory")
	return cmd
}

func runTranslate(ctx context.Context, app *service.App, source string, opts translateOptions, out io.Writer) error {
	req := jobs.BookRequest{
		Title:          opts.title,
		Author:         opts.author,
		SourceLanguage: opts.from,
		TargetLanguage: opts.to,
		Format:         opts.format,
	}
	if isURL(source) {
		req.URL = source
	} else {
		req.FilePath = source
	}
	if req.Title == "" {
		req.Title = titleFromSource(source)
	}

	book, err := app.CreateBook(ctx, req)
	if err != nil {
		return err
	}
	job, err := app.Orchestrator.CreateJob(ctx, book.ID, "")
	if err != nil {
		return err
	}

	job, err = waitForJob(ctx, app.Store, job.ID, opts.poll)
	if err != nil {
		return err
	}
	if job.Status == jobs.StatusFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.ErrorMessage)
	}

	if _, err := app.Assembler.Assemble(ctx, job.ID); err != nil {
		log.Warn("Assembly of job %s failed, serving chunks: %v", job.ID, err)
	}
	if opts.showJSON {
		if job, err = app.Store.GetJob(ctx, job.ID); err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}

	content, err := app.Pages.Content(ctx, job.ID)
	if err != nil {
		return err
	}
	if opts.output != "" {
		path := outputPath(opts.output, source, job.TargetLanguage)
		if err := file.WriteAtomic(path, []byte(content+"\n"), 0o644); err != nil {
			return err
		}
		log.Info("Wrote translation of %q to %s", book.Title, path)
		return nil
	}
	_, err = fmt.Fprintln(out, content)
	return err
}

// outputPath resolves -o. A directory gets <source-name>.<lang>.txt inside it.
func outputPath(output, source, lang string) string {
	info, err := os.Stat(output)
	if err != nil || !info.IsDir() {
		return output
	}
	name := titleFromSource(source)
	if !isURL(source) {
		name = filepath.Base(source)
	}
	return filepath.Join(output, file.TranslatedName(name, lang))
}

func waitForJob(ctx context.Context, store jobs.Store, jobID string, poll time.Duration) (*jobs.TranslationJob, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	lastCompleted := -1
	for {
		job, err := store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		if job.TotalChunks > 0 && job.CompletedChunks != lastCompleted {
			lastCompleted = job.CompletedChunks
			log.Info("Job %s: %d/%d chunks (%.0f%%)", job.ID, job.CompletedChunks, job.TotalChunks, job.Progress())
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ---------------------------------------------------------------------------
// extract / chunk
// ---------------------------------------------------------------------------

func sourceFor(arg, format string) (extract.Source, error) {
	src := extract.Source{}
	if isURL(arg) {
		src.URL = arg
	} else {
		src.Path = arg
	}
	if format != "" {
		f, err := extract.ParseFormat(format)
		if err != nil {
			return src, err
		}
		src.Format = f
	}
	return src, nil
}

func extractText(ctx context.Context, arg, format string) (string, error) {
	src, err := sourceFor(arg, format)
	if err != nil {
		return "", err
	}
	cfg, err := loadConfig(config.WithStoreDriver(config.StoreMemory))
	if err != nil {
		return "", err
	}
	return service.NewExtractor(cfg).Extract(ctx, src)
}

func newExtractCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "extract <file-or-url>",
		Short: "Print the extracted text of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := extractText(cmd.Context(), args[0], format)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Force the input format: pdf, epub, txt, docx, html, md")
	return cmd
}

type chunkInfo struct {
	Index int    `json:"chunk_index"`
	Chars int    `json:"chars"`
	Text  string `json:"text"`
}

func newChunkCmd() *cobra.Command {
	var (
		format   string
		size     int
		showJSON bool
	)
	cmd := &cobra.Command{
		Use:   "chunk <file-or-url>",
		Short: "Print the chunks a book would be split into",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := extractText(cmd.Context(), args[0], format)
			if err != nil {
				return err
			}
			if size <= 0 {
				size = jobs.DefaultChunkSize
			}

			pieces := chunker.Split(text, size)
			infos := make([]chunkInfo, 0, len(pieces))
			for i, p := range pieces {
				infos = append(infos, chunkInfo{Index: i, Chars: len([]rune(p)), Text: p})
			}

			out := cmd.OutOrStdout()
			if showJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			for _, info := range infos {
				fmt.Fprintf(out, "--- chunk %d (%d chars) ---\n%s\n", info.Index, info.Chars, info.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Force the input format: pdf, epub, txt, docx, html, md")
	cmd.Flags().IntVar(&size, "size", 0, "Maximum chunk size in characters (default: CHUNK_SIZE or 1000)")
	cmd.Flags().BoolVar(&showJSON, "json", false, "Print chunks as JSON")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if size == 0 {
			if cfg, err := loadConfig(config.WithStoreDriver(config.StoreMemory)); err == nil {
				size = cfg.Pipeline.ChunkSize
			}
		}
	}
	return cmd
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func titleFromSource(s string) string {
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "."); i > 0 {
		s = s[:i]
	}
	if s == "" {
		return "Untitled"
	}
	return s
}
