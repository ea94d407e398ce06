package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/MimeLyc/book-translator/pkg/log"
)

// Config holds all application configuration.
//
// Environment Variables:
// LLM Configuration:
// - LLM_API_KEY: API key for the chat completions provider (required to translate)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: default model, also the multilingual fallback (default: openai/gpt-4o-mini)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 4000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.2)
// - LLM_TIMEOUT: Request timeout in seconds (default: 60)
// - LLM_SITE_URL / LLM_APP_NAME: optional attribution headers
// - LLM_MAX_RETRIES: retries on rate limits and 5xx answers (default: 2)
// - LLM_RETRY_BACKOFF_MS: first retry delay, doubled per retry (default: 1000)
//
// Models:
// - MODEL_MAP: dedicated models per pair, e.g. "en-es=m1,en-de=m2"
// - MULTILINGUAL_MODEL: fallback model (default: LLM_MODEL)
// - MULTILINGUAL_LANGUAGES: comma separated codes the fallback supports
// - MODEL_MAX_INPUT_CHARS: per-call input bound (default: 512)
//
// Pipeline:
// - CHUNK_SIZE: document chunk size in characters (default: 1000)
// - WORKER_COUNT: queue workers (default: 4)
// - MAX_ATTEMPTS: deliveries per message (default: 3)
// - RETRY_BACKOFF_MS: base redelivery backoff (default: 500)
// - RECONCILE_CRON: reconciler schedule (default: */5 * * * *)
// - DEFAULT_TARGET_LANGUAGE: target used when a book omits one (default: es)
//
// Extraction:
// - EXTRACT_HTTP_TIMEOUT: download timeout in seconds (default: 30)
// - EXTRACT_MAX_PDF_PAGES: page cap (default: 50)
// - EXTRACT_MAX_DOWNLOAD_MB: download cap (default: 64)
//
// Storage and system:
// - STORE_DRIVER: sqlite, postgres or memory (default: sqlite)
// - DATABASE_URL: postgres DSN
// - DATA_DIR: data directory (default: /app/data)
// - ARTIFACT_DIR: artifact directory (default: DATA_DIR/artifacts)
// - GLOSSARY_DIR: per language pair glossaries (default: DATA_DIR/glossaries)
// - LOG_LEVEL: debug, info, warn or error (default: info)
// - LOG_FORMAT: text or json (default: text)
// - HTTP_ADDR: listen address (default: :8080)
type Config struct {
	LLM      LLMConfig      `json:"llm"`
	Models   ModelsConfig   `json:"models"`
	Pipeline PipelineConfig `json:"pipeline"`
	Extract  ExtractConfig  `json:"extract"`
	Store    StoreConfig    `json:"store"`
	System   SystemConfig   `json:"system"`
	HTTP     HTTPConfig     `json:"http"`
}

// LLMConfig holds the configuration for the chat completions client.
type LLMConfig struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`

	MaxRetries   int           `json:"max_retries"`
	RetryBackoff time.Duration `json:"retry_backoff"`
}

func (c LLMConfig) String() string {
	masked := ""
	if c.APIKey != "" {
		masked = "***"
	}
	return fmt.Sprintf("{url=%s model=%s key=%s max_tokens=%d temperature=%.2f timeout=%ds retries=%d}",
		c.APIURL, c.Model, masked, c.MaxTokens, c.Temperature, c.Timeout, c.MaxRetries)
}

type ModelsConfig struct {
	ModelMap              string   `json:"model_map"`
	MultilingualModel     string   `json:"multilingual_model"`
	MultilingualLanguages []string `json:"multilingual_languages"`
	MaxInputChars         int      `json:"max_input_chars"`
}

type PipelineConfig struct {
	ChunkSize             int           `json:"chunk_size"`
	WorkerCount           int           `json:"worker_count"`
	MaxAttempts           int           `json:"max_attempts"`
	RetryBackoff          time.Duration `json:"retry_backoff"`
	ReconcileCron         string        `json:"reconcile_cron"`
	DefaultTargetLanguage string        `json:"default_target_language"`
}

type ExtractConfig struct {
	HTTPTimeout      time.Duration `json:"http_timeout"`
	MaxPDFPages      int           `json:"max_pdf_pages"`
	MaxDownloadBytes int64         `json:"max_download_bytes"`
}

type StoreConfig struct {
	Driver      string `json:"driver"`
	DatabaseURL string `json:"-"`
}

type SystemConfig struct {
	DataDir     string `json:"data_dir"`
	ArtifactDir string `json:"artifact_dir"`
	GlossaryDir string `json:"glossary_dir"`
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Option is a function type for configuring Config
type Option func(*Config)

func WithStoreDriver(driver string) Option {
	return func(c *Config) {
		c.Store.Driver = driver
	}
}

func WithDataDir(dir string) Option {
	return func(c *Config) {
		c.System.DataDir = dir
		c.System.ArtifactDir = ""
		c.System.GlossaryDir = ""
	}
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	model := getEnvString("LLM_MODEL", "openai/gpt-4o-mini")
	config := &Config{
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:       model,
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 4000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
			Timeout:     getEnvInt("LLM_TIMEOUT", 60),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", "book-translator"),

			MaxRetries:   getEnvInt("LLM_MAX_RETRIES", 2),
			RetryBackoff: time.Duration(getEnvInt("LLM_RETRY_BACKOFF_MS", 1000)) * time.Millisecond,
		},
		Models: ModelsConfig{
			ModelMap:              getEnvString("MODEL_MAP", ""),
			MultilingualModel:     getEnvString("MULTILINGUAL_MODEL", model),
			MultilingualLanguages: getEnvList("MULTILINGUAL_LANGUAGES"),
			MaxInputChars:         getEnvInt("MODEL_MAX_INPUT_CHARS", 512),
		},
		Pipeline: PipelineConfig{
			ChunkSize:             getEnvInt("CHUNK_SIZE", 1000),
			WorkerCount:           getEnvInt("WORKER_COUNT", 4),
			MaxAttempts:           getEnvInt("MAX_ATTEMPTS", 3),
			RetryBackoff:          time.Duration(getEnvInt("RETRY_BACKOFF_MS", 500)) * time.Millisecond,
			ReconcileCron:         getEnvString("RECONCILE_CRON", "*/5 * * * *"),
			DefaultTargetLanguage: getEnvString("DEFAULT_TARGET_LANGUAGE", "es"),
		},
		Extract: ExtractConfig{
			HTTPTimeout:      time.Duration(getEnvInt("EXTRACT_HTTP_TIMEOUT", 30)) * time.Second,
			MaxPDFPages:      getEnvInt("EXTRACT_MAX_PDF_PAGES", 50),
			MaxDownloadBytes: int64(getEnvInt("EXTRACT_MAX_DOWNLOAD_MB", 64)) << 20,
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(getEnvString("STORE_DRIVER", StoreSQLite)),
			DatabaseURL: getEnvString("DATABASE_URL", ""),
		},
		System: SystemConfig{
			DataDir:     getEnvString("DATA_DIR", "/app/data"),
			ArtifactDir: getEnvString("ARTIFACT_DIR", ""),
			GlossaryDir: getEnvString("GLOSSARY_DIR", ""),
			LogLevel:    getEnvString("LOG_LEVEL", "info"),
			LogFormat:   getEnvString("LOG_FORMAT", "text"),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: llm=%s store=%s data_dir=%s chunk_size=%d workers=%d",
		config.LLM, config.Store.Driver, config.System.DataDir, config.Pipeline.ChunkSize, config.Pipeline.WorkerCount)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be greater than 0")
	}
	if c.Pipeline.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be greater than 0")
	}
	if c.Pipeline.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_ATTEMPTS must be greater than 0")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must not be negative")
	}
	if _, err := cron.ParseStandard(c.Pipeline.ReconcileCron); err != nil {
		return fmt.Errorf("invalid RECONCILE_CRON: %w", err)
	}
	if _, err := language.Parse(c.Pipeline.DefaultTargetLanguage); err != nil {
		return fmt.Errorf("invalid DEFAULT_TARGET_LANGUAGE: %w", err)
	}
	for _, l := range c.Models.MultilingualLanguages {
		if _, err := language.Parse(l); err != nil {
			return fmt.Errorf("invalid MULTILINGUAL_LANGUAGES entry %q: %w", l, err)
		}
	}
	switch c.Store.Driver {
	case StoreSQLite, StoreMemory:
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	return nil
}

// RequireLLM reports whether the translation backend is configured.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	return nil
}

func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "books.db")
}

func (c *Config) ArtifactDir() string {
	if c.System.ArtifactDir != "" {
		return c.System.ArtifactDir
	}
	return filepath.Join(c.System.DataDir, "artifacts")
}

func (c *Config) GlossaryDir() string {
	if c.System.GlossaryDir != "" {
		return c.System.GlossaryDir
	}
	return filepath.Join(c.System.DataDir, "glossaries")
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	ret := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			ret = append(ret, item)
		}
	}
	return ret
}
