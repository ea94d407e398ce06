package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/MimeLyc/book-translator/pkg/file"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// Bounds for operator supplied pipeline tuning.
const (
	MinChunkSize   = 100
	MaxChunkSize   = 20000
	MaxWorkerCount = 64
	MaxAttemptsCap = 10
	MaxLLMRetries  = 10
)

const redactedKey = "***"

// RuntimeSettings are the values an operator may change through the API
// while the service runs. Zero fields mean "keep the current value", both
// when an update is merged and when the file is applied over the
// environment at startup.
type RuntimeSettings struct {
	LLM      LLMSettings      `json:"llm"`
	Pipeline PipelineSettings `json:"pipeline"`
}

type LLMSettings struct {
	APIURL     string `json:"api_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	Model      string `json:"model,omitempty"`
	MaxRetries *int   `json:"max_retries,omitempty"`
}

type PipelineSettings struct {
	ChunkSize             int    `json:"chunk_size,omitempty"`
	WorkerCount           int    `json:"worker_count,omitempty"`
	MaxAttempts           int    `json:"max_attempts,omitempty"`
	ReconcileCron         string `json:"reconcile_cron,omitempty"`
	DefaultTargetLanguage string `json:"default_target_language,omitempty"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

// Validate checks every field that is set and reports all problems at once.
func (s RuntimeSettings) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if s.LLM.MaxRetries != nil && (*s.LLM.MaxRetries < 0 || *s.LLM.MaxRetries > MaxLLMRetries) {
		add("llm.max_retries must be between 0 and %d", MaxLLMRetries)
	}

	p := s.Pipeline
	if p.ChunkSize != 0 && (p.ChunkSize < MinChunkSize || p.ChunkSize > MaxChunkSize) {
		add("pipeline.chunk_size must be between %d and %d", MinChunkSize, MaxChunkSize)
	}
	if p.WorkerCount < 0 || p.WorkerCount > MaxWorkerCount {
		add("pipeline.worker_count must be between 1 and %d", MaxWorkerCount)
	}
	if p.MaxAttempts < 0 || p.MaxAttempts > MaxAttemptsCap {
		add("pipeline.max_attempts must be between 1 and %d", MaxAttemptsCap)
	}
	if p.ReconcileCron != "" {
		if _, err := cron.ParseStandard(p.ReconcileCron); err != nil {
			add("invalid pipeline.reconcile_cron: %w", err)
		}
	}
	if p.DefaultTargetLanguage != "" {
		if _, err := language.Parse(p.DefaultTargetLanguage); err != nil {
			add("invalid pipeline.default_target_language: %w", err)
		}
	}
	return errors.Join(problems...)
}

// Redacted returns a copy safe to send to clients.
func (s RuntimeSettings) Redacted() RuntimeSettings {
	if s.LLM.APIKey != "" {
		s.LLM.APIKey = redactedKey
	}
	return s
}

// Merge returns base with every field set in s applied over it. The
// redacted key placeholder counts as unset so clients can send back what
// they read.
func (s RuntimeSettings) Merge(base RuntimeSettings) RuntimeSettings {
	out := base
	setString(&out.LLM.APIURL, s.LLM.APIURL)
	if s.LLM.APIKey != redactedKey {
		setString(&out.LLM.APIKey, s.LLM.APIKey)
	}
	setString(&out.LLM.Model, s.LLM.Model)
	if s.LLM.MaxRetries != nil {
		n := *s.LLM.MaxRetries
		out.LLM.MaxRetries = &n
	}
	setInt(&out.Pipeline.ChunkSize, s.Pipeline.ChunkSize)
	setInt(&out.Pipeline.WorkerCount, s.Pipeline.WorkerCount)
	setInt(&out.Pipeline.MaxAttempts, s.Pipeline.MaxAttempts)
	setString(&out.Pipeline.ReconcileCron, s.Pipeline.ReconcileCron)
	setString(&out.Pipeline.DefaultTargetLanguage, s.Pipeline.DefaultTargetLanguage)
	return out
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	retries := c.LLM.MaxRetries
	return RuntimeSettings{
		LLM: LLMSettings{
			APIURL:     c.LLM.APIURL,
			APIKey:     c.LLM.APIKey,
			Model:      c.LLM.Model,
			MaxRetries: &retries,
		},
		Pipeline: PipelineSettings{
			ChunkSize:             c.Pipeline.ChunkSize,
			WorkerCount:           c.Pipeline.WorkerCount,
			MaxAttempts:           c.Pipeline.MaxAttempts,
			ReconcileCron:         c.Pipeline.ReconcileCron,
			DefaultTargetLanguage: c.Pipeline.DefaultTargetLanguage,
		},
	}
}

// WithRuntimeSettings applies the set fields of settings. A model change
// also moves the multilingual fallback when it was following LLM_MODEL.
func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		next := settings.Merge(c.RuntimeSettings())
		if next.LLM.Model != c.LLM.Model && c.Models.MultilingualModel == c.LLM.Model {
			c.Models.MultilingualModel = next.LLM.Model
		}
		c.LLM.APIURL = next.LLM.APIURL
		c.LLM.APIKey = next.LLM.APIKey
		c.LLM.Model = next.LLM.Model
		c.LLM.MaxRetries = *next.LLM.MaxRetries
		c.Pipeline.ChunkSize = next.Pipeline.ChunkSize
		c.Pipeline.WorkerCount = next.Pipeline.WorkerCount
		c.Pipeline.MaxAttempts = next.Pipeline.MaxAttempts
		c.Pipeline.ReconcileCron = next.Pipeline.ReconcileCron
		c.Pipeline.DefaultTargetLanguage = next.Pipeline.DefaultTargetLanguage
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file %s: %w", path, err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return file.WriteAtomic(path, append(content, '\n'), 0o600)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// UpdateRuntimeSettings merges next over the current settings, validates the
// result and persists it.
func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := next.Merge(s.current)
	if err := merged.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if err := WriteRuntimeSettingsFile(s.path, merged); err != nil {
		return RuntimeSettings{}, err
	}
	s.current = merged
	return merged, nil
}
