package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func validSettings() RuntimeSettings {
	return RuntimeSettings{
		LLM: LLMSettings{
			APIURL:     "https://example.test/v1",
			APIKey:     "ak-test",
			Model:      "model-test",
			MaxRetries: intPtr(2),
		},
		Pipeline: PipelineSettings{
			ChunkSize:             1200,
			WorkerCount:           4,
			MaxAttempts:           3,
			ReconcileCron:         "*/5 * * * *",
			DefaultTargetLanguage: "es",
		},
	}
}

func TestRuntimeSettings_Validate(t *testing.T) {
	require.NoError(t, validSettings().Validate())
	require.NoError(t, RuntimeSettings{}.Validate())

	tests := []struct {
		name   string
		mutate func(*RuntimeSettings)
		want   string
	}{
		{"chunk too small", func(s *RuntimeSettings) { s.Pipeline.ChunkSize = 10 }, "pipeline.chunk_size"},
		{"chunk too large", func(s *RuntimeSettings) { s.Pipeline.ChunkSize = MaxChunkSize + 1 }, "pipeline.chunk_size"},
		{"negative workers", func(s *RuntimeSettings) { s.Pipeline.WorkerCount = -1 }, "pipeline.worker_count"},
		{"too many workers", func(s *RuntimeSettings) { s.Pipeline.WorkerCount = MaxWorkerCount + 1 }, "pipeline.worker_count"},
		{"too many attempts", func(s *RuntimeSettings) { s.Pipeline.MaxAttempts = MaxAttemptsCap + 1 }, "pipeline.max_attempts"},
		{"bad cron", func(s *RuntimeSettings) { s.Pipeline.ReconcileCron = "bad cron" }, "pipeline.reconcile_cron"},
		{"bad language", func(s *RuntimeSettings) { s.Pipeline.DefaultTargetLanguage = "not a language!" }, "pipeline.default_target_language"},
		{"negative retries", func(s *RuntimeSettings) { s.LLM.MaxRetries = intPtr(-1) }, "llm.max_retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRuntimeSettings_ValidateReportsEveryProblem(t *testing.T) {
	s := validSettings()
	s.Pipeline.ChunkSize = 1
	s.Pipeline.WorkerCount = 1000
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.chunk_size")
	assert.Contains(t, err.Error(), "pipeline.worker_count")
}

func TestRuntimeSettings_Redacted(t *testing.T) {
	s := validSettings()
	assert.Equal(t, "***", s.Redacted().LLM.APIKey)
	assert.Equal(t, "ak-test", s.LLM.APIKey)
	assert.Equal(t, "", RuntimeSettings{}.Redacted().LLM.APIKey)
}

func TestRuntimeSettings_MergeKeepsUnsetFields(t *testing.T) {
	base := validSettings()

	got := RuntimeSettings{Pipeline: PipelineSettings{ChunkSize: 500}}.Merge(base)
	assert.Equal(t, 500, got.Pipeline.ChunkSize)
	assert.Equal(t, 4, got.Pipeline.WorkerCount)
	assert.Equal(t, "ak-test", got.LLM.APIKey)
	assert.Equal(t, 2, *got.LLM.MaxRetries)

	got = base.Redacted().Merge(base)
	assert.Equal(t, "ak-test", got.LLM.APIKey)

	got = RuntimeSettings{LLM: LLMSettings{MaxRetries: intPtr(0)}}.Merge(base)
	assert.Equal(t, 0, *got.LLM.MaxRetries)
	assert.Equal(t, 2, *base.LLM.MaxRetries)
}

func TestRuntimeSettingsFile_RoundTrip(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "settings", "runtime.json")
	input := validSettings()

	require.NoError(t, WriteRuntimeSettingsFile(filePath, input))

	got, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, input, got)

	info, err := os.Stat(filePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadRuntimeSettingsFile_RejectsInvalidValues(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(filePath, []byte(`{"pipeline":{"chunk_size":5}}`), 0o600))

	_, err := LoadRuntimeSettingsFile(filePath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.chunk_size")
}

func TestWithRuntimeSettings_OverridesConfig(t *testing.T) {
	t.Setenv("LLM_API_KEY", "env-key")
	t.Setenv("LLM_API_URL", "https://env.example/v1")
	t.Setenv("LLM_MODEL", "env-model")
	t.Setenv("MULTILINGUAL_MODEL", "")
	t.Setenv("RECONCILE_CRON", "0 1 * * *")
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("WORKER_COUNT", "")
	t.Setenv("MAX_ATTEMPTS", "")

	override := RuntimeSettings{
		LLM: LLMSettings{
			APIURL:     "https://file.example/v1",
			APIKey:     "file-key",
			Model:      "file-model",
			MaxRetries: intPtr(5),
		},
		Pipeline: PipelineSettings{
			ChunkSize:             2000,
			WorkerCount:           8,
			MaxAttempts:           5,
			ReconcileCron:         "*/30 * * * *",
			DefaultTargetLanguage: "ja",
		},
	}

	cfg, err := NewFromEnv(WithRuntimeSettings(override))
	require.NoError(t, err)
	assert.Equal(t, "https://file.example/v1", cfg.LLM.APIURL)
	assert.Equal(t, "file-key", cfg.LLM.APIKey)
	assert.Equal(t, "file-model", cfg.LLM.Model)
	assert.Equal(t, "file-model", cfg.Models.MultilingualModel)
	assert.Equal(t, 5, cfg.LLM.MaxRetries)
	assert.Equal(t, 2000, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 8, cfg.Pipeline.WorkerCount)
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, "*/30 * * * *", cfg.Pipeline.ReconcileCron)
	assert.Equal(t, "ja", cfg.Pipeline.DefaultTargetLanguage)
	assert.Equal(t, override, cfg.RuntimeSettings())
}

func TestWithRuntimeSettings_PartialFileKeepsEnvironment(t *testing.T) {
	t.Setenv("LLM_API_KEY", "env-key")
	t.Setenv("CHUNK_SIZE", "700")
	t.Setenv("WORKER_COUNT", "3")

	cfg, err := NewFromEnv(WithRuntimeSettings(RuntimeSettings{
		Pipeline: PipelineSettings{WorkerCount: 6},
	}))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.LLM.APIKey)
	assert.Equal(t, 700, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 6, cfg.Pipeline.WorkerCount)
}

func TestRuntimeSettingsStore_UpdatePersistsMergedFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "runtime-settings.json")
	store, err := NewRuntimeSettingsStore(filePath, validSettings())
	require.NoError(t, err)

	got, err := store.UpdateRuntimeSettings(RuntimeSettings{
		LLM:      LLMSettings{Model: "new-model"},
		Pipeline: PipelineSettings{ChunkSize: 800, WorkerCount: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "new-model", got.LLM.Model)
	assert.Equal(t, "ak-test", got.LLM.APIKey)
	assert.Equal(t, 800, got.Pipeline.ChunkSize)
	assert.Equal(t, 2, got.Pipeline.WorkerCount)
	assert.Equal(t, 3, got.Pipeline.MaxAttempts)

	loaded, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, got, loaded)
}

func TestRuntimeSettingsStore_RejectedUpdateKeepsCurrent(t *testing.T) {
	store, err := NewRuntimeSettingsStore(filepath.Join(t.TempDir(), "s.json"), validSettings())
	require.NoError(t, err)

	next := validSettings().Redacted()
	next.LLM.Model = "other"
	got, err := store.UpdateRuntimeSettings(next)
	require.NoError(t, err)
	assert.Equal(t, "ak-test", got.LLM.APIKey)
	assert.Equal(t, "other", got.LLM.Model)

	_, err = store.UpdateRuntimeSettings(RuntimeSettings{Pipeline: PipelineSettings{ChunkSize: 1}})
	require.Error(t, err)
	cur, _ := store.GetRuntimeSettings()
	assert.Equal(t, "other", cur.LLM.Model)
	assert.Equal(t, 1200, cur.Pipeline.ChunkSize)
}
