package log

import (
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  LogLevel
	}{
		{name: "debug lower", input: "debug", want: LevelDebug},
		{name: "info upper", input: "INFO", want: LevelInfo},
		{name: "warn mixed", input: "WaRn", want: LevelWarn},
		{name: "warning alias", input: "warning", want: LevelWarn},
		{name: "error", input: "error", want: LevelError},
		{name: "fatal", input: "fatal", want: LevelFatal},
		{name: "trim spaces", input: "  debug  ", want: LevelDebug},
		{name: "unknown fallback", input: "verbose", want: LevelInfo},
		{name: "empty fallback", input: "", want: LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatJSON, ParseFormat("JSON"))
	assert.Equal(t, FormatText, ParseFormat("text"))
	assert.Equal(t, FormatText, ParseFormat("logfmt"))
}

func TestLogger_TextFiltersBelowLevel(t *testing.T) {
	var buf strings.Builder
	l := NewLogger(LevelWarn, WithOutput(&buf))

	l.Info("hidden %d", 1)
	l.Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN]")
	assert.Contains(t, out, "[logger_level_test.go:")
	assert.Contains(t, out, "shown 2")
}

func TestLogger_JSON(t *testing.T) {
	var buf strings.Builder
	l := NewLogger(LevelDebug, WithOutput(&buf), WithFormat(FormatJSON), WithAttrs(slog.String("version", "dev")))

	l.Debug("chunk %d translated", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(buf.String()), &entry))
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "chunk 3 translated", entry["msg"])
	assert.Equal(t, "dev", entry["version"])
	assert.Contains(t, entry["caller"], "logger_level_test.go:")
	assert.Contains(t, entry, "time")
}

func TestLogger_JSONFiltersBelowLevel(t *testing.T) {
	var buf strings.Builder
	l := NewLogger(LevelError, WithOutput(&buf), WithFormat(FormatJSON))
	l.Warn("ignored")
	assert.Empty(t, buf.String())
}

func TestPackageFuncsUseGlobalLogger(t *testing.T) {
	prev := globalLogger
	t.Cleanup(func() { globalLogger = prev })

	var buf strings.Builder
	InitLogger(LevelInfo, WithOutput(&buf))
	Info("job %s queued", "j1")
	Debug("not shown")

	assert.Contains(t, buf.String(), "[INFO]")
	assert.Contains(t, buf.String(), "[logger_level_test.go:")
	assert.Contains(t, buf.String(), "job j1 queued")
	assert.NotContains(t, buf.String(), "not shown")
}
