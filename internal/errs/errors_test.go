package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_FormatIncludesContextAndCause(t *testing.T) {
	err := Wrap(errors.New("disk full"), KindAssembly, "write artifact").
		WithContext("job_id", "j1").
		WithContext("attempt", 2)

	msg := err.Error()
	assert.Contains(t, msg, "[Assembly] write artifact")
	assert.Contains(t, msg, "context: attempt=2, job_id=j1")
	assert.Contains(t, msg, "cause: disk full")
}

func TestIs_MatchesThroughWrapping(t *testing.T) {
	base := New(KindTranslation, "model failed").WithInput("hello")
	wrapped := fmt.Errorf("chunk 3: %w", base)

	assert.True(t, Is(wrapped, KindTranslation))
	assert.False(t, Is(wrapped, KindExtraction))
	assert.False(t, Is(errors.New("plain"), KindTranslation))
	assert.Equal(t, KindTranslation, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))

	var e *Error
	require.True(t, errors.As(wrapped, &e))
	assert.Equal(t, "hello", e.Input)
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "", Message(nil))
	assert.Equal(t, "bad pdf", Message(New(KindExtraction, "bad pdf")))
	assert.Equal(t, "read file: EOF", Message(Wrap(errors.New("EOF"), KindExtraction, "read file")))
	assert.Equal(t, "plain", Message(errors.New("plain")))
}

func TestDefaultHandler(t *testing.T) {
	h := NewDefaultHandler()
	assert.True(t, h.Handle(New(KindConfig, "missing key")))
	assert.False(t, h.Handle(errors.New("plain")))

	for _, kind := range []Kind{
		KindUnsupportedFormat, KindExtraction, KindUnsupportedLanguagePair,
		KindTranslation, KindAssembly, KindNotFound, KindValidation, KindConfig, KindUnknown,
	} {
		assert.NotEmpty(t, h.GetAdvice(New(kind, "x")), kind.String())
	}
}
