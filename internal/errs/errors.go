package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/book-translator/pkg/log"
)

type Kind int

const (
	KindUnsupportedFormat Kind = iota
	KindExtraction
	KindUnsupportedLanguagePair
	KindTranslation
	KindAssembly
	KindNotFound
	KindValidation
	KindConfig
	KindUnknown
)

// Error is the typed error carried across the pipeline. Job and chunk
// error_message fields are filled from Message.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
	// Input holds the text that was being processed when the error occurred.
	// Translation failures keep the original chunk text here.
	Input string
}

func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

func Wrap(err error, kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
		Cause:   err,
	}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *Error) WithInput(input string) *Error {
	e.Input = input
	return e
}

func (k Kind) String() string {
	switch k {
	case KindUnsupportedFormat:
		return "UnsupportedFormat"
	case KindExtraction:
		return "Extraction"
	case KindUnsupportedLanguagePair:
		return "UnsupportedLanguagePair"
	case KindTranslation:
		return "Translation"
	case KindAssembly:
		return "Assembly"
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindConfig:
		return "Config"
	default:
		return "Unknown"
	}
}

// Is reports whether any error in err's chain is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first *Error in the chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns a short human readable message suitable for persisting on
// a job or chunk row.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Cause)
		}
		return e.Message
	}
	return err.Error()
}

type Handler interface {
	Handle(err error) bool
	GetAdvice(err *Error) string
}

type DefaultHandler struct{}

func NewDefaultHandler() Handler {
	return &DefaultHandler{}
}

func (h *DefaultHandler) Handle(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		log.Error("Unknown Error: %v", err)
		return false
	}

	advice := h.GetAdvice(e)
	log.Error("Error Detail: %v\n advice: %s", err, advice)

	return true
}

// GetAdvice returns error handling advice
func (h *DefaultHandler) GetAdvice(err *Error) string {
	switch err.Kind {
	case KindUnsupportedFormat:
		return "Supported formats are pdf, epub, docx, html, md and txt; check the file extension or pass an explicit format"
	case KindExtraction:
		return "Please check that the source file or URL is readable and not corrupted"
	case KindUnsupportedLanguagePair:
		return "Register a dedicated model for this language pair or use languages covered by the multilingual model"
	case KindTranslation:
		return "The translation backend failed for this chunk; check the model endpoint and retry the job"
	case KindAssembly:
		return "The translated artifact could not be written; check the artifact directory and re-run assembly for the job"
	case KindNotFound:
		return "Please check that the referenced book or job exists"
	case KindValidation:
		return "Please verify input parameters are correct"
	case KindConfig:
		return "Please check that configuration files or environment variables are set correctly"
	default:
		return "Please review detailed error information and check relevant configuration and files"
	}
}
