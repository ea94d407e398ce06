package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MimeLyc/book-translator/internal/chunker"
	"github.com/MimeLyc/book-translator/internal/errs"
	"github.com/MimeLyc/book-translator/internal/glossary"
	"github.com/MimeLyc/book-translator/pkg/log"
)

// DefaultMaxInputChars bounds a single model call when the model does not
// declare its own limit. It is independent of the document chunk size.
const DefaultMaxInputChars = 512

type Engine struct {
	registry      *Registry
	loader        Loader
	cache         ModelCache
	glossaries    GlossarySource
	maxInputChars int
}

// GlossarySource returns the fixed term renderings for a language pair.
type GlossarySource interface {
	Lookup(sourceLang, targetLang string) (glossary.Glossary, error)
}

// TermAwareModel is implemented by models that can be told how to render
// specific terms.
type TermAwareModel interface {
	TranslateWithTerms(ctx context.Context, text string, terms glossary.Glossary) (string, error)
}

type EngineOption func(*Engine)

func WithCache(c ModelCache) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

func WithGlossary(g GlossarySource) EngineOption {
	return func(e *Engine) {
		e.glossaries = g
	}
}

func WithMaxInputChars(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxInputChars = n
		}
	}
}

func NewEngine(registry *Registry, loader Loader, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:      registry,
		loader:        loader,
		cache:         NewSingleflightCache(),
		maxInputChars: DefaultMaxInputChars,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ResetModels unloads cached models so the next call reloads them, e.g.
// after the endpoint settings changed.
func (e *Engine) ResetModels() {
	if r, ok := e.cache.(interface{ Reset() }); ok {
		r.Reset()
	}
}

// Translate translates text from source to target language. Long inputs are
// split into model-sized pieces whose translations are joined with single
// spaces. Failures are *errs.Error values carrying the original text in Input.
func (e *Engine) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	pair, err := NewPair(source, target)
	if err != nil {
		return "", withInput(err, text)
	}
	if pair.Source == pair.Target {
		return text, nil
	}

	spec, err := e.registry.Resolve(pair)
	if err != nil {
		return "", withInput(err, text)
	}

	model, err := e.cache.GetOrLoad(ctx, pair, func(ctx context.Context) (Model, error) {
		log.Info("Loading model %s for %s", spec.Name, pair)
		return e.loader.Load(ctx, spec)
	})
	if err != nil {
		return "", errs.Wrap(err, errs.KindTranslation, fmt.Sprintf("load model %s", spec.Name)).
			WithContext("pair", pair.String()).
			WithInput(text)
	}

	limit := model.MaxInputChars()
	if limit <= 0 {
		limit = e.maxInputChars
	}

	terms := e.lookupTerms(pair)
	parts := chunker.Split(text, limit)
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		translated, err := translatePart(ctx, model, part, terms)
		if err != nil {
			return "", errs.Wrap(err, errs.KindTranslation, fmt.Sprintf("translate with %s", model.Name())).
				WithContext("pair", pair.String()).
				WithContext("part", i).
				WithInput(text)
		}
		out = append(out, strings.TrimSpace(translated))
	}
	return strings.Join(out, " "), nil
}

func (e *Engine) lookupTerms(pair Pair) glossary.Glossary {
	if e.glossaries == nil {
		return nil
	}
	terms, err := e.glossaries.Lookup(pair.Source, pair.Target)
	if err != nil {
		log.Warn("Ignoring glossary for %s: %v", pair, err)
		return nil
	}
	return terms
}

func translatePart(ctx context.Context, model Model, part string, terms glossary.Glossary) (string, error) {
	if tm, ok := model.(TermAwareModel); ok && len(terms) > 0 {
		if matched := glossary.Match(terms, part); len(matched) > 0 {
			return tm.TranslateWithTerms(ctx, part, matched)
		}
	}
	return model.Translate(ctx, part)
}

func withInput(err error, text string) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.WithInput(text)
	}
	return errs.Wrap(err, errs.KindTranslation, "translate").WithInput(text)
}
