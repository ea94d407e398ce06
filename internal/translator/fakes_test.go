package translator

import (
	"context"
	"strings"
	"sync"

	"github.com/MimeLyc/book-translator/internal/glossary"
)

type fakeModel struct {
	name     string
	maxChars int
	fail     string

	mu     sync.Mutex
	inputs []string
}

func (m *fakeModel) Name() string       { return m.name }
func (m *fakeModel) MaxInputChars() int { return m.maxChars }

func (m *fakeModel) Translate(_ context.Context, text string) (string, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, text)
	m.mu.Unlock()
	if m.fail != "" && strings.Contains(text, m.fail) {
		return "", errModelExploded
	}
	return strings.ToUpper(text), nil
}

func (m *fakeModel) Inputs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.inputs...)
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

const errModelExploded = staticErr("model exploded")

type termModel struct {
	fakeModel

	mu    sync.Mutex
	terms []glossary.Glossary
}

func (m *termModel) TranslateWithTerms(ctx context.Context, text string, terms glossary.Glossary) (string, error) {
	m.mu.Lock()
	m.terms = append(m.terms, terms)
	m.mu.Unlock()
	return m.Translate(ctx, text)
}

type staticGlossaries struct {
	terms glossary.Glossary
	err   error
}

func (s staticGlossaries) Lookup(string, string) (glossary.Glossary, error) {
	return s.terms, s.err
}
