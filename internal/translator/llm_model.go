package translator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/MimeLyc/book-translator/internal/glossary"
	"github.com/MimeLyc/book-translator/internal/llm"
)

type chatClient interface {
	SimpleChat(ctx context.Context, prompt string, systemPrompt string) (string, error)
}

// LLMLoader builds chat-completion backed models. The model handle is an
// llm.Client pointed at the model named by the ModelSpec.
type LLMLoader struct {
	mu            sync.RWMutex
	base          llm.Config
	maxInputChars int
}

func NewLLMLoader(base llm.Config, maxInputChars int) *LLMLoader {
	return &LLMLoader{base: base, maxInputChars: maxInputChars}
}

// SetBase replaces the endpoint settings used for models loaded afterwards.
func (l *LLMLoader) SetBase(base llm.Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.base = base
}

func (l *LLMLoader) Load(_ context.Context, spec ModelSpec) (Model, error) {
	l.mu.RLock()
	base := l.base
	l.mu.RUnlock()

	client, err := llm.NewClient(base.WithModel(spec.Name))
	if err != nil {
		return nil, err
	}
	return newLLMModel(client, spec, l.maxInputChars), nil
}

type llmModel struct {
	client        chatClient
	name          string
	systemPrompt  string
	maxInputChars int
}

func newLLMModel(client chatClient, spec ModelSpec, maxInputChars int) *llmModel {
	return &llmModel{
		client:        client,
		name:          spec.Name,
		systemPrompt:  buildSystemPrompt(spec.Pair),
		maxInputChars: maxInputChars,
	}
}

func (m *llmModel) Name() string {
	return m.name
}

func (m *llmModel) MaxInputChars() int {
	return m.maxInputChars
}

func (m *llmModel) Translate(ctx context.Context, text string) (string, error) {
	return m.chat(ctx, text, m.systemPrompt)
}

func (m *llmModel) TranslateWithTerms(ctx context.Context, text string, terms glossary.Glossary) (string, error) {
	return m.chat(ctx, text, m.systemPrompt+glossarySection(terms))
}

func (m *llmModel) chat(ctx context.Context, text, systemPrompt string) (string, error) {
	out, err := m.client.SimpleChat(ctx, text, systemPrompt)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("model %s returned an empty translation", m.name)
	}
	return out, nil
}

func buildSystemPrompt(pair Pair) string {
	src := languageName(pair.Source)
	tgt := languageName(pair.Target)

	var prompt strings.Builder
	prompt.WriteString("You are a professional literary translator. Translate the user's text from " + src + " to " + tgt + ".\n\n")
	prompt.WriteString("=== TRANSLATION GUIDELINES ===\n")
	prompt.WriteString("1. Preserve the meaning, tone and register of the original\n")
	prompt.WriteString("2. Keep paragraph breaks where the input has blank lines\n")
	prompt.WriteString("3. Keep proper names consistent and do not translate code or URLs\n")
	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Return ONLY the " + tgt + " translation.\n")
	prompt.WriteString("Do not include any explanations, notes, or additional text.\n")
	return prompt.String()
}

func glossarySection(terms glossary.Glossary) string {
	if len(terms) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n=== GLOSSARY ===\n")
	b.WriteString("Always render these terms exactly as given:\n")
	for _, source := range terms.Terms() {
		b.WriteString("- " + source + ": " + terms[source] + "\n")
	}
	return b.String()
}

func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}
