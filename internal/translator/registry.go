package translator

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/MimeLyc/book-translator/internal/errs"
)

// DefaultMultilingualLanguages are the languages the multilingual fallback
// model is assumed to cover when none are configured.
var DefaultMultilingualLanguages = []string{
	"en", "es", "fr", "de", "ru", "zh", "ar", "cs", "it", "ja", "ko", "nl", "pl", "pt", "ro", "tr", "uk",
}

// Registry maps language pairs to model names. Resolution prefers a
// dedicated bilingual model, then the multilingual model when it covers both
// languages.
type Registry struct {
	mu           sync.RWMutex
	dedicated    map[Pair]string
	multilingual string
	multiLangs   map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		dedicated:  make(map[Pair]string),
		multiLangs: make(map[string]bool),
	}
}

// Register adds a dedicated model for exactly this pair.
func (r *Registry) Register(pair Pair, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dedicated[pair] = model
}

// SetMultilingual sets the fallback model and the languages it supports.
func (r *Registry) SetMultilingual(model string, languages []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.multilingual = model
	r.multiLangs = make(map[string]bool, len(languages))
	for _, l := range languages {
		if base, err := baseLanguage(l); err == nil {
			r.multiLangs[base] = true
		}
	}
}

func (r *Registry) Resolve(pair Pair) (ModelSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, ok := r.dedicated[pair]; ok {
		return ModelSpec{Name: name, Pair: pair}, nil
	}
	if r.multilingual != "" && r.multiLangs[pair.Source] && r.multiLangs[pair.Target] {
		return ModelSpec{Name: r.multilingual, Pair: pair, Multilingual: true}, nil
	}
	return ModelSpec{}, errs.Newf(errs.KindUnsupportedLanguagePair, "no model available for %s", pair).
		WithContext("source", pair.Source).
		WithContext("target", pair.Target)
}

// Pairs lists the dedicated pairs in a stable order.
func (r *Registry) Pairs() []Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]Pair, 0, len(r.dedicated))
	for p := range r.dedicated {
		ret = append(ret, p)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].String() < ret[j].String() })
	return ret
}

// ParseModelMap parses "en-es=model-a,en-de=model-b" into dedicated entries.
func ParseModelMap(s string) (map[Pair]string, error) {
	ret := make(map[Pair]string)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, model, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(model) == "" {
			return nil, fmt.Errorf("invalid model mapping %q", entry)
		}
		src, tgt, ok := strings.Cut(strings.TrimSpace(key), "-")
		if !ok {
			return nil, fmt.Errorf("invalid language pair %q", key)
		}
		pair, err := NewPair(src, tgt)
		if err != nil {
			return nil, err
		}
		ret[pair] = strings.TrimSpace(model)
	}
	return ret, nil
}
