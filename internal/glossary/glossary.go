// Package glossary keeps per language pair term lists so names and
// recurring terminology are rendered the same way in every chunk of a book.
package glossary

import (
	"sort"
	"strings"
)

// Glossary maps source language terms to their fixed target language
// rendering.
type Glossary map[string]string

// Match returns the entries whose source term occurs in text. Matching is
// case-sensitive, which suits proper nouns.
func Match(g Glossary, text string) Glossary {
	matched := make(Glossary)
	for source, target := range g {
		if source != "" && strings.Contains(text, source) {
			matched[source] = target
		}
	}
	return matched
}

// Terms lists the source terms longest first, ties broken alphabetically.
func (g Glossary) Terms() []string {
	terms := make([]string, 0, len(g))
	for source := range g {
		terms = append(terms, source)
	}
	sort.Slice(terms, func(i, j int) bool {
		if len(terms[i]) != len(terms[j]) {
			return len(terms[i]) > len(terms[j])
		}
		return terms[i] < terms[j]
	})
	return terms
}
