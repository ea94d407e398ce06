package translator

import (
	"strings"

	"github.com/abadojack/whatlanggo"

	"github.com/MimeLyc/book-translator/internal/chunker"
	"github.com/MimeLyc/book-translator/internal/errs"
)

const detectSampleParagraphs = 50

// DetectLanguage votes over the first paragraphs of text and returns the
// ISO 639-1 code of the most common language.
func DetectLanguage(text string) (string, error) {
	paragraphs := strings.Split(chunker.Normalize(text), chunker.ParagraphSeparator)
	if len(paragraphs) > detectSampleParagraphs {
		paragraphs = paragraphs[:detectSampleParagraphs]
	}

	votes := make(map[string]int)
	for _, p := range paragraphs {
		if len([]rune(p)) < 3 {
			continue
		}
		lang := whatlanggo.DetectLang(p).Iso6391()
		if lang == "" {
			continue
		}
		// longer paragraphs are more reliable
		votes[lang] += len(p)
	}

	var top string
	var topCount int
	for lang, count := range votes {
		if count > topCount || (count == topCount && lang < top) {
			top = lang
			topCount = count
		}
	}
	if top == "" {
		return "", errs.New(errs.KindValidation, "could not detect source language")
	}
	return top, nil
}
