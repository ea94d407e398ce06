// Package chunker splits extracted book text into bounded-size chunks that
// respect sentence and paragraph boundaries.
//
// Sizes are measured in characters (runes), never bytes or words.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ParagraphSeparator joins paragraphs inside a chunk and in normalized text.
const ParagraphSeparator = "\n\n"

var blankLines = regexp.MustCompile(`\n[ \t\f\v\r]*\n`)

// Normalize collapses whitespace inside paragraphs to single spaces and
// separates paragraphs by exactly one blank line.
func Normalize(text string) string {
	return strings.Join(paragraphs(text), ParagraphSeparator)
}

// Split returns the ordered chunks of text. Every chunk is non-empty and at
// most maxChars runes long, except a chunk holding a single sentence that is
// longer than maxChars on its own. A non-positive maxChars disables the bound.
func Split(text string, maxChars int) []string {
	var (
		chunks  []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if size == 0 {
			return
		}
		chunks = append(chunks, current.String())
		current.Reset()
		size = 0
	}

	for _, para := range paragraphs(text) {
		for i, sentence := range Sentences(para) {
			n := utf8.RuneCountInString(sentence)
			if size == 0 {
				current.WriteString(sentence)
				size = n
				continue
			}

			sep := " "
			if i == 0 {
				sep = ParagraphSeparator
			}
			sepLen := utf8.RuneCountInString(sep)
			if maxChars > 0 && size+sepLen+n > maxChars {
				flush()
				current.WriteString(sentence)
				size = n
				continue
			}
			current.WriteString(sep)
			current.WriteString(sentence)
			size += sepLen + n
		}
	}
	flush()
	return chunks
}

// Sentences splits a normalized paragraph after '.', '!' or '?' when the
// mark is followed by whitespace. The whitespace itself is dropped.
func Sentences(paragraph string) []string {
	var (
		ret   []string
		start int
	)
	runes := []rune(paragraph)
	for i := 0; i < len(runes)-1; i++ {
		switch runes[i] {
		case '.', '!', '?':
		default:
			continue
		}
		if !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			ret = append(ret, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		ret = append(ret, s)
	}
	return ret
}

func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var ret []string
	for _, raw := range blankLines.Split(text, -1) {
		p := strings.Join(strings.Fields(raw), " ")
		if p != "" {
			ret = append(ret, p)
		}
	}
	return ret
}
