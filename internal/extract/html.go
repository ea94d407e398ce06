package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

var skippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "header": true,
	"footer": true, "aside": true, "nav": true, "main": true, "blockquote": true,
	"pre": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "ul": true, "ol": true, "li": true, "table": true, "tr": true,
	"hr": true, "dl": true, "dt": true, "dd": true, "figure": true, "figcaption": true,
	"body": true,
}

func extractHTML(data []byte) (string, error) {
	s, _, err := decodeText(data)
	if err != nil {
		return "", err
	}
	return htmlToText(s, true), nil
}

// htmlToText strips markup, drops script and style content, and separates
// block elements by blank lines. The document title is prepended when
// withTitle is set.
func htmlToText(doc string, withTitle bool) string {
	var (
		body    strings.Builder
		title   strings.Builder
		skip    int
		inTitle bool
	)

	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF or malformed input; keep what was read so far
			break
		}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedTags[tag] && tt == html.StartTagToken {
				skip++
				continue
			}
			switch {
			case tag == "title":
				inTitle = tt == html.StartTagToken
			case tag == "br":
				body.WriteString("\n")
			case blockTags[tag]:
				body.WriteString("\n\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedTags[tag] {
				if skip > 0 {
					skip--
				}
				continue
			}
			switch {
			case tag == "title":
				inTitle = false
			case blockTags[tag]:
				body.WriteString("\n\n")
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := string(z.Text())
			if inTitle {
				title.WriteString(text)
				continue
			}
			body.WriteString(collapseInline(text))
		}
	}

	text := collapseBlankLines(body.String())
	if withTitle {
		text = metadataHeader(strings.Join(strings.Fields(title.String()), " "), "") + text
	}
	return text
}

// collapseInline turns any whitespace run into one space, keeping a single
// leading or trailing space so adjacent inline text does not run together.
func collapseInline(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if s != "" {
			return " "
		}
		return ""
	}
	var b bytes.Buffer
	if isSpaceByte(s[0]) {
		b.WriteByte(' ')
	}
	b.WriteString(strings.Join(fields, " "))
	if isSpaceByte(s[len(s)-1]) {
		b.WriteByte(' ')
	}
	return b.String()
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// collapseBlankLines trims each line and keeps at most one blank line
// between non-blank lines.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
