package extract

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"
)

// frontMatterBlock matches a YAML front matter block at the start of the file.
var frontMatterBlock = regexp.MustCompile(`(?s)^---\r?\n(.*?)\r?\n---\r?\n?`)

type frontMatter struct {
	Title  string `yaml:"title"`
	Author string `yaml:"author"`
}

// extractMarkdown renders Markdown to HTML and reuses the HTML text path.
// Title and author from YAML front matter become the header.
func extractMarkdown(data []byte) (string, error) {
	src, _, err := decodeText(data)
	if err != nil {
		return "", err
	}

	var meta frontMatter
	if m := frontMatterBlock.FindStringSubmatchIndex(src); m != nil {
		// malformed front matter is kept out of the body but otherwise ignored
		_ = yaml.Unmarshal([]byte(src[m[2]:m[3]]), &meta)
		src = src[m[1]:]
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return metadataHeader(meta.Title, meta.Author) + htmlToText(buf.String(), false), nil
}
