// Package extract turns source documents into plain text.
//
// Dispatch is a closed switch over Format. Adding a format means adding a
// constant, a detection rule and a case in extractBytes.
package extract

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/book-translator/internal/errs"
)

type Format string

const (
	FormatUnknown  Format = ""
	FormatPDF      Format = "pdf"
	FormatEPUB     Format = "epub"
	FormatText     Format = "txt"
	FormatDOCX     Format = "docx"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "md"
)

const (
	DefaultMaxPDFPages      = 50
	DefaultHTTPTimeout      = 30 * time.Second
	DefaultMaxDownloadBytes = 64 << 20
	defaultUserAgent        = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

var Formats = []Format{FormatPDF, FormatEPUB, FormatText, FormatDOCX, FormatHTML, FormatMarkdown}

// ParseFormat accepts a format tag, tolerating a leading dot and common aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "pdf":
		return FormatPDF, nil
	case "epub":
		return FormatEPUB, nil
	case "txt", "text":
		return FormatText, nil
	case "docx":
		return FormatDOCX, nil
	case "html", "htm", "xhtml":
		return FormatHTML, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	default:
		return FormatUnknown, errs.Newf(errs.KindUnsupportedFormat, "unsupported format %q", s)
	}
}

// FormatFromPath detects the format from a file name or URL path suffix.
func FormatFromPath(p string) Format {
	ext := filepath.Ext(p)
	if ext == "" {
		return FormatUnknown
	}
	f, err := ParseFormat(ext)
	if err != nil {
		return FormatUnknown
	}
	return f
}

// FormatFromContentType maps an HTTP Content-Type to a format.
func FormatFromContentType(ct string) Format {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(ct))
	}
	switch mediaType {
	case "application/pdf":
		return FormatPDF
	case "application/epub+zip":
		return FormatEPUB
	case "text/plain":
		return FormatText
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return FormatDOCX
	case "text/html", "application/xhtml+xml":
		return FormatHTML
	case "text/markdown", "text/x-markdown":
		return FormatMarkdown
	default:
		return FormatUnknown
	}
}

// Source describes where the document lives. Exactly one of Path or URL is set.
// Format is optional; when empty it is detected.
type Source struct {
	Path   string
	URL    string
	Format Format
}

type Extractor struct {
	client           *http.Client
	userAgent        string
	maxPDFPages      int
	maxDownloadBytes int64
}

type Option func(*Extractor)

func WithHTTPClient(c *http.Client) Option {
	return func(e *Extractor) {
		if c != nil {
			e.client = c
		}
	}
}

func WithHTTPTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.client = &http.Client{Timeout: d}
		}
	}
}

func WithMaxPDFPages(n int) Option {
	return func(e *Extractor) {
		e.maxPDFPages = n
	}
}

func WithMaxDownloadBytes(n int64) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxDownloadBytes = n
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(e *Extractor) {
		if ua != "" {
			e.userAgent = ua
		}
	}
}

func New(opts ...Option) *Extractor {
	e := &Extractor{
		client:           &http.Client{Timeout: DefaultHTTPTimeout},
		userAgent:        defaultUserAgent,
		maxPDFPages:      DefaultMaxPDFPages,
		maxDownloadBytes: DefaultMaxDownloadBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the plain text of src. Failures are *errs.Error values of
// kind KindUnsupportedFormat or KindExtraction.
func (e *Extractor) Extract(ctx context.Context, src Source) (string, error) {
	switch {
	case src.Path != "" && src.URL != "":
		return "", errs.New(errs.KindValidation, "source must have either a path or a url, not both")
	case src.URL != "":
		return e.extractURL(ctx, src)
	case src.Path != "":
		return e.extractFile(src)
	default:
		return "", errs.New(errs.KindValidation, "source has neither a path nor a url")
	}
}

func (e *Extractor) extractFile(src Source) (string, error) {
	format := src.Format
	if format == FormatUnknown {
		format = FormatFromPath(src.Path)
	}
	if format == FormatUnknown {
		return "", errs.Newf(errs.KindUnsupportedFormat, "cannot detect format of %s", filepath.Base(src.Path)).
			WithContext("path", src.Path)
	}

	data, err := os.ReadFile(src.Path)
	if err != nil {
		return "", errs.Wrap(err, errs.KindExtraction, "read source file").WithContext("path", src.Path)
	}
	return e.ExtractBytes(format, data)
}

// ExtractBytes extracts text from an in-memory document of the given format.
func (e *Extractor) ExtractBytes(format Format, data []byte) (text string, err error) {
	// third-party parsers may panic on malformed input
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = errs.New(errs.KindExtraction, fmt.Sprintf("parse %s: %v", format, r))
		}
	}()

	switch format {
	case FormatPDF:
		text, err = extractPDF(data, e.maxPDFPages)
	case FormatEPUB:
		text, err = extractEPUB(data)
	case FormatText:
		text, err = extractText(data)
	case FormatDOCX:
		text, err = extractDOCX(data)
	case FormatHTML:
		text, err = extractHTML(data)
	case FormatMarkdown:
		text, err = extractMarkdown(data)
	default:
		return "", errs.Newf(errs.KindUnsupportedFormat, "unsupported format %q", format)
	}
	if err != nil {
		if errs.KindOf(err) == errs.KindUnknown {
			err = errs.Wrap(err, errs.KindExtraction, fmt.Sprintf("extract %s", format))
		}
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// metadataHeader renders optional title/author lines followed by a blank line.
func metadataHeader(title, author string) string {
	var lines []string
	if t := strings.TrimSpace(title); t != "" {
		lines = append(lines, "Title: "+t)
	}
	if a := strings.TrimSpace(author); a != "" {
		lines = append(lines, "Author: "+a)
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n\n"
}

func urlPathFormat(rawPath string) Format {
	return FormatFromPath(path.Base(rawPath))
}
