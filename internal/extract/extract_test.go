package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/book-translator/internal/errs"
)

const sampleHTML = `<!DOCTYPE html>
<html><head><title>My  Book</title><style>.x { color: red }</style>
<script>var hidden = "SCRIPTTEXT";</script></head>
<body><h1>HTMLMARKER</h1><p>First   para
continues</p><p></p><p>Second &amp; last</p></body></html>`

const sampleMarkdown = `---
title: MD Book
author: Jane Doe
---
# Heading MDMARKER

Some *emphasis* text.

- item one
- item two
`

func writeFixture(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestExtract_AllFormatsContainMarker(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		data   []byte
		marker string
	}{
		{name: "pdf", file: "book.pdf", data: buildPDF(t, []string{"PDFMARKER page one", "page two"}), marker: "PDFMARKER"},
		{name: "epub", file: "book.epub", data: buildEPUB(t), marker: "EPUBMARKER"},
		{name: "docx", file: "book.docx", data: buildDOCX(t), marker: "DOCXMARKER"},
		{name: "html", file: "book.html", data: []byte(sampleHTML), marker: "HTMLMARKER"},
		{name: "htm", file: "book.htm", data: []byte(sampleHTML), marker: "HTMLMARKER"},
		{name: "markdown", file: "book.md", data: []byte(sampleMarkdown), marker: "MDMARKER"},
		{name: "txt", file: "book.txt", data: []byte("TXTMARKER plain text"), marker: "TXTMARKER"},
	}

	e := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFixture(t, tt.file, tt.data)
			text, err := e.Extract(context.Background(), Source{Path: path})
			require.NoError(t, err)
			assert.NotEmpty(t, text)
			assert.Contains(t, text, tt.marker)
		})
	}
}

func TestExtract_UnsupportedExtension(t *testing.T) {
	path := writeFixture(t, "book.xyz", []byte("whatever"))
	_, err := New().Extract(context.Background(), Source{Path: path})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUnsupportedFormat))

	_, err = New().ExtractBytes(Format("rtf"), []byte("x"))
	assert.True(t, errs.Is(err, errs.KindUnsupportedFormat))
}

func TestExtract_ExplicitFormatOverridesExtension(t *testing.T) {
	path := writeFixture(t, "book.data", []byte("hello from an odd extension"))
	text, err := New().Extract(context.Background(), Source{Path: path, Format: FormatText})
	require.NoError(t, err)
	assert.Equal(t, "hello from an odd extension", text)
}

func TestExtract_MissingFileIsExtractionError(t *testing.T) {
	_, err := New().Extract(context.Background(), Source{Path: filepath.Join(t.TempDir(), "missing.txt")})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindExtraction))
}

func TestExtract_SourceValidation(t *testing.T) {
	_, err := New().Extract(context.Background(), Source{})
	assert.True(t, errs.Is(err, errs.KindValidation))

	_, err = New().Extract(context.Background(), Source{Path: "a.txt", URL: "http://x/a.txt"})
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestExtractPDF_TruncatesAtPageCap(t *testing.T) {
	data := buildPDF(t, []string{"first PAGEONE", "second PAGETWO", "third PAGETHREE"})

	text, err := New(WithMaxPDFPages(2)).ExtractBytes(FormatPDF, data)
	require.NoError(t, err)
	assert.Contains(t, text, "PAGEONE")
	assert.Contains(t, text, "PAGETWO")
	assert.NotContains(t, text, "PAGETHREE")
	assert.True(t, strings.HasSuffix(text, "[Note: Only the first 2 pages of 3 were processed]"))

	full, err := New().ExtractBytes(FormatPDF, data)
	require.NoError(t, err)
	assert.Contains(t, full, "PAGETHREE")
	assert.NotContains(t, full, "[Note:")
	assert.Less(t, strings.Index(full, "PAGEONE"), strings.Index(full, "PAGETWO"))
}

func TestExtractPDF_CorruptInput(t *testing.T) {
	_, err := New().ExtractBytes(FormatPDF, []byte("this is not a pdf"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindExtraction))
}

func TestExtractEPUB_SpineOrderAndMetadata(t *testing.T) {
	text, err := New().ExtractBytes(FormatEPUB, buildEPUB(t))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(text, "Title: The EPUB Book\nAuthor: Ann Author\n\n"), text)
	first := strings.Index(text, "EPUBMARKER")
	second := strings.Index(text, "Second chapter text.")
	require.GreaterOrEqual(t, first, 0)
	require.GreaterOrEqual(t, second, 0)
	assert.Less(t, first, second)
	assert.NotContains(t, text, "margin")
}

func TestExtractEPUB_MissingContainer(t *testing.T) {
	data := buildZip(t, [][2]string{{"mimetype", "application/epub+zip"}})
	_, err := New().ExtractBytes(FormatEPUB, data)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindExtraction))
}

func TestExtractDOCX_ParagraphsThenTables(t *testing.T) {
	text, err := New().ExtractBytes(FormatDOCX, buildDOCX(t))
	require.NoError(t, err)
	assert.Equal(t, "DOCXMARKER opening paragraph.\n\nClosing paragraph.\n\nName | Value\nalpha | 1", text)
}

func TestExtractDOCX_TextBoxKeepsSurroundingParagraph(t *testing.T) {
	body := `<w:p>
  <w:r><w:t>Before the box.</w:t></w:r>
  <w:r><mc:AlternateContent>
    <mc:Choice Requires="wps"><w:drawing><wps:txbx><w:txbxContent>
      <w:p><w:r><w:t>Inner box text.</w:t></w:r></w:p>
    </w:txbxContent></wps:txbx></w:drawing></mc:Choice>
    <mc:Fallback><w:pict><v:textbox><w:txbxContent>
      <w:p><w:r><w:t>Inner box text.</w:t></w:r></w:p>
    </w:txbxContent></v:textbox></w:pict></mc:Fallback>
  </mc:AlternateContent></w:r>
  <w:r><w:t xml:space="preserve"> After the box.</w:t></w:r>
</w:p>
<w:p><w:r><w:t>Next paragraph.</w:t></w:r></w:p>`

	text, err := New().ExtractBytes(FormatDOCX, docxBody(t, body))
	require.NoError(t, err)
	assert.Equal(t, "Before the box. After the box.\n\nInner box text.\n\nNext paragraph.", text)
}

func TestExtractDOCX_TabStopsAreNotText(t *testing.T) {
	body := `<w:p>
  <w:pPr><w:tabs><w:tab w:val="left" w:pos="720"/></w:tabs></w:pPr>
  <w:r><w:t>Name</w:t></w:r>
  <w:r><w:tab/><w:t>Value</w:t></w:r>
</w:p>
<w:p><w:r><w:t>Line one</w:t><w:br/><w:t>line two</w:t></w:r></w:p>`

	text, err := New().ExtractBytes(FormatDOCX, docxBody(t, body))
	require.NoError(t, err)
	assert.Equal(t, "Name\tValue\n\nLine one\nline two", text)
}

func TestExtractDOCX_MissingDocument(t *testing.T) {
	data := buildZip(t, [][2]string{{"[Content_Types].xml", "<Types/>"}})
	_, err := New().ExtractBytes(FormatDOCX, data)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindExtraction))
}

func TestExtractEPUB_NoSpine(t *testing.T) {
	container := `<container><rootfiles><rootfile full-path="content.opf"/></rootfiles></container>`
	opf := `<package><metadata/><manifest><item id="a" href="a.xhtml" media-type="application/xhtml+xml"/></manifest><spine/></package>`
	data := buildZip(t, [][2]string{
		{"META-INF/container.xml", container},
		{"content.opf", opf},
		{"a.xhtml", "<html><body><p>x</p></body></html>"},
	})
	_, err := New().ExtractBytes(FormatEPUB, data)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindExtraction))
}

func TestExtractHTML_StripsScriptsAndCollapsesBlankLines(t *testing.T) {
	text, err := New().ExtractBytes(FormatHTML, []byte(sampleHTML))
	require.NoError(t, err)
	assert.Equal(t, "Title: My Book\n\nHTMLMARKER\n\nFirst para continues\n\nSecond & last", text)
	assert.NotContains(t, text, "SCRIPTTEXT")
	assert.NotContains(t, text, "color")
}

func TestExtractMarkdown_RendersThroughHTMLPath(t *testing.T) {
	text, err := New().ExtractBytes(FormatMarkdown, []byte(sampleMarkdown))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Title: MD Book\nAuthor: Jane Doe\n\nHeading MDMARKER"), text)
	assert.Contains(t, text, "Some emphasis text.")
	assert.Contains(t, text, "item one")
	assert.NotContains(t, text, "*")
	assert.NotContains(t, text, "---")
}

func TestDecodeText_EncodingLadder(t *testing.T) {
	s, enc, err := decodeText([]byte("\xEF\xBB\xBFplain utf-8 ✓"))
	require.NoError(t, err)
	assert.Equal(t, "utf-8", enc)
	assert.Equal(t, "plain utf-8 ✓", s)

	s, enc, err = decodeText([]byte("caf\xe9 \x93quoted\x94"))
	require.NoError(t, err)
	assert.Equal(t, "windows-1252", enc)
	assert.Equal(t, "café “quoted”", s)
}

func TestFormatDetection(t *testing.T) {
	assert.Equal(t, FormatPDF, FormatFromPath("/x/Book.PDF"))
	assert.Equal(t, FormatHTML, FormatFromPath("index.htm"))
	assert.Equal(t, FormatMarkdown, FormatFromPath("notes.markdown"))
	assert.Equal(t, FormatUnknown, FormatFromPath("archive.tar.gz"))
	assert.Equal(t, FormatUnknown, FormatFromPath("README"))

	assert.Equal(t, FormatPDF, FormatFromContentType("application/pdf"))
	assert.Equal(t, FormatText, FormatFromContentType("text/plain; charset=utf-8"))
	assert.Equal(t, FormatHTML, FormatFromContentType("text/html; charset=ISO-8859-1"))
	assert.Equal(t, FormatEPUB, FormatFromContentType("application/epub+zip"))
	assert.Equal(t, FormatUnknown, FormatFromContentType("application/octet-stream"))

	f, err := ParseFormat(".Markdown")
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, f)
	_, err = ParseFormat("rtf")
	assert.True(t, errs.Is(err, errs.KindUnsupportedFormat))
}

func TestExtractURL(t *testing.T) {
	var hits atomic.Int32
	var userAgent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		userAgent.Store(r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/book.txt":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte("URLTXTMARKER text body"))
		case "/article":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(sampleHTML))
		case "/blob":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte("<p>BLOBMARKER</p>"))
		case "/download":
			w.Header().Set("Content-Type", "application/epub+zip")
			_, _ = w.Write([]byte("PK"))
		case "/doc.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write(buildPDF(t, []string{"URLPDFMARKER"}))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := New(WithHTTPClient(srv.Client()))
	ctx := context.Background()

	text, err := e.Extract(ctx, Source{URL: srv.URL + "/book.txt"})
	require.NoError(t, err)
	assert.Equal(t, "URLTXTMARKER text body", text)
	assert.NotEmpty(t, userAgent.Load())

	text, err = e.Extract(ctx, Source{URL: srv.URL + "/article"})
	require.NoError(t, err)
	assert.Contains(t, text, "HTMLMARKER")
	assert.NotContains(t, text, "<h1>")

	text, err = e.Extract(ctx, Source{URL: srv.URL + "/blob"})
	require.NoError(t, err)
	assert.Equal(t, "BLOBMARKER", text)

	text, err = e.Extract(ctx, Source{URL: srv.URL + "/doc.pdf"})
	require.NoError(t, err)
	assert.Contains(t, text, "URLPDFMARKER")

	text, err = e.Extract(ctx, Source{URL: srv.URL + "/blob", Format: FormatText})
	require.NoError(t, err)
	assert.Equal(t, "<p>BLOBMARKER</p>", text)

	_, err = e.Extract(ctx, Source{URL: srv.URL + "/download"})
	assert.True(t, errs.Is(err, errs.KindUnsupportedFormat))

	_, err = e.Extract(ctx, Source{URL: srv.URL + "/missing"})
	assert.True(t, errs.Is(err, errs.KindExtraction))

	before := hits.Load()
	_, err = e.Extract(ctx, Source{URL: srv.URL + "/novel.epub"})
	assert.True(t, errs.Is(err, errs.KindUnsupportedFormat))
	_, err = e.Extract(ctx, Source{URL: srv.URL + "/novel.docx"})
	assert.True(t, errs.Is(err, errs.KindUnsupportedFormat))
	assert.Equal(t, before, hits.Load())

	_, err = e.Extract(ctx, Source{URL: "ftp://example.com/book.txt"})
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestExtractURL_DownloadLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer srv.Close()

	e := New(WithHTTPClient(srv.Client()), WithMaxDownloadBytes(10))
	_, err := e.Extract(context.Background(), Source{URL: srv.URL + "/big.txt"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindExtraction))
	assert.Contains(t, err.Error(), "download exceeds 10 B")
}
