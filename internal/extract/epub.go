package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/taylorskalyo/goreader/epub"

	"github.com/MimeLyc/book-translator/internal/errs"
)

const epubContainerPath = "META-INF/container.xml"

// extractEPUB reads the XHTML content documents of the first rootfile in
// spine order.
func extractEPUB(data []byte) (string, error) {
	ra := bytes.NewReader(data)
	zr, err := zip.NewReader(ra, int64(len(data)))
	if err != nil {
		return "", errs.Wrap(err, errs.KindExtraction, "open epub archive")
	}
	files := zipIndex(zr)
	// epub.NewReader dereferences the container entry without checking it.
	if _, ok := files[epubContainerPath]; !ok {
		return "", errs.Newf(errs.KindExtraction, "archive entry %s not found", epubContainerPath)
	}

	book, err := epub.NewReader(ra, int64(len(data)))
	if err != nil {
		return "", errs.Wrap(err, errs.KindExtraction, "read epub package")
	}
	root := book.Rootfiles[0]
	base := path.Dir(root.FullPath)

	var docs []string
	for _, ref := range root.Spine.Itemrefs {
		if !isEPUBDocument(ref.MediaType) {
			continue
		}
		raw, err := readEPUBItem(ref.Item, files, base)
		if err != nil {
			return "", err
		}
		s, _, err := decodeText(raw)
		if err != nil {
			return "", err
		}
		if text := htmlToText(s, false); text != "" {
			docs = append(docs, text)
		}
	}
	if len(docs) == 0 {
		return "", errs.New(errs.KindExtraction, "epub contains no readable documents")
	}
	return metadataHeader(strings.TrimSpace(root.Title), strings.TrimSpace(root.Creator)) + strings.Join(docs, "\n\n"), nil
}

// readEPUBItem falls back to the unescaped href when the manifest entry is
// percent-encoded, since the reader resolves hrefs verbatim.
func readEPUBItem(item *epub.Item, files map[string]*zip.File, base string) ([]byte, error) {
	rc, err := item.Open()
	if errors.Is(err, epub.ErrBadManifest) {
		href, uerr := url.PathUnescape(item.HREF)
		if uerr != nil {
			return nil, errs.Wrap(err, errs.KindExtraction, fmt.Sprintf("open epub item %s", item.HREF))
		}
		return readZipFile(files, path.Join(base, href))
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.KindExtraction, fmt.Sprintf("open epub item %s", item.HREF))
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindExtraction, fmt.Sprintf("read epub item %s", item.HREF))
	}
	return raw, nil
}

func isEPUBDocument(mediaType string) bool {
	switch mediaType {
	case "application/xhtml+xml", "text/html":
		return true
	default:
		return false
	}
}
