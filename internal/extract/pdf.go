package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/MimeLyc/book-translator/internal/errs"
)

// extractPDF reads at most maxPages pages (all pages when maxPages <= 0) and
// appends a notice when the document was truncated.
func extractPDF(data []byte, maxPages int) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errs.Wrap(err, errs.KindExtraction, "open pdf")
	}

	total := r.NumPage()
	limit := total
	if maxPages > 0 && maxPages < total {
		limit = maxPages
	}

	pages := make([]string, 0, limit)
	for i := 1; i <= limit; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", errs.Wrap(err, errs.KindExtraction, fmt.Sprintf("extract text from page %d", i))
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}

	out := strings.Join(pages, "\n\n")
	if limit < total {
		out += fmt.Sprintf("\n\n[Note: Only the first %d pages of %d were processed]", limit, total)
	}
	return out, nil
}
