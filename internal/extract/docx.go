package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/MimeLyc/book-translator/internal/errs"
)

// docxParagraph is a w:p being read. Its slot is reserved when the paragraph
// opens so text boxes nested inside it land after it in reading order.
type docxParagraph struct {
	text    strings.Builder
	inTable bool
	slot    int
}

// extractDOCX returns non-empty body paragraphs in order, followed by table
// rows rendered as " | "-joined cell text.
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errs.Wrap(err, errs.KindExtraction, "open docx archive")
	}
	raw, err := readZipFile(zipIndex(zr), "word/document.xml")
	if err != nil {
		return "", err
	}

	var (
		paragraphs []string
		rows       []string
		cells      []string
		cell       []string
		open       []*docxParagraph
		tableDepth int
		runDepth   int
	)
	current := func() *docxParagraph {
		if len(open) == 0 {
			return nil
		}
		return open[len(open)-1]
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errs.Wrap(err, errs.KindExtraction, "parse word/document.xml")
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "Fallback":
				// VML copy of the preceding mc:Choice
				if err := dec.Skip(); err != nil {
					return "", errs.Wrap(err, errs.KindExtraction, "parse word/document.xml")
				}
			case "tbl":
				tableDepth++
			case "tr":
				if tableDepth == 1 {
					cells = nil
				}
			case "tc":
				if tableDepth == 1 {
					cell = nil
				}
			case "p":
				p := &docxParagraph{inTable: tableDepth > 0}
				if p.inTable {
					p.slot = len(cell)
					cell = append(cell, "")
				} else {
					p.slot = len(paragraphs)
					paragraphs = append(paragraphs, "")
				}
				open = append(open, p)
			case "r":
				runDepth++
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &el); err != nil {
					return "", errs.Wrap(err, errs.KindExtraction, "parse text run")
				}
				if p := current(); p != nil {
					p.text.WriteString(s)
				}
			case "tab":
				// w:pPr/w:tabs holds tab stop definitions, not text
				if p := current(); p != nil && runDepth > 0 {
					p.text.WriteString("\t")
				}
			case "br", "cr":
				if p := current(); p != nil && runDepth > 0 {
					p.text.WriteString("\n")
				}
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "r":
				if runDepth > 0 {
					runDepth--
				}
			case "p":
				p := current()
				if p == nil {
					continue
				}
				open = open[:len(open)-1]
				text := strings.TrimSpace(p.text.String())
				switch {
				case !p.inTable:
					paragraphs[p.slot] = text
				case p.slot < len(cell):
					cell[p.slot] = text
				}
			case "tc":
				if tableDepth == 1 {
					cells = append(cells, strings.Join(nonEmpty(cell), " "))
				}
			case "tr":
				if tableDepth == 1 {
					row := strings.Join(cells, " | ")
					if strings.TrimSpace(strings.ReplaceAll(row, "|", "")) != "" {
						rows = append(rows, row)
					}
				}
			case "tbl":
				tableDepth--
			}
		}
	}

	parts := nonEmpty(paragraphs)
	if len(rows) > 0 {
		parts = append(parts, strings.Join(rows, "\n"))
	}
	return strings.Join(parts, "\n\n"), nil
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
