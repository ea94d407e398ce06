package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/MimeLyc/book-translator/internal/errs"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type namedDecoder struct {
	name string
	enc  encoding.Encoding
}

// textEncodings is tried in order after UTF-8.
var textEncodings = []namedDecoder{
	{name: "windows-1252", enc: charmap.Windows1252},
	{name: "iso-8859-1", enc: charmap.ISO8859_1},
}

func extractText(data []byte) (string, error) {
	s, _, err := decodeText(data)
	if err != nil {
		return "", err
	}
	return s, nil
}

// decodeText returns the text and the name of the first encoding that
// decodes data cleanly.
func decodeText(data []byte) (string, string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), "utf-8", nil
	}

	for _, d := range textEncodings {
		out, err := d.enc.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		// charmap maps undefined bytes to U+FFFD instead of failing
		if bytes.ContainsRune(out, utf8.RuneError) {
			continue
		}
		return strings.ToValidUTF8(string(out), ""), d.name, nil
	}
	return "", "", errs.New(errs.KindExtraction, "text could not be decoded with any supported encoding")
}
