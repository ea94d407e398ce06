package extract

import (
	"archive/zip"
	"fmt"
	"io"

	"github.com/MimeLyc/book-translator/internal/errs"
)

func zipIndex(zr *zip.Reader) map[string]*zip.File {
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	return files
}

func readZipFile(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[name]
	if !ok {
		return nil, errs.Newf(errs.KindExtraction, "archive entry %s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, errs.Wrap(err, errs.KindExtraction, fmt.Sprintf("open archive entry %s", name))
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindExtraction, fmt.Sprintf("read archive entry %s", name))
	}
	return data, nil
}
