package file

import (
	"path/filepath"
	"strings"
)

// ReplaceExt swaps the extension of path for ext. The leading dot of ext is
// optional. A dotfile such as ".env" is treated as having no extension.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return ""
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	base := filepath.Base(path)
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return filepath.Join(filepath.Dir(path), base+ext)
}

// TranslatedName names the plain text translation of a book file:
// "moby-dick.epub" in "es" becomes "moby-dick.es.txt".
func TranslatedName(path, lang string) string {
	return ReplaceExt(path, "."+lang+".txt")
}
