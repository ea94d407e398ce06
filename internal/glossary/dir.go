package glossary

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Dir serves glossaries stored as files in one directory. Files are reread
// when their modification time changes.
type Dir struct {
	path string

	mu    sync.Mutex
	cache map[string]cachedGlossary
}

type cachedGlossary struct {
	file    string
	modTime time.Time
	terms   Glossary
}

func NewDir(path string) *Dir {
	return &Dir{path: path, cache: make(map[string]cachedGlossary)}
}

func (d *Dir) Path() string {
	return d.path
}

// Lookup returns the glossary for the pair. A missing file yields an empty
// glossary.
func (d *Dir) Lookup(sourceLang, targetLang string) (Glossary, error) {
	name := Filename(sourceLang, targetLang)
	path, info, err := d.find(name)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return Glossary{}, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cache[name]; ok && c.file == path && c.modTime.Equal(info.ModTime()) {
		return c.terms, nil
	}
	g, err := Load(path)
	if err != nil {
		return nil, err
	}
	d.cache[name] = cachedGlossary{file: path, modTime: info.ModTime(), terms: g}
	return g, nil
}

// Store replaces the glossary for the pair.
func (d *Dir) Store(sourceLang, targetLang string, g Glossary) error {
	name := Filename(sourceLang, targetLang)
	if err := Save(filepath.Join(d.path, name), g); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.cache, name)
	d.mu.Unlock()
	return nil
}

// find looks for the JSON file first and then its YAML variants.
func (d *Dir) find(name string) (string, os.FileInfo, error) {
	stem := strings.TrimSuffix(name, ".json")
	for _, candidate := range []string{name, stem + ".yaml", stem + ".yml"} {
		path := filepath.Join(d.path, candidate)
		info, err := os.Stat(path)
		if err == nil {
			return path, info, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", nil, err
		}
	}
	return "", nil, nil
}
