package glossary

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/MimeLyc/book-translator/pkg/file"
)

// Filename returns the JSON glossary name for a pair, using base language
// codes ("en-US" becomes "en").
func Filename(sourceLang, targetLang string) string {
	return "glossary." + baseCode(sourceLang) + "-" + baseCode(targetLang) + ".json"
}

// Load reads a glossary from a .json, .yaml or .yml file.
func Load(path string) (Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	g := make(Glossary)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &g)
	default:
		err = json.Unmarshal(data, &g)
	}
	if err != nil {
		return nil, fmt.Errorf("parse glossary %s: %w", path, err)
	}
	return g, nil
}

// Save writes g as indented JSON.
func Save(path string, g Glossary) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	return file.WriteAtomic(path, data, 0o644)
}

func baseCode(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}
	base, _ := tag.Base()
	return base.String()
}
