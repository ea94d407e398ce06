package glossary

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	g := Glossary{
		"Ishmael":     "Ismael",
		"Pequod":      "Pequod",
		"Moby Dick":   "Moby Dick",
		"Queequeg":    "Queequeg",
		"white whale": "ballena blanca",
	}

	matched := Match(g, "Call me Ishmael. The Pequod sailed.")
	assert.Len(t, matched, 2)
	assert.Equal(t, "Ismael", matched["Ishmael"])
	assert.Contains(t, matched, "Pequod")
	assert.NotContains(t, matched, "Queequeg")
}

func TestMatch_CaseSensitive(t *testing.T) {
	g := Glossary{"Ahab": "Acab"}
	assert.Empty(t, Match(g, "ahab was angry"))
	assert.Len(t, Match(g, "Ahab was angry"), 1)
}

func TestMatch_Empty(t *testing.T) {
	assert.Empty(t, Match(Glossary{}, "text"))
	assert.Empty(t, Match(Glossary{"": "x"}, "text"))
	assert.Empty(t, Match(Glossary{"whale": "ballena"}, ""))
}

func TestTerms_LongestFirst(t *testing.T) {
	g := Glossary{"Ahab": "", "Moby Dick": "", "Moby": "", "Stub": ""}
	assert.Equal(t, []string{"Moby Dick", "Ahab", "Moby", "Stub"}, g.Terms())
}

func TestFilename(t *testing.T) {
	tests := []struct {
		source, target, want string
	}{
		{"en", "es", "glossary.en-es.json"},
		{"en-US", "zh-Hans", "glossary.en-zh.json"},
		{"pt-BR", "de", "glossary.pt-de.json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Filename(tt.source, tt.target))
	}
}

func TestLoad_JSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "g.json")
	yamlPath := filepath.Join(dir, "g.yaml")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"Ahab": "Acab"}`), 0o644))
	require.NoError(t, os.WriteFile(yamlPath, []byte("Ahab: Acab\nStarbuck: Starbuck\n"), 0o644))

	g, err := Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, Glossary{"Ahab": "Acab"}, g)

	g, err = Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, Glossary{"Ahab": "Acab", "Starbuck": "Starbuck"}, g)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0o644))
	_, err = Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse glossary")
}

func TestDir_LookupMissingIsEmpty(t *testing.T) {
	d := NewDir(t.TempDir())
	g, err := d.Lookup("en", "es")
	require.NoError(t, err)
	assert.Empty(t, g)
}

func TestDir_StoreThenLookup(t *testing.T) {
	root := filepath.Join(t.TempDir(), "glossaries")
	d := NewDir(root)

	require.NoError(t, d.Store("en-GB", "es", Glossary{"Ahab": "Acab"}))
	assert.FileExists(t, filepath.Join(root, "glossary.en-es.json"))

	g, err := d.Lookup("en", "es-MX")
	require.NoError(t, err)
	assert.Equal(t, Glossary{"Ahab": "Acab"}, g)

	require.NoError(t, d.Store("en", "es", Glossary{"Ahab": "Ajab"}))
	g, err = d.Lookup("en", "es")
	require.NoError(t, err)
	assert.Equal(t, "Ajab", g["Ahab"])
}

func TestDir_ReloadsChangedFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "glossary.en-fr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("whale: baleine\n"), 0o644))

	d := NewDir(root)
	g, err := d.Lookup("en", "fr")
	require.NoError(t, err)
	assert.Equal(t, "baleine", g["whale"])

	require.NoError(t, os.WriteFile(path, []byte("whale: cachalot\n"), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	g, err = d.Lookup("en", "fr")
	require.NoError(t, err)
	assert.Equal(t, "cachalot", g["whale"])
}
