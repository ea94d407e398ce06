package httpapi

import (
	"encoding/json"
	"net/http"

	"golang.org/x/text/language"

	"github.com/MimeLyc/book-translator/internal/glossary"
)

func (s *Server) handleGetGlossary(w http.ResponseWriter, r *http.Request) {
	source, target, ok := glossaryPair(w, r)
	if !ok {
		return
	}
	terms, err := s.app.Glossaries.Lookup(source, target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, terms)
}

func (s *Server) handlePutGlossary(w http.ResponseWriter, r *http.Request) {
	source, target, ok := glossaryPair(w, r)
	if !ok {
		return
	}
	var terms glossary.Glossary
	if err := json.NewDecoder(r.Body).Decode(&terms); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if terms == nil {
		terms = glossary.Glossary{}
	}
	if err := s.app.Glossaries.Store(source, target, terms); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, terms)
}

func glossaryPair(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	source, target := r.PathValue("source"), r.PathValue("target")
	for _, code := range []string{source, target} {
		if _, err := language.Parse(code); err != nil {
			writeError(w, http.StatusBadRequest, "invalid language "+code)
			return "", "", false
		}
	}
	return source, target, true
}
