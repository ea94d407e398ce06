package translator

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/MimeLyc/book-translator/internal/errs"
)

// Pair is a normalized (source, target) language pair of base language codes.
type Pair struct {
	Source string
	Target string
}

// NewPair normalizes BCP-47 tags such as "en-US" or "zh-Hans" to their base
// language ("en", "zh").
func NewPair(source, target string) (Pair, error) {
	src, err := baseLanguage(source)
	if err != nil {
		return Pair{}, err
	}
	tgt, err := baseLanguage(target)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Source: src, Target: tgt}, nil
}

func (p Pair) String() string {
	return p.Source + "-" + p.Target
}

func baseLanguage(s string) (string, error) {
	tag, err := language.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", errs.Wrap(err, errs.KindValidation, fmt.Sprintf("invalid language %q", s))
	}
	base, _ := tag.Base()
	return base.String(), nil
}

// Model is a loaded translation model bound to one language pair.
type Model interface {
	Name() string
	Translate(ctx context.Context, text string) (string, error)
	// MaxInputChars is the largest input the model accepts in one call.
	// Zero means the engine default applies.
	MaxInputChars() int
}

// ModelSpec is the result of resolving a pair against a Registry.
type ModelSpec struct {
	Name         string
	Pair         Pair
	Multilingual bool
}

// Loader turns a ModelSpec into a usable Model. Loading may be slow.
type Loader interface {
	Load(ctx context.Context, spec ModelSpec) (Model, error)
}

type LoaderFunc func(ctx context.Context, spec ModelSpec) (Model, error)

func (f LoaderFunc) Load(ctx context.Context, spec ModelSpec) (Model, error) {
	return f(ctx, spec)
}
