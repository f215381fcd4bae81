// Package language provides the locale-handling capability consumed by the
// pipeline: detecting a message's locale and translating text between
// locales.
//
// The bundled StaticAdapter detects by stopword frequency over a small set
// of supported languages and canonicalizes codes with golang.org/x/text.
// It cannot translate; its Translate reports ErrUnsupported so the pipeline
// exercises its "keep the original text" fallback. Deployments with a real
// translation backend supply their own Adapter.
package language

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/language"
)

// Taxonomy errors.
var (
	// ErrUndetermined: detection found no clear signal.
	ErrUndetermined = errors.New("language: locale undetermined")

	// ErrUnsupported: the adapter cannot translate the requested pair.
	ErrUnsupported = errors.New("language: translation unsupported")
)

// Adapter detects message locales and translates text. Both operations may
// reach a network backend, hence the contexts; callers treat any error as
// "use what I already have".
type Adapter interface {
	Detect(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Canonical normalizes a locale code to its base language ("en-US" → "en").
// Returns false for unparseable codes.
func Canonical(code string) (string, bool) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", false
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", false
	}
	return base.String(), true
}

// Same reports whether two locale codes share a base language.
func Same(a, b string) bool {
	ca, okA := Canonical(a)
	cb, okB := Canonical(b)
	return okA && okB && ca == cb
}

// stopwords maps canonical base codes to high-frequency function words.
// Detection needs at least two distinct hits before it commits.
var stopwords = map[string][]string{
	"en": {"the", "and", "is", "am", "are", "my", "you", "feel", "not", "have"},
	"es": {"el", "la", "los", "es", "estoy", "que", "muy", "pero", "siento", "tengo"},
	"fr": {"le", "la", "les", "je", "suis", "est", "très", "mais", "sens", "pas"},
	"de": {"der", "die", "das", "ich", "bin", "ist", "sehr", "aber", "nicht", "fühle"},
}

// StaticAdapter is the dependency-free Adapter implementation.
type StaticAdapter struct{}

// NewStatic returns the stopword-based adapter.
func NewStatic() *StaticAdapter { return &StaticAdapter{} }

// Detect implements Adapter. It tokenizes on whitespace, counts distinct
// stopword hits per supported language, and returns the clear winner.
func (a *StaticAdapter) Detect(_ context.Context, text string) (string, error) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return "", ErrUndetermined
	}
	present := make(map[string]bool, len(fields))
	for _, f := range fields {
		present[strings.Trim(f, ".,!?;:'\"()")] = true
	}

	best, bestHits, secondHits := "", 0, 0
	for code, words := range stopwords {
		hits := 0
		for _, w := range words {
			if present[w] {
				hits++
			}
		}
		switch {
		case hits > bestHits:
			best, secondHits, bestHits = code, bestHits, hits
		case hits > secondHits:
			secondHits = hits
		}
	}

	// Require a clear margin: at least two hits and strictly ahead.
	if bestHits < 2 || bestHits == secondHits {
		return "", ErrUndetermined
	}
	return best, nil
}

// Translate implements Adapter. Identical locales pass text through;
// everything else is unsupported here.
func (a *StaticAdapter) Translate(_ context.Context, text, from, to string) (string, error) {
	if Same(from, to) {
		return text, nil
	}
	return "", ErrUnsupported
}
