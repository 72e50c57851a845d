package news

import (
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// Detector returns a language code or UnknownLanguage. Implementations must not fail.
type Detector interface {
	Detect(text string) string
}

type TrigramDetector struct {
	minConfidence float64
	minLetters    int
}

func NewTrigramDetector(rules LanguageRules) *TrigramDetector {
	return &TrigramDetector{
		minConfidence: rules.MinConfidence,
		minLetters:    rules.MinLetters,
	}
}

func (d *TrigramDetector) Detect(text string) string {
	if countLetters(text) < d.minLetters {
		return UnknownLanguage
	}

	info := whatlanggo.Detect(text)
	if info.Confidence < d.minConfidence && !info.IsReliable() {
		return UnknownLanguage
	}

	return CanonicalLanguage(info.Lang.Iso6391())
}

type disabledDetector struct{}

func (disabledDetector) Detect(string) string {
	return UnknownLanguage
}

// CanonicalLanguage maps a BCP 47 tag or ISO code ("EN-us", "en", "eng") to its
// base language, or UnknownLanguage when it cannot be parsed.
func CanonicalLanguage(code string) string {
	code = strings.TrimSpace(code)
	if code == "" || strings.EqualFold(code, UnknownLanguage) {
		return UnknownLanguage
	}

	tag, err := language.Parse(code)
	if err != nil {
		return UnknownLanguage
	}

	base, confidence := tag.Base()
	if confidence == language.No {
		return UnknownLanguage
	}
	return base.String()
}

func countLetters(text string) int {
	n := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}
