package news

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
)

// ricPattern matches instrument codes embedded in wire text, e.g. "<CMCU3>" or "<AAPL.O>".
var ricPattern = regexp.MustCompile(`<([A-Z0-9][A-Za-z0-9.=^_#-]{0,31})>`)

type Normalizer struct {
	rules      Rules
	classifier *Classifier
	detector   Detector
}

// NewNormalizer compiles the keyword rules. A nil detector selects the
// trigram detector, or none when language detection is disabled.
func NewNormalizer(rules Rules, detector Detector) (*Normalizer, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid normalization rules: %w", err)
	}

	classifier, err := NewClassifier(rules.Urgency, rules.Priority)
	if err != nil {
		return nil, err
	}

	if !rules.Language.Enabled {
		detector = disabledDetector{}
	} else if detector == nil {
		detector = NewTrigramDetector(rules.Language)
	}

	return &Normalizer{
		rules:      rules,
		classifier: classifier,
		detector:   detector,
	}, nil
}

// Normalize turns a provider record into an Article. It never fails: fields
// that cannot be derived fall back to their defaults.
func (n *Normalizer) Normalize(raw RawRecord, category string) Article {
	tickers := n.collectTickers(raw)

	article := Article{
		StoryID:     strings.TrimSpace(raw.StoryID),
		Headline:    Truncate(cleanWireText(raw.Headline), n.rules.MaxHeadlineLength),
		Summary:     cleanWireText(raw.Summary),
		BodyText:    cleanWireText(raw.Body),
		URL:         strings.TrimSpace(raw.URL),
		Source:      n.canonicalSource(raw.Source),
		PublishedAt: raw.PublishedAt.UTC(),
		Category:    strings.TrimSpace(category),
		Tickers:     tickers,
	}

	text := article.Headline
	if article.BodyText != "" {
		text += " " + article.BodyText
	}

	article.Language = n.detectLanguage(text)
	if article.Language == UnknownLanguage && n.rules.Language.Enabled {
		slog.Debug("Language detection degraded", "story_id", article.StoryID)
	}

	article.UrgencyLevel = n.classifier.Urgency(text)
	article.PriorityScore = n.classifier.Priority(text)

	return article
}

func (n *Normalizer) detectLanguage(text string) (code string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Language detection failed", "error", r)
			code = UnknownLanguage
		}
	}()

	code = n.detector.Detect(text)
	if code == "" {
		return UnknownLanguage
	}
	return code
}

// Retain reports whether an article passes the minimum priority filter.
func (n *Normalizer) Retain(article Article) bool {
	if !n.rules.Priority.Enabled || n.rules.Priority.MinimumScore <= 0 {
		return true
	}
	return article.PriorityScore >= n.rules.Priority.MinimumScore
}

func (n *Normalizer) canonicalSource(source string) string {
	source = strings.TrimSpace(source)
	source = strings.TrimPrefix(source, "NS:")
	if alias, ok := n.rules.Sources[strings.ToUpper(source)]; ok {
		return alias
	}
	return source
}

func (n *Normalizer) collectTickers(raw RawRecord) []Ticker {
	relevance := make(map[string]float64)

	add := func(code string, score float64) {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			return
		}
		if current, ok := relevance[code]; !ok || score > current {
			relevance[code] = score
		}
	}

	for _, t := range raw.Tickers {
		score := 1.0
		if t.Relevance != nil {
			score = clampRelevance(*t.Relevance)
		}
		add(t.Code, score)
	}

	for _, text := range []string{raw.Headline, raw.Body} {
		for _, match := range ricPattern.FindAllStringSubmatch(text, -1) {
			add(match[1], 1.0)
		}
	}

	if len(relevance) == 0 {
		return nil
	}

	tickers := make([]Ticker, 0, len(relevance))
	for code, score := range relevance {
		tickers = append(tickers, Ticker{Code: code, Relevance: score})
	}
	sort.Slice(tickers, func(i, j int) bool {
		return tickers[i].Code < tickers[j].Code
	})
	return tickers
}

// cleanWireText drops instrument markers before the generic cleanup; their
// codes are collected as tickers.
func cleanWireText(s string) string {
	return CleanText(ricPattern.ReplaceAllString(s, " "))
}

func clampRelevance(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 1.0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
