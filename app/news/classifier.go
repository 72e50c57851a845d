package news

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

type rule struct {
	keyword string
	pattern *regexp.Regexp
	weight  int
}

// Classifier evaluates the urgency and priority keyword rules. Rules are
// compiled once and evaluated in declaration order.
type Classifier struct {
	high     []rule
	medium   []rule
	priority []rule
	enabled  bool
	maxScore int
}

func NewClassifier(urgency UrgencyRules, priority PriorityRules) (*Classifier, error) {
	c := &Classifier{
		enabled:  priority.Enabled,
		maxScore: priority.MaxScore,
	}

	var err error
	if c.high, err = compileRules(urgency.High, UrgencyHigh); err != nil {
		return nil, fmt.Errorf("failed to compile high urgency rules: %w", err)
	}
	if c.medium, err = compileRules(urgency.Medium, UrgencyMedium); err != nil {
		return nil, fmt.Errorf("failed to compile medium urgency rules: %w", err)
	}

	for _, group := range []struct {
		keywords []string
		weight   int
	}{
		{priority.High, WeightHigh},
		{priority.Medium, WeightMedium},
		{priority.Low, WeightLow},
	} {
		rules, err := compileRules(group.keywords, group.weight)
		if err != nil {
			return nil, fmt.Errorf("failed to compile priority rules: %w", err)
		}
		c.priority = append(c.priority, rules...)
	}

	return c, nil
}

// Urgency returns 1 for the first high keyword hit, 2 for a medium hit and 3 otherwise.
func (c *Classifier) Urgency(text string) int {
	text = strings.ToLower(text)
	for _, r := range c.high {
		if r.pattern.MatchString(text) {
			return UrgencyHigh
		}
	}
	for _, r := range c.medium {
		if r.pattern.MatchString(text) {
			return UrgencyMedium
		}
	}
	return UrgencyNormal
}

// Priority sums the weight of every keyword occurrence. It is 0 when scoring is disabled.
func (c *Classifier) Priority(text string) int {
	if !c.enabled {
		return 0
	}

	text = strings.ToLower(text)
	score := 0
	for _, r := range c.priority {
		score += r.weight * len(r.pattern.FindAllStringIndex(text, -1))
	}

	if c.maxScore > 0 && score > c.maxScore {
		score = c.maxScore
	}
	return score
}

func compileRules(keywords []string, weight int) ([]rule, error) {
	rules := make([]rule, 0, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}

		pattern, err := regexp.Compile(keywordPattern(keyword))
		if err != nil {
			return nil, fmt.Errorf("keyword %q: %w", keyword, err)
		}
		rules = append(rules, rule{keyword: keyword, pattern: pattern, weight: weight})
	}
	return rules, nil
}

// keywordPattern anchors a keyword on word boundaries where its edges are
// ASCII word characters. RE2 boundaries are ASCII only, so other edges match as-is.
func keywordPattern(keyword string) string {
	var b strings.Builder
	first, _ := utf8.DecodeRuneInString(keyword)
	last, _ := utf8.DecodeLastRuneInString(keyword)

	if isASCIIWord(first) {
		b.WriteString(`\b`)
	}
	b.WriteString(regexp.QuoteMeta(keyword))
	if isASCIIWord(last) {
		b.WriteString(`\b`)
	}
	return b.String()
}

func isASCIIWord(r rune) bool {
	return r == '_' || ('0' <= r && r <= '9') || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')
}
