package news

import (
	"testing"
)

func newTestClassifier(t *testing.T, priority PriorityRules) *Classifier {
	t.Helper()
	rules := DefaultRules()
	c, err := NewClassifier(rules.Urgency, priority)
	if err != nil {
		t.Fatalf("Failed to create classifier: %v", err)
	}
	return c
}

func TestClassifier_Urgency(t *testing.T) {
	c := newTestClassifier(t, DefaultRules().Priority)

	tests := []struct {
		name string
		text string
		want int
	}{
		{"breaking news", "BREAKING: copper strike halts shipments", UrgencyHigh},
		{"quiet market", "Copper prices edge higher in thin trade", UrgencyNormal},
		{"medium keyword", "Miner warns on second-half output", UrgencyMedium},
		{"high beats medium", "UPDATE 2-Explosion at refinery", UrgencyHigh},
		{"word boundary", "Exchange is alerting members to new margin rules", UrgencyNormal},
		{"multi word keyword", "Producer declares force majeure on cargoes", UrgencyHigh},
		{"empty", "", UrgencyNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Urgency(tt.text); got != tt.want {
				t.Errorf("Expected urgency %d for %q, got %d", tt.want, tt.text, got)
			}
		})
	}
}

func TestClassifier_PriorityExample(t *testing.T) {
	priority := DefaultRules().Priority
	priority.Enabled = true
	priority.MinimumScore = 0
	c := newTestClassifier(t, priority)

	score := c.Priority("Strike shuts down smelter amid supply cut")
	if score < 20 {
		t.Errorf("Expected score >= 20, got %d", score)
	}
}

func TestClassifier_PriorityWeights(t *testing.T) {
	c := newTestClassifier(t, PriorityRules{
		Enabled: true,
		High:    []string{"strike"},
		Medium:  []string{"smelter"},
		Low:     []string{"copper"},
	})

	if got := c.Priority("copper smelter strike"); got != 17 {
		t.Errorf("Expected 17, got %d", got)
	}
	if got := c.Priority("strike after strike"); got != 20 {
		t.Errorf("Expected every occurrence to count, got %d", got)
	}
	if got := c.Priority("strikes"); got != 0 {
		t.Errorf("Expected partial word not to match, got %d", got)
	}
}

func TestClassifier_PriorityDisabled(t *testing.T) {
	c := newTestClassifier(t, PriorityRules{Enabled: false, High: []string{"strike"}})

	if got := c.Priority("strike strike strike"); got != 0 {
		t.Errorf("Expected 0 when scoring is disabled, got %d", got)
	}
}

func TestClassifier_PriorityCap(t *testing.T) {
	c := newTestClassifier(t, PriorityRules{Enabled: true, MaxScore: 15, High: []string{"strike"}})

	if got := c.Priority("strike strike strike"); got != 15 {
		t.Errorf("Expected capped score 15, got %d", got)
	}
}

func TestKeywordPattern(t *testing.T) {
	tests := []struct {
		keyword string
		want    string
	}{
		{"alert", `\balert\b`},
		{"u.s.", `\bu\.s\.`},
		{"#1", `#1\b`},
		{"ölpreis", `ölpreis\b`},
	}

	for _, tt := range tests {
		if got := keywordPattern(tt.keyword); got != tt.want {
			t.Errorf("keywordPattern(%q) = %q, want %q", tt.keyword, got, tt.want)
		}
	}
}
