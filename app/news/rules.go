package news

import (
	"fmt"
	"strings"
)

const (
	DefaultMaxHeadlineLength = 500
	DefaultMinConfidence     = 0.5
	DefaultMinLetters        = 12

	DefaultSimilarityThreshold = 0.85
	DefaultCheckWindowHours    = 24

	WeightHigh   = 10
	WeightMedium = 5
	WeightLow    = 2
)

type UrgencyRules struct {
	High   []string `yaml:"high"`
	Medium []string `yaml:"medium"`
}

type PriorityRules struct {
	Enabled      bool     `yaml:"enabled"`
	MinimumScore int      `yaml:"minimum_score"`
	MaxScore     int      `yaml:"max_score"`
	High         []string `yaml:"high"`
	Medium       []string `yaml:"medium"`
	Low          []string `yaml:"low"`
}

type LanguageRules struct {
	Enabled       bool    `yaml:"enabled"`
	MinConfidence float64 `yaml:"min_confidence"`
	MinLetters    int     `yaml:"min_letters"`
}

// DuplicateRules configures near-duplicate suppression: a headline at least
// SimilarityThreshold similar to one published within CheckWindowHours of it
// is not stored.
type DuplicateRules struct {
	Enabled             bool    `yaml:"enabled"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	CheckWindowHours    int     `yaml:"check_window_hours"`
}

// Rules configures the normalizer. A zero value is not useful; start from
// DefaultRules and override.
type Rules struct {
	MaxHeadlineLength int               `yaml:"max_headline_length"`
	Urgency           UrgencyRules      `yaml:"urgency"`
	Priority          PriorityRules     `yaml:"priority"`
	Language          LanguageRules     `yaml:"language"`
	Sources           map[string]string `yaml:"sources"`
	Duplicates        DuplicateRules    `yaml:"duplicate_detection"`
}

func DefaultRules() Rules {
	return Rules{
		MaxHeadlineLength: DefaultMaxHeadlineLength,
		Urgency: UrgencyRules{
			High: []string{
				"breaking", "urgent", "alert", "flash", "halt", "halts", "halted",
				"explosion", "force majeure", "emergency", "evacuated",
			},
			Medium: []string{
				"update", "exclusive", "warns", "plunge", "plunges", "surge", "surges",
				"soar", "soars", "slump", "slumps", "cuts", "raises", "downgrade", "upgrade",
			},
		},
		Priority: PriorityRules{
			Enabled:      true,
			MinimumScore: 0,
			High: []string{
				"strike", "shuts down", "shut down", "supply cut", "force majeure", "outage",
				"sanctions", "default", "bankruptcy", "explosion", "tariff", "embargo",
			},
			Medium: []string{
				"smelter", "mine", "output", "production", "inventory", "inventories",
				"earnings", "guidance", "merger", "acquisition", "central bank", "rate hike",
			},
			Low: []string{
				"copper", "aluminium", "zinc", "nickel", "lead", "tin", "oil", "gold",
				"equity", "forex", "bond", "yield",
			},
		},
		Language: LanguageRules{
			Enabled:       true,
			MinConfidence: DefaultMinConfidence,
			MinLetters:    DefaultMinLetters,
		},
		Sources: map[string]string{
			"RTRS": "Reuters",
		},
		Duplicates: DuplicateRules{
			SimilarityThreshold: DefaultSimilarityThreshold,
			CheckWindowHours:    DefaultCheckWindowHours,
		},
	}
}

// Validate checks rule values that would make normalization meaningless.
func (r Rules) Validate() error {
	if r.MaxHeadlineLength <= 0 {
		return fmt.Errorf("max_headline_length must be positive, got %d", r.MaxHeadlineLength)
	}
	if r.Priority.MinimumScore < 0 {
		return fmt.Errorf("priority.minimum_score must not be negative, got %d", r.Priority.MinimumScore)
	}
	if r.Priority.MaxScore < 0 {
		return fmt.Errorf("priority.max_score must not be negative, got %d", r.Priority.MaxScore)
	}
	if r.Language.MinConfidence < 0 || r.Language.MinConfidence > 1 {
		return fmt.Errorf("language.min_confidence must be within [0,1], got %v", r.Language.MinConfidence)
	}
	if r.Duplicates.SimilarityThreshold <= 0 || r.Duplicates.SimilarityThreshold > 1 {
		return fmt.Errorf("duplicate_detection.similarity_threshold must be within (0,1], got %v", r.Duplicates.SimilarityThreshold)
	}
	if r.Duplicates.CheckWindowHours <= 0 {
		return fmt.Errorf("duplicate_detection.check_window_hours must be positive, got %d", r.Duplicates.CheckWindowHours)
	}
	for _, group := range [][]string{r.Urgency.High, r.Urgency.Medium, r.Priority.High, r.Priority.Medium, r.Priority.Low} {
		for _, keyword := range group {
			if strings.TrimSpace(keyword) == "" {
				return fmt.Errorf("keyword lists must not contain empty entries")
			}
		}
	}
	return nil
}
