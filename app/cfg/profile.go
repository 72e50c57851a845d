package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/lysyi3m/wire-comb/app/news"
	"gopkg.in/yaml.v3"
)

// Profile is the yaml ingest profile: what to fetch and how to classify it.
type Profile struct {
	Categories []string          `yaml:"categories"`
	Feeds      map[string]string `yaml:"feeds"`
	Rules      news.Rules        `yaml:",inline"`
}

// LoadProfile reads the profile at path on top of the built-in rules. A
// missing file yields the defaults.
func LoadProfile(path string) (*Profile, error) {
	profile := &Profile{Rules: news.DefaultRules()}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("Ingest profile not found, using defaults", "path", path)
		return profile, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	setDefaults(profile)

	if err := validateProfile(profile); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}

	slog.Debug("Loaded ingest profile", "path", path, "categories", len(profile.Categories), "feeds", len(profile.Feeds))
	return profile, nil
}

// setDefaults normalizes names and fills in categories from the feed map.
func setDefaults(p *Profile) {
	for i, c := range p.Categories {
		p.Categories[i] = strings.TrimSpace(c)
	}
	if len(p.Categories) == 0 && len(p.Feeds) > 0 {
		for category := range p.Feeds {
			p.Categories = append(p.Categories, category)
		}
		sort.Strings(p.Categories)
	}

	if p.Rules.MaxHeadlineLength == 0 {
		p.Rules.MaxHeadlineLength = news.DefaultMaxHeadlineLength
	}
	if p.Rules.Language.MinLetters == 0 {
		p.Rules.Language.MinLetters = news.DefaultMinLetters
	}
}

func validateProfile(p *Profile) error {
	seen := make(map[string]bool, len(p.Categories))
	for i, c := range p.Categories {
		if c == "" {
			return fmt.Errorf("empty category at index %d", i)
		}
		if seen[c] {
			return fmt.Errorf("duplicate category %q", c)
		}
		seen[c] = true
	}

	for category, url := range p.Feeds {
		if strings.TrimSpace(url) == "" {
			return fmt.Errorf("feed URL is required for category %q", category)
		}
	}

	return p.Rules.Validate()
}
