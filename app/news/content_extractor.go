package news

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"

	"codeberg.org/readeck/go-readability"
)

// ContentExtractor turns a story page into plain body text.
type ContentExtractor struct{}

func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{}
}

func (e *ContentExtractor) Run(data []byte, pageURL string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("HTML data is empty")
	}

	var base *url.URL
	if pageURL != "" {
		if parsed, err := url.Parse(pageURL); err == nil {
			base = parsed
		}
	}

	article, err := readability.FromReader(bytes.NewReader(data), base)
	if err != nil {
		return "", fmt.Errorf("failed to extract content: %w", err)
	}

	text := CleanText(article.Content)
	if text == "" {
		return "", fmt.Errorf("no content extracted from HTML data")
	}

	slog.Debug("Content extracted successfully",
		"title", article.Title,
		"content_length", len(text))

	return text, nil
}
