package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

const copperRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Metals Wire</title>
    <link>https://example.com</link>
    <description>Metals</description>
    <item>
      <guid>story-1</guid>
      <title>Copper strike halts shipments</title>
      <link>https://example.com/story-1</link>
      <description>Workers walked out</description>
      <pubDate>Mon, 04 Mar 2024 10:00:00 GMT</pubDate>
    </item>
    <item>
      <guid>story-2</guid>
      <title>Copper prices edge higher</title>
      <link>https://example.com/story-2</link>
      <pubDate>Mon, 04 Mar 2024 09:00:00 GMT</pubDate>
    </item>
    <item>
      <guid>story-3</guid>
      <title>Zinc output falls</title>
      <link>https://example.com/story-3</link>
      <pubDate>Sun, 03 Mar 2024 09:00:00 GMT</pubDate>
    </item>
    <item>
      <title>No date, skipped</title>
      <link>https://example.com/story-4</link>
    </item>
  </channel>
</rss>`

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/copper.xml":
			w.Header().Set("Content-Type", "application/rss+xml")
			w.Write([]byte(copperRSS))
		case "/story-1":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(`<html><head><title>Strike</title></head><body><article>
				<p>Workers at the mine walked out on Monday after wage talks broke down, the union said, halting production.</p>
				<p>The company said shipments already at port would not be affected by the stoppage in the near term.</p>
				<p>Analysts said a prolonged stoppage could tighten a market already facing lower inventories this quarter.</p>
			</article></body></html>`))
		case "/limited.xml":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestFeedProvider_FetchPage(t *testing.T) {
	server := newFeedServer(t)
	defer server.Close()

	p := NewFeedProvider(map[string]string{"COPPER": server.URL + "/copper.xml"}, "wire-comb-test")

	query := Query{
		Category: "COPPER",
		Start:    time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		PageSize: 1,
	}

	first, err := p.FetchPage(context.Background(), query, 1)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(first.Records), 1)
	assert.Equal(t, first.Records[0].StoryID, "story-1")
	assert.Equal(t, first.Records[0].Source, "Metals Wire")
	assert.Equal(t, first.Next, 2)

	second, err := p.FetchPage(context.Background(), query, first.Next)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(second.Records), 1)
	assert.Equal(t, second.Records[0].StoryID, "story-2")
	assert.Equal(t, second.Done(), true)
}

func TestFeedProvider_UnknownCategory(t *testing.T) {
	p := NewFeedProvider(map[string]string{"COPPER": "http://127.0.0.1:1/copper.xml"}, "")

	_, err := p.FetchPage(context.Background(), Query{Category: "ZINC"}, 1)
	assert.Equal(t, errors.Is(err, ErrPermanent), true)
}

func TestFeedProvider_RateLimited(t *testing.T) {
	server := newFeedServer(t)
	defer server.Close()

	p := NewFeedProvider(map[string]string{"TOP": server.URL + "/limited.xml"}, "")

	_, err := p.FetchPage(context.Background(), Query{Category: "TOP"}, 1)
	assert.Equal(t, errors.Is(err, ErrRateLimited), true)
}

func TestFeedProvider_FetchBody(t *testing.T) {
	server := newFeedServer(t)
	defer server.Close()

	p := NewFeedProvider(nil, "")

	body, err := p.FetchBody(context.Background(), "story-1", server.URL+"/story-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, strings.Contains(body, "wage talks broke down"), true)

	_, err = p.FetchBody(context.Background(), "story-4", "")
	assert.Equal(t, errors.Is(err, ErrPermanent), true)
}
