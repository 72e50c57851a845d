package news

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

const blockElements = "p, br, div, li, tr, td, h1, h2, h3, h4, h5, h6, blockquote, pre"

// markupPattern only recognizes real HTML: a bare "<" in wire copy
// ("Copper <US$9,000") must not be handed to the HTML parser.
var markupPattern = regexp.MustCompile(`(?i)<!--|</?(a|abbr|article|b|big|blockquote|body|br|center|code|dd|div|dl|dt|em|figcaption|figure|font|footer|h[1-6]|head|header|hr|html|i|iframe|img|li|link|meta|noscript|ol|p|pre|s|script|section|small|span|strike|strong|style|sub|sup|table|tbody|td|tfoot|th|thead|title|tr|tt|u|ul)(\s[^<>]*)?/?>`)

var entityPattern = regexp.MustCompile(`&(#[0-9]{1,7}|#[xX][0-9a-fA-F]{1,6}|[a-zA-Z][a-zA-Z0-9]{1,31});`)

// CleanText strips markup, applies NFC normalization and collapses whitespace.
func CleanText(s string) string {
	switch {
	case markupPattern.MatchString(s):
		s = stripHTML(s)
	case entityPattern.MatchString(s):
		s = html.UnescapeString(s)
	}
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

func stripHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}

	doc.Find("script, style, noscript").Remove()
	doc.Find(blockElements).AfterHtml(" ")

	return doc.Text()
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}

	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}
