package browser

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// contentPreview returns at most limit runes of readable, tag-free text from html.
// Readability picks the main article; pages it cannot parse fall back to body text.
func contentPreview(html, pageURL string, limit int) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	var text string
	parsed, err := url.Parse(pageURL)
	if err != nil {
		parsed = &url.URL{}
	}
	if article, err := readability.FromReader(strings.NewReader(html), parsed); err == nil {
		text = article.TextContent
	}
	if strings.TrimSpace(text) == "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			doc.Find("script, style, noscript").Remove()
			text = doc.Find("body").Text()
		}
	}
	text = collapseSpace(strictPolicy.Sanitize(text))
	return truncateRunes(text, limit)
}

// pageMetadata collects <meta name|property=... content=...> pairs plus
// canonical link and html lang.
func pageMetadata(html string) map[string]string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	meta := make(map[string]string)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key := s.AttrOr("name", s.AttrOr("property", ""))
		content, ok := s.Attr("content")
		if key == "" || !ok {
			return
		}
		meta[strings.ToLower(key)] = strings.TrimSpace(content)
	})
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		meta["canonical"] = href
	}
	if lang, ok := doc.Find("html").First().Attr("lang"); ok && lang != "" {
		meta["lang"] = lang
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// documentTitle returns the <title> text of html.
func documentTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
