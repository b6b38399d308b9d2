package inbox

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/keywords"
)

// Source says where a link was found.
type Source string

const (
	SourceHeader Source = "list-unsubscribe"
	SourceHTML   Source = "html"
	SourceText   Source = "text"
)

// Link is an http(s) unsubscribe candidate.
type Link struct {
	URL      string `json:"url"`
	Source   Source `json:"source"`
	OneClick bool   `json:"one_click,omitempty"`
}

var (
	urlRegex = regexp.MustCompile(`https?://[^\s<>"']+`)

	// List-Unsubscribe entries are angle-bracketed URIs.
	headerURIRegex = regexp.MustCompile(`<([^>]+)>`)

	trackingPatterns = []string{
		"pixel", "beacon",
		"open.gif", "spacer.gif",
		"1x1",
	}
)

// ExtractLinks collects unsubscribe links from msg: List-Unsubscribe header
// URIs first, then matching anchors of the HTML part, then matching URLs in
// the plain-text part. Duplicates keep their first position.
func ExtractLinks(msg *Message, dict *keywords.Dictionary) []Link {
	if dict == nil {
		dict = keywords.Default()
	}
	links := []Link{}
	seen := make(map[string]bool)
	add := func(raw string, src Source, oneClick bool) {
		u := cleanURL(raw)
		if u == "" || seen[u] || isTrackingURL(u) {
			return
		}
		seen[u] = true
		links = append(links, Link{URL: u, Source: src, OneClick: oneClick})
	}

	for _, u := range headerURIs(msg.ListUnsubscribe) {
		add(u, SourceHeader, msg.OneClick)
	}
	if msg.HTMLBody != "" {
		for _, u := range htmlLinks(msg.HTMLBody, dict) {
			add(u, SourceHTML, false)
		}
	}
	for _, u := range urlRegex.FindAllString(msg.Body, -1) {
		if _, ok := keywords.Match(u, dict.DirectLink); ok {
			add(u, SourceText, false)
		}
	}
	return links
}

// MailtoTargets returns the mailto: URIs of the List-Unsubscribe header.
func MailtoTargets(msg *Message) []string {
	var out []string
	for _, u := range headerURIs(msg.ListUnsubscribe) {
		if strings.HasPrefix(strings.ToLower(u), "mailto:") {
			out = append(out, u)
		}
	}
	return out
}

func headerURIs(header string) []string {
	var out []string
	for _, m := range headerURIRegex.FindAllStringSubmatch(header, -1) {
		if u := strings.TrimSpace(m[1]); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// htmlLinks returns hrefs of anchors whose text or href reads like an
// unsubscribe link, in document order.
func htmlLinks(html string, dict *keywords.Dictionary) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var urls []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := s.Text()
		if title, ok := s.Attr("title"); ok {
			text += " " + title
		}
		_, byText := keywords.Match(text, dict.DirectLink)
		_, byHref := keywords.Match(href, dict.DirectLink)
		if byText || byHref {
			urls = append(urls, strings.TrimSpace(href))
		}
	})
	return urls
}

// cleanURL trims trailing punctuation and keeps only absolute http(s) URLs.
func cleanURL(rawURL string) string {
	rawURL = strings.TrimRight(strings.TrimSpace(rawURL), ".,;:!?)")

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	if parsed.Host == "" {
		return ""
	}
	return parsed.String()
}

func isTrackingURL(u string) bool {
	lower := strings.ToLower(u)
	for _, pattern := range trackingPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return strings.HasSuffix(lower, ".gif")
}
