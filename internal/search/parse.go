package search

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/sells-group/scout-cli/internal/model"
)

// Domains that are never useful as results (the engine itself, trackers,
// other search engines).
var skipDomains = map[string]bool{
	"search.brave.com": true,
	"brave.com":        true,
	"googleapis.com":   true,
	"gstatic.com":      true,
	"google.com":       true,
	"bing.com":         true,
	"microsoft.com":    true,
}

var (
	anchorRe  = regexp.MustCompile(`(?s)<a[^>]*href="(https?://[^"]+)"[^>]*>(.*?)</a>`)
	snippetRe = regexp.MustCompile(`(?s)(?:class="[^"]*(?:description|snippet|body|text)[^"]*"[^>]*>|<p[^>]*>)(.*?)(?:</|<br)`)
	tagRe     = regexp.MustCompile(`<[^>]+>`)
	spaceRe   = regexp.MustCompile(`\s+`)

	entityReplacer = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
)

// parseResults extracts organic results from a Brave search result page.
// Anchors pointing at the engine itself, known utility domains, or search
// links are skipped; each URL appears once.
func parseResults(html string) []model.SearchResult {
	var results []model.SearchResult
	seen := make(map[string]bool)

	for _, m := range anchorRe.FindAllStringSubmatchIndex(html, -1) {
		rawURL := html[m[2]:m[3]]
		text := cleanText(html[m[4]:m[5]])

		parsed, err := url.Parse(rawURL)
		if err != nil {
			continue
		}
		domain := strings.ToLower(parsed.Hostname())
		if skipDomains[domain] || seen[rawURL] || len(text) < 5 ||
			strings.Contains(rawURL, "/search?") || strings.Contains(rawURL, "javascript:") {
			continue
		}
		seen[rawURL] = true

		snippet := ""
		tail := html[m[1]:]
		if len(tail) > 1000 {
			tail = tail[:1000]
		}
		if sm := snippetRe.FindStringSubmatch(tail); sm != nil {
			snippet = cleanText(sm[1])
		} else if len(tail) > 20 {
			if len(tail) > 300 {
				tail = tail[:300]
			}
			snippet = cleanText(tail)
		}

		results = append(results, model.SearchResult{
			URL:     rawURL,
			Title:   truncate(text, 200),
			Snippet: truncate(snippet, 500),
			Domain:  domain,
		})
	}
	return results
}

func cleanText(s string) string {
	s = entityReplacer.Replace(s)
	s = tagRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
