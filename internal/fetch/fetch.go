// Package fetch implements the page-fetching collaborator. Fetch never
// returns an error for ordinary failure: timeouts, bad status codes, and
// non-HTML content all come back inside the PageData result so the
// orchestrator can skip the page and continue the wave.
package fetch

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/scout-cli/internal/model"
	"github.com/sells-group/scout-cli/internal/resilience"
)

const defaultMaxChars = 20000

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_3) AppleWebKit/605.1.15 Safari/605.1.15",
}

// YouTube channel URL shapes worth extracting from arbitrary pages.
var youtubePatterns = []*regexp.Regexp{
	regexp.MustCompile(`https?://(?:www\.)?youtube\.com/@[\w\-.]+`),
	regexp.MustCompile(`https?://(?:www\.)?youtube\.com/channel/UC[\w\-]+`),
	regexp.MustCompile(`https?://(?:www\.)?youtube\.com/c/[\w\-]+`),
	regexp.MustCompile(`https?://(?:www\.)?youtube\.com/user/[\w\-]+`),
}

var (
	titleRe = regexp.MustCompile(`(?i)<title[^>]*>([^<]+)</title>`)
	tagRe   = regexp.MustCompile(`<[^>]+>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// Tags whose content is noise for text extraction.
var stripTags = []string{"script", "style", "nav", "header", "footer", "aside", "noscript", "svg", "iframe"}

var stripRes = func() []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(stripTags))
	for i, tag := range stripTags {
		res[i] = regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
	}
	return res
}()

// Fetcher is the page-fetch collaborator interface.
type Fetcher interface {
	Fetch(ctx context.Context, url string) model.PageData
}

// Option configures the fetcher.
type Option func(*httpFetcher)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *httpFetcher) { f.http = hc }
}

// WithLimiter overrides the default request rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(f *httpFetcher) { f.limiter = l }
}

// WithMaxChars caps the extracted plaintext length.
func WithMaxChars(n int) Option {
	return func(f *httpFetcher) { f.maxChars = n }
}

// WithRetry overrides the rate-limit retry schedule.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(f *httpFetcher) { f.retry = cfg }
}

type httpFetcher struct {
	http     *http.Client
	limiter  *rate.Limiter
	maxChars int
	retry    resilience.RetryConfig
	rng      *rand.Rand
}

// New creates a page fetcher with a polite default rate of one request per
// two seconds. Pages answering 429 or a 5xx get one retry; transport
// failures do not, the orchestrator just skips the page.
func New(opts ...Option) Fetcher {
	f := &httpFetcher{
		http:     &http.Client{Timeout: 20 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(2*time.Second), 1),
		maxChars: defaultMaxChars,
		retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: 5 * time.Second,
			ShouldRetry:    isRetryableStatus,
			OnRetry:        resilience.RetryLogger("fetch", "page"),
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func isRetryableStatus(err error) bool {
	var te *resilience.TransientError
	return errors.As(err, &te)
}

type page struct {
	html        string
	contentType string
}

// Fetch retrieves one page and extracts plaintext, the title, and any
// YouTube channel URLs present in the raw HTML.
func (f *httpFetcher) Fetch(ctx context.Context, url string) model.PageData {
	result := model.PageData{URL: url}

	if err := f.limiter.Wait(ctx); err != nil {
		result.Error = err.Error()
		return result
	}

	pg, err := resilience.DoVal(ctx, f.retry, func(ctx context.Context) (page, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return page{}, errors.New("bad URL: " + err.Error())
		}
		req.Header.Set("User-Agent", userAgents[f.rng.Intn(len(userAgents))])
		req.Header.Set("Accept", "text/html")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := f.http.Do(req)
		if err != nil {
			return page{}, err
		}
		defer resp.Body.Close() //nolint:errcheck

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return page{}, resilience.NewTransientError(errors.New("HTTP "+resp.Status), resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return page{}, errors.New("HTTP " + resp.Status)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return page{}, err
		}
		return page{html: string(body), contentType: resp.Header.Get("Content-Type")}, nil
	})
	if err != nil {
		result.Error = err.Error()
		return result
	}

	if !strings.Contains(pg.contentType, "text/html") && !strings.Contains(pg.contentType, "text/plain") {
		result.Error = "not HTML: " + truncate(pg.contentType, 50)
		return result
	}
	html := pg.html

	result.Success = true
	if m := titleRe.FindStringSubmatch(html); m != nil {
		result.Title = truncate(strings.TrimSpace(m[1]), 200)
	}
	result.PlatformURLs = ExtractPlatformURLs(html)
	result.Text = truncate(StripHTML(html), f.maxChars)
	return result
}

// ExtractPlatformURLs collects unique YouTube channel URLs from raw HTML.
func ExtractPlatformURLs(html string) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, re := range youtubePatterns {
		for _, m := range re.FindAllString(html, -1) {
			if !seen[m] {
				seen[m] = true
				urls = append(urls, m)
			}
		}
	}
	return urls
}

// StripHTML removes noise tags, then all markup, and collapses whitespace.
func StripHTML(html string) string {
	for _, re := range stripRes {
		html = re.ReplaceAllString(html, "")
	}
	html = tagRe.ReplaceAllString(html, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(html, " "))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
