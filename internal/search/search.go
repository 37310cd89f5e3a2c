// Package search implements the web search collaborator against Brave
// Search. Results come from scraping the HTML result pages; pagination
// stops early on rate limiting and the engine returns whatever it has
// collected rather than erroring. Ordinary HTTP trouble is never an error,
// only context cancellation and configuration problems are.
package search

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/scout-cli/internal/model"
	"github.com/sells-group/scout-cli/internal/resilience"
)

const (
	defaultBaseURL = "https://search.brave.com"
	resultsPerPage = 20
	// minNewResults stops pagination when a page contributes fewer new
	// results than this.
	minNewResults = 3
	// max429 caps the attempts per page; a page still rate limited after
	// that abandons the whole query.
	max429 = 2
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/121.0.0.0 Safari/537.36 Edg/121.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_3) AppleWebKit/605.1.15 Safari/605.1.15",
}

// Engine is the search collaborator interface the orchestrator consumes.
type Engine interface {
	Search(ctx context.Context, query string) ([]model.SearchResult, error)
}

// Option configures the Brave engine.
type Option func(*braveEngine)

// WithBaseURL overrides the search endpoint (tests point this at a local
// server).
func WithBaseURL(u string) Option {
	return func(e *braveEngine) { e.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(e *braveEngine) { e.http = hc }
}

// WithPages sets how many result pages are requested per query.
func WithPages(n int) Option {
	return func(e *braveEngine) { e.pages = n }
}

// WithLimiter overrides the default request rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(e *braveEngine) { e.limiter = l }
}

// WithRateLimitBackoff sets how long to wait after a 429 before retrying
// the page.
func WithRateLimitBackoff(d time.Duration) Option {
	return func(e *braveEngine) { e.backoff429 = d }
}

type braveEngine struct {
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	pages      int
	backoff429 time.Duration
	rng        *rand.Rand
}

// NewBrave creates a Brave search engine. The default limiter allows one
// request every five seconds, matching polite scraping of the HTML
// endpoint.
func NewBrave(opts ...Option) Engine {
	e := &braveEngine{
		baseURL:    defaultBaseURL,
		http:       &http.Client{Timeout: 20 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(5*time.Second), 1),
		pages:      2,
		backoff429: 30 * time.Second,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// retryConfig retries rate-limited pages with a growing backoff. Other
// transient transport errors ride the same schedule.
func (e *braveEngine) retryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    max429,
		InitialBackoff: e.backoff429,
		Multiplier:     2.0,
		OnRetry:        resilience.RetryLogger("brave", "search"),
	}
}

type resultPage struct {
	html   string
	status int
}

// Search runs one paginated query. Partial results are returned on rate
// limiting or HTTP failure; error is non-nil only for context cancellation.
func (e *braveEngine) Search(ctx context.Context, query string) ([]model.SearchResult, error) {
	var all []model.SearchResult
	seen := make(map[string]bool)

	for page := 0; page < e.pages; page++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return all, err
		}

		offset := page * resultsPerPage
		pg, err := resilience.DoVal(ctx, e.retryConfig(), func(ctx context.Context) (resultPage, error) {
			html, status, err := e.fetchPage(ctx, query, offset)
			if err != nil {
				return resultPage{}, err
			}
			if status == http.StatusTooManyRequests {
				return resultPage{}, resilience.NewTransientError(errors.New("rate limited"), status)
			}
			return resultPage{html: html, status: status}, nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			var te *resilience.TransientError
			if errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests {
				zap.L().Warn("rate limited repeatedly, abandoning remaining pages",
					zap.String("query", query))
			} else {
				zap.L().Warn("search page failed",
					zap.String("query", query), zap.Int("page", page+1), zap.Error(err))
			}
			break
		}
		if pg.status != http.StatusOK {
			zap.L().Warn("search page returned non-200",
				zap.String("query", query), zap.Int("status", pg.status))
			break
		}

		pageResults := parseResults(pg.html)
		if len(pageResults) == 0 {
			break
		}

		added := 0
		for _, r := range pageResults {
			if seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			r.Query = query
			r.Page = page + 1
			all = append(all, r)
			added++
		}
		zap.L().Debug("search page parsed",
			zap.String("query", query), zap.Int("page", page+1),
			zap.Int("new", added), zap.Int("total", len(all)))
		if added < minNewResults {
			break
		}
	}
	return all, nil
}

func (e *braveEngine) fetchPage(ctx context.Context, query string, offset int) (string, int, error) {
	u := e.baseURL + "/search?q=" + url.QueryEscape(query)
	if offset > 0 {
		u += "&offset=" + strconv.Itoa(offset)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", userAgents[e.rng.Intn(len(userAgents))])
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("DNT", "1")
	req.Header.Set("Referer", "https://search.brave.com/")
	req.Header.Set("Sec-Fetch-Dest", "document")

	resp, err := e.http.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(body), resp.StatusCode, nil
}
