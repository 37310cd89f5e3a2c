// Package verify implements the platform-verification collaborator: it
// visits a YouTube channel page, confirms the channel exists, and parses
// subscriber count, description, and last-upload recency out of the page
// markup. Failure is reported inside the result, never as an error.
package verify

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/scout-cli/internal/model"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_3) AppleWebKit/605.1.15 Safari/605.1.15",
}

// Markers whose presence in channel HTML confirms the channel exists.
var existenceMarkers = []string{
	`"channelMetadataRenderer"`,
	`property="og:title"`,
	`"channelId"`,
}

var (
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?s)<meta property="og:title" content="([^"]+)"`),
		regexp.MustCompile(`"title":\s*"([^"]{2,80})"`),
	}
	subsPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"subscriberCountText":\s*\{[^}]*"simpleText":\s*"([^"]+)"`),
		regexp.MustCompile(`"subscriberCountText":\s*"([^"]+)"`),
	}
	descriptionRe = regexp.MustCompile(`<meta property="og:description" content="([^"]*)"`)
	publishedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"publishedTimeText":\s*\{[^}]*"simpleText":\s*"([^"]+)"`),
		regexp.MustCompile(`"publishedTimeText":\s*"([^"]+)"`),
	}
	digitsRe = regexp.MustCompile(`(\d+)`)
)

// Verifier is the platform-verification collaborator interface.
type Verifier interface {
	Verify(ctx context.Context, url string) model.ChannelInfo
}

// Option configures the verifier.
type Option func(*youtubeVerifier)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(v *youtubeVerifier) { v.http = hc }
}

// WithLimiter overrides the default request rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(v *youtubeVerifier) { v.limiter = l }
}

// WithBaseURL rewrites channel URLs onto a different host (tests point this
// at a local server).
func WithBaseURL(u string) Option {
	return func(v *youtubeVerifier) { v.baseURL = strings.TrimRight(u, "/") }
}

type youtubeVerifier struct {
	http    *http.Client
	limiter *rate.Limiter
	baseURL string
	subMin  int
	subMax  int
	rng     *rand.Rand
}

// NewYouTube creates a verifier that gates channels on the given subscriber
// range (inclusive).
func NewYouTube(subMin, subMax int, opts ...Option) Verifier {
	v := &youtubeVerifier{
		http:    &http.Client{Timeout: 25 * time.Second},
		limiter: rate.NewLimiter(rate.Every(3*time.Second), 1),
		subMin:  subMin,
		subMax:  subMax,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify fetches the channel page and its /videos tab. The second request
// only determines upload recency; its failure does not invalidate the rest.
func (v *youtubeVerifier) Verify(ctx context.Context, url string) model.ChannelInfo {
	result := model.ChannelInfo{URL: url}

	if url == "" || !strings.Contains(url, "youtube.com") {
		result.Error = "not a YouTube URL"
		return result
	}

	cleanURL := strings.TrimRight(strings.SplitN(url, "?", 2)[0], "/")
	requestURL := cleanURL
	if v.baseURL != "" {
		if idx := strings.Index(cleanURL, "youtube.com"); idx >= 0 {
			requestURL = v.baseURL + cleanURL[idx+len("youtube.com"):]
		}
	}

	html, status, err := v.get(ctx, requestURL)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if status == http.StatusNotFound {
		result.Error = "404"
		return result
	}
	if status != http.StatusOK {
		result.Error = "HTTP " + strconv.Itoa(status)
		return result
	}

	for _, marker := range existenceMarkers {
		if strings.Contains(html, marker) {
			result.Exists = true
			break
		}
	}
	for _, re := range namePatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			result.Name = strings.TrimSpace(m[1])
			break
		}
	}
	for _, re := range subsPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			result.SubscribersText = strings.TrimSpace(m[1])
			result.Subscribers = ParseSubscribers(result.SubscribersText)
			result.SubscriberInRange = result.Subscribers >= v.subMin && result.Subscribers <= v.subMax
			break
		}
	}
	if m := descriptionRe.FindStringSubmatch(html); m != nil {
		desc := m[1]
		if len(desc) > 300 {
			desc = desc[:300]
		}
		result.Description = desc
	}

	// Upload recency from the videos tab. Best effort.
	if html, status, err = v.get(ctx, requestURL+"/videos"); err == nil && status == http.StatusOK {
		for _, re := range publishedPatterns {
			if m := re.FindStringSubmatch(html); m != nil {
				result.LastUploadText = strings.TrimSpace(m[1])
				result.UploadRecent = IsRecentUpload(result.LastUploadText)
				break
			}
		}
	}

	return result
}

func (v *youtubeVerifier) get(ctx context.Context, url string) (string, int, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", userAgents[v.rng.Intn(len(userAgents))])
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := v.http.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(body), resp.StatusCode, nil
}

// ParseSubscribers turns a display string like "45.2K subscribers" into a
// count. Unparseable input yields 0.
func ParseSubscribers(text string) int {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.ReplaceAll(t, "subscribers", "")
	t = strings.ReplaceAll(t, "subscriber", "")
	t = strings.TrimSpace(t)
	t = strings.ReplaceAll(t, ",", "")
	t = strings.ReplaceAll(t, " ", "")
	if t == "" {
		return 0
	}

	mult := 1.0
	switch {
	case strings.HasSuffix(t, "k"):
		mult = 1_000
		t = t[:len(t)-1]
	case strings.HasSuffix(t, "m"):
		mult = 1_000_000
		t = t[:len(t)-1]
	}
	v, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0
	}
	return int(v * mult)
}

// IsRecentUpload reports whether a relative upload time ("2 weeks ago")
// falls within roughly the last month.
func IsRecentUpload(text string) bool {
	t := strings.ToLower(text)
	if t == "" {
		return false
	}
	if strings.Contains(t, "hour") || strings.Contains(t, "minute") || strings.Contains(t, "second") {
		return true
	}
	n := 0
	if m := digitsRe.FindStringSubmatch(t); m != nil {
		n, _ = strconv.Atoi(m[1])
	}
	switch {
	case strings.Contains(t, "day"):
		return n == 0 || n <= 30
	case strings.Contains(t, "week"):
		return n == 0 || n <= 4
	case strings.Contains(t, "month"):
		return n != 0 && n <= 1
	}
	return false
}
