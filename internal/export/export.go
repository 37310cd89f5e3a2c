// Package export writes scan output to disk: per-cell CSV files mirroring
// the on-disk layout results/<region>/<locality>/, and a cross-run XLSX
// workbook of verified creators.
package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scout-cli/internal/model"
)

var unsafeRe = regexp.MustCompile(`[^\w\s-]`)

// SafeName sanitizes a string for use as a folder or file name.
func SafeName(s string) string {
	s = unsafeRe.ReplaceAllString(s, "")
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "_")
}

// TriagedResult is a search result with its triage outcome attached.
type TriagedResult struct {
	model.SearchResult
	Score  float64
	Reason string
}

// QueryBatch groups the triaged results of one executed query.
type QueryBatch struct {
	Query   string
	Angle   string
	Wave    int
	Results []TriagedResult
}

// Exporter writes files under a base directory.
type Exporter struct {
	dir string
}

// New creates an Exporter rooted at dir.
func New(dir string) *Exporter {
	return &Exporter{dir: dir}
}

func (e *Exporter) cellDir(region, locality string) (string, error) {
	dir := filepath.Join(e.dir, SafeName(region), SafeName(locality))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "export: create cell dir")
	}
	return dir, nil
}

// SaveSearchCSV writes every triaged search result for one
// region/locality/category cell. Empty batches write nothing.
func (e *Exporter) SaveSearchCSV(region, locality, category string, batches []QueryBatch) (string, error) {
	var rows [][]string
	for _, b := range batches {
		for _, r := range b.Results {
			snippet := r.Snippet
			if len(snippet) > 300 {
				snippet = snippet[:300]
			}
			rows = append(rows, []string{
				strconv.Itoa(b.Wave),
				b.Angle,
				b.Query,
				r.URL,
				r.Title,
				snippet,
				r.Domain,
				strconv.FormatFloat(r.Score, 'f', -1, 64),
				r.Reason,
				strconv.Itoa(r.Page),
			})
		}
	}
	if len(rows) == 0 {
		return "", nil
	}

	dir, err := e.cellDir(region, locality)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "search_"+SafeName(category)+".csv")
	header := []string{"wave", "angle", "query", "url", "title", "snippet", "domain",
		"triage_score", "triage_reason", "page"}
	if err := writeCSV(path, header, rows); err != nil {
		return "", err
	}
	return path, nil
}

// SaveResultsCSV writes the verified candidates for one category.
func (e *Exporter) SaveResultsCSV(region, locality, category string, candidates []model.Candidate) (string, error) {
	var rows [][]string
	for _, c := range candidates {
		desc := c.ChannelDescription
		if len(desc) > 200 {
			desc = desc[:200]
		}
		rows = append(rows, []string{
			channelName(c),
			c.ChannelURL,
			subscribers(c),
			strconv.FormatFloat(c.LocalityScore, 'f', 3, 64),
			strconv.FormatFloat(c.CategoryScore, 'f', 3, 64),
			strconv.FormatFloat(c.TotalScore, 'f', 3, 64),
			strconv.FormatBool(c.Verified),
			c.LastUploadText,
			desc,
		})
	}
	if len(rows) == 0 {
		return "", nil
	}

	dir, err := e.cellDir(region, locality)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "results_"+SafeName(category)+".csv")
	header := []string{"channel_name", "channel_url", "subscribers", "locality_score",
		"category_score", "total_score", "verified", "last_upload", "description"}
	if err := writeCSV(path, header, rows); err != nil {
		return "", err
	}
	return path, nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create csv")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	if err := w.WriteAll(rows); err != nil {
		return eris.Wrap(err, "export: write rows")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return nil
}

func channelName(c model.Candidate) string {
	if c.ChannelName != "" {
		return c.ChannelName
	}
	return c.Name
}

func subscribers(c model.Candidate) string {
	if c.Subscribers > 0 {
		return strconv.Itoa(c.Subscribers)
	}
	return c.SubscribersText
}
