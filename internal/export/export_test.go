package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/scout-cli/internal/model"
)

func TestSafeName(t *testing.T) {
	assert.Equal(t, "New_York_City", SafeName("New York City"))
	assert.Equal(t, "Cinema_Movie_Reviews", SafeName("Cinema / Movie Reviews"))
	assert.Equal(t, "lets_play", SafeName("let's play"))
}

func TestSaveSearchCSV(t *testing.T) {
	e := New(t.TempDir())

	batches := []QueryBatch{
		{
			Query: "boise film critic youtube",
			Angle: "direct",
			Wave:  1,
			Results: []TriagedResult{
				{
					SearchResult: model.SearchResult{
						URL:     "https://example.com/a",
						Title:   "Boise film critics",
						Snippet: "A roundup of local reviewers",
						Domain:  "example.com",
						Page:    1,
					},
					Score:  7.5,
					Reason: "names local creators",
				},
			},
		},
	}

	path, err := e.SaveSearchCSV("Idaho", "Boise", "cinema", batches)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(e.dir, "Idaho", "Boise", "search_cinema.csv"), path)

	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"wave", "angle", "query", "url", "title", "snippet", "domain",
		"triage_score", "triage_reason", "page"}, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "direct", rows[1][1])
	assert.Equal(t, "https://example.com/a", rows[1][3])
	assert.Equal(t, "7.5", rows[1][7])
}

func TestSaveSearchCSV_EmptyWritesNothing(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	path, err := e.SaveSearchCSV("Idaho", "Boise", "cinema", nil)
	require.NoError(t, err)
	assert.Empty(t, path)

	_, err = os.Stat(filepath.Join(dir, "Idaho"))
	assert.True(t, os.IsNotExist(err))
}

func TestSaveResultsCSV(t *testing.T) {
	e := New(t.TempDir())

	cands := []model.Candidate{
		{
			Name:           "Pixel Pete",
			ChannelName:    "PixelPete",
			ChannelURL:     "https://youtube.com/@pixelpete",
			Subscribers:    45200,
			LocalityScore:  0.7,
			CategoryScore:  0.9,
			TotalScore:     0.785,
			Verified:       true,
			LastUploadText: "2 weeks ago",
		},
		{
			Name:            "Mystery Gamer",
			SubscribersText: "45.2K subscribers",
			Verified:        false,
		},
	}

	path, err := e.SaveResultsCSV("Idaho", "Boise", "gaming", cands)
	require.NoError(t, err)

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, "PixelPete", rows[1][0])
	assert.Equal(t, "45200", rows[1][2])
	assert.Equal(t, "0.785", rows[1][5])
	assert.Equal(t, "true", rows[1][6])
	// No channel data falls back to the assembled name and raw text.
	assert.Equal(t, "Mystery Gamer", rows[2][0])
	assert.Equal(t, "45.2K subscribers", rows[2][2])
}

func TestSaveWorkbook(t *testing.T) {
	e := New(t.TempDir())

	regions := []*model.RegionResolution{
		{
			Region: "Idaho",
			Localities: map[string]*model.LocalityResolution{
				"Boise": {
					Locality: "Boise",
					Region:   "Idaho",
					Categories: map[string]*model.CategoryResolution{
						"gaming": {
							Category: "gaming",
							Status:   model.StatusResolved,
							Candidates: []model.Candidate{
								{
									ChannelName: "PixelPete",
									ChannelURL:  "https://youtube.com/@pixelpete",
									Subscribers: 45200,
									TotalScore:  0.785,
									Verified:    true,
								},
								{Name: "Unverified", Verified: false},
							},
						},
						"cinema": {Category: "cinema", Status: model.StatusFailed},
					},
				},
			},
		},
	}

	path, err := e.SaveWorkbook("scout_run", regions)
	require.NoError(t, err)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	verified := f.Sheet["Verified"]
	require.NotNil(t, verified)
	require.Len(t, verified.Rows, 2)
	assert.Equal(t, "PixelPete", verified.Rows[1].Cells[3].String())
	assert.Equal(t, "0.785", verified.Rows[1].Cells[8].String())

	summary := f.Sheet["Summary"]
	require.NotNil(t, summary)
	require.Len(t, summary.Rows, 2)
	assert.Equal(t, "Boise", summary.Rows[1].Cells[1].String())
	assert.Equal(t, "2", summary.Rows[1].Cells[2].String())
	assert.Equal(t, "1", summary.Rows[1].Cells[3].String())
	assert.Equal(t, "1", summary.Rows[1].Cells[4].String())
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
