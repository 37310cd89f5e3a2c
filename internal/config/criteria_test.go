package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCriteria(t *testing.T) {
	c := DefaultCriteria()

	assert.Len(t, c.Regions, 50)
	assert.Len(t, c.Categories, 3)
	assert.Equal(t, 20000, c.SubscriberMin)
	assert.Equal(t, 150000, c.SubscriberMax)

	idaho := c.RegionByName("Idaho")
	require.NotNil(t, idaho)
	assert.Equal(t, []string{"Boise", "Meridian", "Nampa"}, idaho.Localities)

	cinema := c.CategoryByKey("cinema")
	require.NotNil(t, cinema)
	assert.Equal(t, "Cinema / Movie Reviews", cinema.Label)
	assert.Contains(t, cinema.Terms, "film critic")

	assert.Nil(t, c.RegionByName("Atlantis"))
	assert.Nil(t, c.CategoryByKey("cooking"))
}

func TestCriteriaSubscriberRange(t *testing.T) {
	c := DefaultCriteria()
	assert.Equal(t, "20,000-150,000", c.SubscriberRange())

	c.SubscriberMin, c.SubscriberMax = 500, 1500000
	assert.Equal(t, "500-1,500,000", c.SubscriberRange())
}

func TestCriteriaSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "criteria.yaml")

	in := &Criteria{
		Regions: []Region{{Name: "Idaho", Localities: []string{"Boise"}}},
		Categories: []Category{
			{Key: "gaming", Label: "Gaming / Video Games", Terms: []string{"gaming", "streamer"}},
		},
		SubscriberMin: 10000,
		SubscriberMax: 90000,
	}
	require.NoError(t, SaveCriteria(path, in))

	out, err := LoadCriteria(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLoadCriteria_EmptyPathGivesDefaults(t *testing.T) {
	c, err := LoadCriteria("")
	require.NoError(t, err)
	assert.Len(t, c.Regions, 50)
}

func TestLoadCriteria_FillsGaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "criteria.yaml")
	yaml := `
regions:
  - name: Idaho
    localities: [Boise, Meridian]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	c, err := LoadCriteria(path)
	require.NoError(t, err)
	assert.Len(t, c.Regions, 1)
	assert.Equal(t, 20000, c.SubscriberMin)
	assert.Equal(t, 150000, c.SubscriberMax)
	assert.Len(t, c.Categories, 3)
}

func TestLoadCriteria_MissingFile(t *testing.T) {
	_, err := LoadCriteria(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read criteria")
}
