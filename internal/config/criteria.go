package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Criteria describes what a scan is looking for: which regions and
// localities to cover, which creator categories to resolve, and the
// subscriber window that qualifies a channel.
type Criteria struct {
	Regions       []Region   `yaml:"regions"`
	Categories    []Category `yaml:"categories"`
	SubscriberMin int        `yaml:"subscriber_min"`
	SubscriberMax int        `yaml:"subscriber_max"`
}

// Region is a region name with its localities, scanned in order.
type Region struct {
	Name       string   `yaml:"name"`
	Localities []string `yaml:"localities"`
}

// Category is a creator category with its search vocabulary.
type Category struct {
	Key   string   `yaml:"key"`
	Label string   `yaml:"label"`
	Terms []string `yaml:"terms"`
}

// CategoryByKey returns the category with the given key, or nil.
func (c *Criteria) CategoryByKey(key string) *Category {
	for i := range c.Categories {
		if c.Categories[i].Key == key {
			return &c.Categories[i]
		}
	}
	return nil
}

// RegionByName returns the region with the given name, or nil.
func (c *Criteria) RegionByName(name string) *Region {
	for i := range c.Regions {
		if c.Regions[i].Name == name {
			return &c.Regions[i]
		}
	}
	return nil
}

// SubscriberRange formats the window for prompt text, e.g. "20,000-150,000".
func (c *Criteria) SubscriberRange() string {
	return formatThousands(c.SubscriberMin) + "-" + formatThousands(c.SubscriberMax)
}

func formatThousands(n int) string {
	s := strconv.Itoa(n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}

// LoadCriteria reads a criteria YAML file. An empty path returns the
// defaults.
func LoadCriteria(path string) (*Criteria, error) {
	if path == "" {
		return DefaultCriteria(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "config: read criteria")
	}
	var c Criteria
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "config: parse criteria")
	}
	if c.SubscriberMin == 0 && c.SubscriberMax == 0 {
		c.SubscriberMin, c.SubscriberMax = 20000, 150000
	}
	if len(c.Categories) == 0 {
		c.Categories = DefaultCriteria().Categories
	}
	return &c, nil
}

// SaveCriteria writes a criteria YAML file, creating parent directories.
func SaveCriteria(path string, c *Criteria) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "config: marshal criteria")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "config: criteria dir")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "config: write criteria")
	}
	return nil
}

// DefaultCriteria covers all 50 US states with their three largest cities
// and the three stock creator categories.
func DefaultCriteria() *Criteria {
	regions := make([]Region, 0, len(defaultRegions))
	for _, r := range defaultRegions {
		regions = append(regions, Region{Name: r.name, Localities: append([]string(nil), r.cities...)})
	}
	return &Criteria{
		Regions: regions,
		Categories: []Category{
			{
				Key:   "cinema",
				Label: "Cinema / Movie Reviews",
				Terms: []string{"movie review", "film review", "film critic", "cinema", "movie commentary", "film analysis"},
			},
			{
				Key:   "gaming",
				Label: "Gaming / Video Games",
				Terms: []string{"gaming", "gamer", "gameplay", "let's play", "game review", "video game", "streamer"},
			},
			{
				Key:   "culture_entertainment",
				Label: "Culture & Entertainment",
				Terms: []string{"vlog", "lifestyle", "culture", "entertainment", "comedy", "podcast", "pop culture"},
			},
		},
		SubscriberMin: 20000,
		SubscriberMax: 150000,
	}
}

var defaultRegions = []struct {
	name   string
	cities []string
}{
	{"Alabama", []string{"Birmingham", "Montgomery", "Huntsville"}},
	{"Alaska", []string{"Anchorage", "Fairbanks", "Juneau"}},
	{"Arizona", []string{"Phoenix", "Tucson", "Mesa"}},
	{"Arkansas", []string{"Little Rock", "Fort Smith", "Fayetteville"}},
	{"California", []string{"Los Angeles", "San Diego", "San Jose"}},
	{"Colorado", []string{"Denver", "Colorado Springs", "Aurora"}},
	{"Connecticut", []string{"Bridgeport", "New Haven", "Hartford"}},
	{"Delaware", []string{"Wilmington", "Dover", "Newark"}},
	{"Florida", []string{"Jacksonville", "Miami", "Tampa"}},
	{"Georgia", []string{"Atlanta", "Augusta", "Columbus"}},
	{"Hawaii", []string{"Honolulu", "Pearl City", "Hilo"}},
	{"Idaho", []string{"Boise", "Meridian", "Nampa"}},
	{"Illinois", []string{"Chicago", "Aurora", "Joliet"}},
	{"Indiana", []string{"Indianapolis", "Fort Wayne", "Evansville"}},
	{"Iowa", []string{"Des Moines", "Cedar Rapids", "Davenport"}},
	{"Kansas", []string{"Wichita", "Overland Park", "Kansas City"}},
	{"Kentucky", []string{"Louisville", "Lexington", "Bowling Green"}},
	{"Louisiana", []string{"New Orleans", "Baton Rouge", "Shreveport"}},
	{"Maine", []string{"Portland", "Lewiston", "Bangor"}},
	{"Maryland", []string{"Baltimore", "Frederick", "Rockville"}},
	{"Massachusetts", []string{"Boston", "Worcester", "Springfield"}},
	{"Michigan", []string{"Detroit", "Grand Rapids", "Warren"}},
	{"Minnesota", []string{"Minneapolis", "Saint Paul", "Rochester"}},
	{"Mississippi", []string{"Jackson", "Gulfport", "Southaven"}},
	{"Missouri", []string{"Kansas City", "Saint Louis", "Springfield"}},
	{"Montana", []string{"Billings", "Missoula", "Great Falls"}},
	{"Nebraska", []string{"Omaha", "Lincoln", "Bellevue"}},
	{"Nevada", []string{"Las Vegas", "Henderson", "Reno"}},
	{"New Hampshire", []string{"Manchester", "Nashua", "Concord"}},
	{"New Jersey", []string{"Newark", "Jersey City", "Paterson"}},
	{"New Mexico", []string{"Albuquerque", "Las Cruces", "Rio Rancho"}},
	{"New York", []string{"New York City", "Buffalo", "Rochester"}},
	{"North Carolina", []string{"Charlotte", "Raleigh", "Greensboro"}},
	{"North Dakota", []string{"Fargo", "Bismarck", "Grand Forks"}},
	{"Ohio", []string{"Columbus", "Cleveland", "Cincinnati"}},
	{"Oklahoma", []string{"Oklahoma City", "Tulsa", "Norman"}},
	{"Oregon", []string{"Portland", "Salem", "Eugene"}},
	{"Pennsylvania", []string{"Philadelphia", "Pittsburgh", "Allentown"}},
	{"Rhode Island", []string{"Providence", "Warwick", "Cranston"}},
	{"South Carolina", []string{"Charleston", "Columbia", "North Charleston"}},
	{"South Dakota", []string{"Sioux Falls", "Rapid City", "Aberdeen"}},
	{"Tennessee", []string{"Nashville", "Memphis", "Knoxville"}},
	{"Texas", []string{"Houston", "San Antonio", "Dallas"}},
	{"Utah", []string{"Salt Lake City", "West Valley City", "Provo"}},
	{"Vermont", []string{"Burlington", "South Burlington", "Rutland"}},
	{"Virginia", []string{"Virginia Beach", "Norfolk", "Chesapeake"}},
	{"Washington", []string{"Seattle", "Spokane", "Tacoma"}},
	{"West Virginia", []string{"Charleston", "Huntington", "Morgantown"}},
	{"Wisconsin", []string{"Milwaukee", "Madison", "Green Bay"}},
	{"Wyoming", []string{"Cheyenne", "Casper", "Laramie"}},
}
