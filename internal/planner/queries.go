package planner

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/scout-cli/internal/model"
	"github.com/sells-group/scout-cli/internal/oracle"
)

const (
	// minUsableQueries triggers the fallback merge when the oracle yields
	// fewer queries than this.
	minUsableQueries = 4
	// maxWaveQueries caps the number of queries executed per wave.
	maxWaveQueries = 8
	// dedupOverlap is the token-set overlap above which two queries are
	// considered duplicates.
	dedupOverlap = 0.7
)

// WaveQuerySpec carries everything the per-wave query generator needs.
type WaveQuerySpec struct {
	Locality      string
	Region        string
	CategoryKey   string
	CategoryLabel string
	CategoryTerms []string
	SubsRange     string
	Wave          int
	MaxWaves      int
	PrevQueries   []model.QueryDescriptor
}

// GenerateWaveQueries produces the query set for one category-wave. The
// oracle is asked first; near-duplicate queries are dropped, and hand-built
// fallbacks for the wave's angle set are merged in whenever the oracle
// yields fewer than four usable queries. Never returns more than eight.
func (p *Planner) GenerateWaveQueries(ctx context.Context, spec WaveQuerySpec) []model.QueryDescriptor {
	var queries []model.QueryDescriptor

	if p.oracle != nil {
		prev := make([]string, 0, len(spec.PrevQueries))
		for _, q := range spec.PrevQueries {
			prev = append(prev, q.Query)
		}
		prompt := oracle.QueryPlanPrompt(spec.Locality, spec.Region, spec.CategoryLabel,
			spec.SubsRange, spec.Wave, spec.MaxWaves, prev, spec.CategoryTerms)

		raw, err := p.oracle.Ask(ctx, prompt, "")
		if err == nil {
			var resp oracle.QueryPlanResponse
			if ok, decErr := oracle.DecodeInto(raw, &resp); decErr == nil && ok {
				if resp.StrategyReasoning != "" {
					zap.L().Debug("wave strategy",
						zap.String("reasoning", head(resp.StrategyReasoning, 120)))
				}
				for _, pq := range resp.Queries {
					if strings.TrimSpace(pq.Query) == "" {
						continue
					}
					queries = append(queries, model.QueryDescriptor{
						Query: pq.Query,
						Angle: pq.Angle,
						Tier:  model.TierForWave(spec.Wave),
					})
				}
			}
		}
	}

	queries = DedupQueries(queries)

	if len(queries) < minUsableQueries {
		zap.L().Info("merging fallback queries",
			zap.Int("from_oracle", len(queries)),
			zap.Int("wave", spec.Wave))
		seen := make(map[string]bool, len(queries))
		for _, q := range queries {
			seen[normalizeQuery(q.Query)] = true
		}
		for _, fb := range FallbackQueries(spec.Locality, spec.Region, spec.CategoryTerms, spec.Wave) {
			if !seen[normalizeQuery(fb.Query)] {
				queries = append(queries, fb)
				seen[normalizeQuery(fb.Query)] = true
			}
		}
	}

	if len(queries) > maxWaveQueries {
		queries = queries[:maxWaveQueries]
	}
	return queries
}

// DedupQueries removes queries whose token sets overlap a kept query by more
// than 70%. Order is preserved; the first of a near-duplicate pair wins.
func DedupQueries(queries []model.QueryDescriptor) []model.QueryDescriptor {
	if len(queries) == 0 {
		return queries
	}
	var unique []model.QueryDescriptor
	var seenSets []map[string]bool
	for _, q := range queries {
		words := tokenSet(q.Query)
		dup := false
		for _, prev := range seenSets {
			if tokenOverlap(words, prev) > dedupOverlap {
				dup = true
				break
			}
		}
		if !dup {
			unique = append(unique, q)
			seenSets = append(seenSets, words)
		}
	}
	return unique
}

func tokenSet(query string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		set[w] = true
	}
	return set
}

// tokenOverlap is Jaccard similarity between two token sets.
func tokenOverlap(a, b map[string]bool) float64 {
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// FallbackQueries returns the hand-built query set for a wave. Each wave
// rotates through a different angle mix so retries do not repeat ground
// already covered.
func FallbackQueries(locality, region string, terms []string, wave int) []model.QueryDescriptor {
	if len(terms) == 0 {
		terms = []string{"content creator"}
	}
	t1 := terms[0]
	t2 := t1
	if len(terms) > 1 {
		t2 = terms[1]
	}
	t3 := t1
	if len(terms) > 2 {
		t3 = terms[2]
	}

	tier := model.TierForWave(wave)
	mk := func(angle, query string) model.QueryDescriptor {
		return model.QueryDescriptor{Query: query, Angle: angle, Tier: tier, Priority: 50}
	}

	switch wave {
	case 1:
		return []model.QueryDescriptor{
			mk("direct", fmt.Sprintf(`"%s" youtuber %s`, locality, t1)),
			mk("reddit", fmt.Sprintf(`site:reddit.com "%s" youtube %s`, locality, t2)),
			mk("list", fmt.Sprintf(`"youtubers from %s" %s OR %s`, region, t1, t2)),
			mk("press", fmt.Sprintf(`"%s" "content creator" %s interview`, locality, t3)),
			mk("social", fmt.Sprintf(`"%s" %s youtube channel subscribers`, locality, t1)),
			mk("community", fmt.Sprintf(`"%s" "%s" "my channel" OR "subscribe"`, locality, t2)),
		}
	case 2:
		return []model.QueryDescriptor{
			mk("wide", fmt.Sprintf(`"%s" youtube channel %s 2024 OR 2025`, region, t1)),
			mk("bio", fmt.Sprintf(`site:twitter.com OR site:instagram.com "%s" %s youtube`, locality, t1)),
			mk("event", fmt.Sprintf(`"%s" %s meetup OR convention OR festival`, locality, t2)),
			mk("forum", fmt.Sprintf(`"%s" %s recommendation OR underrated youtube`, locality, t1)),
			mk("collab", fmt.Sprintf(`"%s" %s youtuber collab OR feature`, region, t3)),
			mk("news", fmt.Sprintf(`"%s" local %s creator OR influencer`, locality, t1)),
		}
	default:
		return []model.QueryDescriptor{
			mk("metro", fmt.Sprintf(`"greater %s" OR "%s area" youtuber %s`, locality, locality, t1)),
			mk("podcast", fmt.Sprintf(`"%s" %s podcast OR interview youtuber`, locality, t2)),
			mk("emerging", fmt.Sprintf(`"%s" underrated %s youtube small channel`, region, t1)),
			mk("best_of", fmt.Sprintf(`"best %s youtubers" "%s" OR "%s"`, t1, region, locality)),
			mk("linkedin", fmt.Sprintf(`site:linkedin.com "%s" youtube %s creator`, locality, t1)),
			mk("tiktok", fmt.Sprintf(`"%s" %s tiktok youtube creator`, locality, t2)),
		}
	}
}
