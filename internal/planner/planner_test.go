package planner

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scout-cli/internal/model"
)

// oracleFunc adapts a function to the oracle interface.
type oracleFunc func(ctx context.Context, prompt, system string) (json.RawMessage, error)

func (f oracleFunc) Ask(ctx context.Context, prompt, system string) (json.RawMessage, error) {
	return f(ctx, prompt, system)
}

func fixedOracle(payload string) oracleFunc {
	return func(_ context.Context, _, _ string) (json.RawMessage, error) {
		if payload == "" {
			return nil, nil
		}
		return json.RawMessage(payload), nil
	}
}

const analysisPayload = `{
	"objective": "find professional American manga artists",
	"domain": "manga",
	"confidence": 0.85,
	"who": {
		"explicit": ["mangakas"],
		"explicit_refined": ["professional manga artists"],
		"implicit": ["publishers", "agents"],
		"rejections": ["amateurs"]
	},
	"where": {
		"explicit": ["USA"],
		"explicit_refined": ["51 states"],
		"implicit": ["conventions"],
		"rejections": ["Japan"]
	},
	"what": {"explicit": ["published manga"], "explicit_refined": [], "implicit": [], "rejections": []},
	"when": {"explicit": [], "explicit_refined": [], "implicit": [], "rejections": []}
}`

func TestAnalyze_ParsesDimensions(t *testing.T) {
	p := New(fixedOracle(analysisPayload))

	a, err := p.Analyze(context.Background(), "recherche manga artists")
	require.NoError(t, err)

	assert.Equal(t, "find professional American manga artists", a.Objective)
	assert.Equal(t, "manga", a.Domain)
	assert.InDelta(t, 0.85, a.Confidence, 1e-9)
	assert.Equal(t, []string{"publishers", "agents"}, a.Who.Implicit)
	assert.Equal(t, []string{"Japan"}, a.Where.Rejections)
	assert.ElementsMatch(t, []string{"amateurs", "Japan"}, a.Rejections())
}

func TestAnalyze_MinimalOnNoData(t *testing.T) {
	p := New(fixedOracle(""))

	a, err := p.Analyze(context.Background(), "find creators")
	require.NoError(t, err)
	assert.Equal(t, "find creators", a.Objective)
	assert.Equal(t, "general", a.Domain)
	assert.Zero(t, a.Confidence)
}

func TestAnalyze_NoOracle(t *testing.T) {
	p := New(nil)
	_, err := p.Analyze(context.Background(), "x")
	require.Error(t, err)
}

const strategiesPayload = `{
	"strategies": [
		{
			"name": "Direct search",
			"tier": "direct",
			"description": "search the target by name",
			"estimated_cost": "low",
			"estimated_yield": "low",
			"steps": [
				{
					"id": "S1.1",
					"action": "Search engines",
					"queries": ["\"{city}\" youtuber", "youtubers from {state}"],
					"priority": 90,
					"condition": "always",
					"sub_steps": [
						{
							"id": "S1.1.1",
							"action": "Dig into lists",
							"queries": ["best youtubers {city} {country}"],
							"priority": 40,
							"condition": "if results found in parent step"
						}
					]
				}
			]
		},
		{
			"name": "Via intermediaries",
			"steps": [
				{"id": "S2.1", "action": "Find directories", "queries": ["{state} creator directory"], "priority": 60}
			]
		},
		{
			"name": "Academic pivot",
			"tier": "indirect",
			"steps": [
				{"id": "S3.1", "action": "Film schools", "queries": ["{city} film school alumni youtube"], "priority": 10}
			]
		}
	]
}`

func TestBuildStrategies_ParsesTree(t *testing.T) {
	p := New(fixedOracle(strategiesPayload))
	p.lastAnalysis = &Analysis{Objective: "x"}

	strategies, err := p.BuildStrategies(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, strategies, 3)

	assert.Equal(t, model.TierDirect, strategies[0].Tier)
	assert.Equal(t, "Direct strategy", strategies[0].TierLabel)
	assert.Equal(t, 1, strategies[0].Priority)

	// Missing tier falls back to position, missing cost/yield to medium.
	assert.Equal(t, model.TierSemiDirect, strategies[1].Tier)
	assert.Equal(t, "medium", strategies[1].EstimatedCost)

	// Missing condition defaults to always.
	assert.Equal(t, "always", strategies[1].Steps[0].Condition)

	require.Len(t, strategies[0].Steps, 1)
	require.Len(t, strategies[0].Steps[0].SubSteps, 1)
	assert.Equal(t, "S1.1.1", strategies[0].Steps[0].SubSteps[0].ID)
}

func TestBuildStrategies_RequiresAnalysis(t *testing.T) {
	p := New(fixedOracle(strategiesPayload))
	_, err := p.BuildStrategies(context.Background(), nil)
	require.Error(t, err)
}

func TestFlattenQueries_OrderAndSubstitution(t *testing.T) {
	strategies := []Strategy{
		{
			Name: "plan",
			Tier: model.TierDirect,
			Steps: []Step{
				{ID: "a", Priority: 10, Queries: []string{"low {city}"}},
				{ID: "b", Priority: 90, Queries: []string{"high {state}"}},
				{ID: "c", Priority: 50, Queries: []string{"mid {country}"}},
			},
		},
	}

	p := New(nil)
	flat := p.FlattenQueries(strategies, "Austin", "Texas")
	require.Len(t, flat, 3)
	assert.Equal(t, "high Texas", flat[0].Query)
	assert.Equal(t, "mid USA", flat[1].Query)
	assert.Equal(t, "low Austin", flat[2].Query)
	assert.Equal(t, "b", flat[0].StepID)
}

func TestFlattenQueries_StableTiesAndDepthFirst(t *testing.T) {
	strategies := []Strategy{
		{
			Name: "plan",
			Tier: model.TierDirect,
			Steps: []Step{
				{
					ID: "p", Priority: 50, Queries: []string{"parent one", "parent two"},
					SubSteps: []Step{
						{ID: "p.1", Priority: 50, Queries: []string{"child"}},
					},
				},
				{ID: "q", Priority: 50, Queries: []string{"sibling"}},
			},
		},
	}

	p := New(nil)
	flat := p.FlattenQueries(strategies, "", "")
	require.Len(t, flat, 4)
	assert.Equal(t, "parent one", flat[0].Query)
	assert.Equal(t, "parent two", flat[1].Query)
	assert.Equal(t, "child", flat[2].Query)
	assert.Equal(t, "sibling", flat[3].Query)
}

func TestRefineQueries_MergesStepTemplates(t *testing.T) {
	p := New(fixedOracle(`{"queries": ["fresh query one", "fresh query two"]}`))
	p.lastAnalysis = &Analysis{Objective: "find creators", Domain: "gaming"}

	step := Step{
		Action:  "search directories",
		Queries: []string{`"{city}" creator directory`, "Fresh Query One"},
	}
	queries := p.RefineQueries(context.Background(), step, "Boise", "Idaho", 3)

	assert.Equal(t, []string{
		"fresh query one",
		"fresh query two",
		`"Boise" creator directory`,
	}, queries)
}

func TestRefineQueries_FallsBackToStepQueries(t *testing.T) {
	p := New(fixedOracle(""))
	p.lastAnalysis = &Analysis{Objective: "x"}

	step := Step{Queries: []string{"only {state} query"}}
	queries := p.RefineQueries(context.Background(), step, "", "Ohio", 3)
	assert.Equal(t, []string{"only Ohio query"}, queries)
}

func TestCountQueries(t *testing.T) {
	strategies := []Strategy{
		{Tier: model.TierDirect, Steps: []Step{
			{Queries: []string{"a", "b"}, SubSteps: []Step{{Queries: []string{"c"}}}},
		}},
		{Tier: model.TierIndirect, Steps: []Step{{Queries: []string{"d"}}}},
	}

	p := New(nil)
	counts := p.CountQueries(strategies)
	assert.Equal(t, 3, counts.Direct)
	assert.Equal(t, 0, counts.SemiDirect)
	assert.Equal(t, 1, counts.Indirect)
	assert.Equal(t, 4, counts.Total)
}

func TestDedupQueries_DropsNearDuplicates(t *testing.T) {
	queries := []model.QueryDescriptor{
		{Query: `"Austin" youtuber gaming channel`},
		{Query: `"Austin" gaming youtuber channel`}, // same tokens, reordered
		{Query: `site:reddit.com austin gaming`},
	}
	unique := DedupQueries(queries)
	require.Len(t, unique, 2)
	assert.Equal(t, `"Austin" youtuber gaming channel`, unique[0].Query)
	assert.Equal(t, `site:reddit.com austin gaming`, unique[1].Query)
}

func TestGenerateWaveQueries_OracleSet(t *testing.T) {
	payload := `{"strategy_reasoning": "mix angles", "queries": [
		{"angle": "press", "query": "austin gaming creator news"},
		{"angle": "reddit", "query": "site:reddit.com austin gamers youtube"},
		{"angle": "list", "query": "best austin gaming youtubers"},
		{"angle": "event", "query": "austin gaming convention youtube"},
		{"angle": "dup", "query": "news creator gaming austin"}
	]}`
	p := New(fixedOracle(payload))

	queries := p.GenerateWaveQueries(context.Background(), WaveQuerySpec{
		Locality: "Austin", Region: "Texas",
		CategoryLabel: "Gaming", CategoryTerms: []string{"gaming", "gamer"},
		SubsRange: "20k-150k", Wave: 1, MaxWaves: 3,
	})

	// 5 from the oracle, 1 dropped as near-duplicate, 4 left = enough.
	require.Len(t, queries, 4)
	assert.Equal(t, model.TierDirect, queries[0].Tier)
	assert.Equal(t, "press", queries[0].Angle)
}

func TestGenerateWaveQueries_FallbackMerge(t *testing.T) {
	payload := `{"queries": [{"angle": "press", "query": "lone oracle query"}]}`
	p := New(fixedOracle(payload))

	queries := p.GenerateWaveQueries(context.Background(), WaveQuerySpec{
		Locality: "Boise", Region: "Idaho",
		CategoryTerms: []string{"movie review", "film critic"},
		Wave:          2, MaxWaves: 3,
	})

	require.Len(t, queries, 7) // 1 oracle + 6 wave-2 fallbacks
	assert.Equal(t, "lone oracle query", queries[0].Query)
	assert.Equal(t, "wide", queries[1].Angle)
	assert.Equal(t, model.TierSemiDirect, queries[1].Tier)
}

func TestGenerateWaveQueries_NoOracleData(t *testing.T) {
	p := New(fixedOracle(""))

	queries := p.GenerateWaveQueries(context.Background(), WaveQuerySpec{
		Locality: "Boise", Region: "Idaho",
		CategoryTerms: []string{"vlog"},
		Wave:          3, MaxWaves: 3,
	})

	require.Len(t, queries, 6)
	assert.Equal(t, "metro", queries[0].Angle)
	assert.Contains(t, queries[0].Query, `"greater Boise"`)
	assert.Equal(t, model.TierIndirect, queries[0].Tier)
}

func TestFallbackQueries_WaveAngles(t *testing.T) {
	w1 := FallbackQueries("Austin", "Texas", []string{"gaming"}, 1)
	w2 := FallbackQueries("Austin", "Texas", []string{"gaming"}, 2)
	w3 := FallbackQueries("Austin", "Texas", []string{"gaming"}, 3)

	angles := func(qs []model.QueryDescriptor) []string {
		out := make([]string, len(qs))
		for i, q := range qs {
			out[i] = q.Angle
		}
		return out
	}

	assert.Equal(t, []string{"direct", "reddit", "list", "press", "social", "community"}, angles(w1))
	assert.Equal(t, []string{"wide", "bio", "event", "forum", "collab", "news"}, angles(w2))
	assert.Equal(t, []string{"metro", "podcast", "emerging", "best_of", "linkedin", "tiktok"}, angles(w3))
}

func TestSaveLoadPlan(t *testing.T) {
	p := New(fixedOracle(strategiesPayload))
	p.lastAnalysis = &Analysis{Objective: "find creators", Domain: "gaming"}
	_, err := p.BuildStrategies(context.Background(), nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "strategy_plan.json")
	require.NoError(t, p.SavePlan(path))

	fresh := New(nil)
	dump, err := fresh.LoadPlan(path)
	require.NoError(t, err)
	require.NotNil(t, dump)
	assert.Equal(t, "find creators", dump.Analysis.Objective)
	require.Len(t, fresh.Strategies(), 3)
	assert.Equal(t, model.TierDirect, fresh.Strategies()[0].Tier)

	// Missing file is not an error.
	dump, err = fresh.LoadPlan(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Nil(t, dump)
}

func TestStrategyForWave(t *testing.T) {
	p := New(nil)
	assert.Nil(t, p.StrategyForWave(1))

	p.lastStrategies = []Strategy{
		{Tier: model.TierDirect},
		{Tier: model.TierSemiDirect},
		{Tier: model.TierIndirect},
	}
	assert.Equal(t, model.TierDirect, p.StrategyForWave(1).Tier)
	assert.Equal(t, model.TierSemiDirect, p.StrategyForWave(2).Tier)
	assert.Equal(t, model.TierIndirect, p.StrategyForWave(3).Tier)
	assert.Equal(t, model.TierIndirect, p.StrategyForWave(7).Tier)
}
