// Package planner decomposes a research objective into a multi-tier search
// strategy. One oracle call analyzes the objective into who/where/what/when
// dimensions; a second produces three strategy tiers (direct, semi-direct,
// indirect), each an ordered tree of steps carrying concrete queries with
// {locality}/{region}/{country} placeholders. FlattenQueries turns the tree
// into the flat, priority-ordered list the orchestrator feeds to the search
// engine.
package planner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scout-cli/internal/model"
	"github.com/sells-group/scout-cli/internal/oracle"
)

// Dimension is one axis of objective analysis (who, where, what, or when).
type Dimension struct {
	Explicit        []string `json:"explicit"`
	ExplicitRefined []string `json:"explicit_refined"`
	Implicit        []string `json:"implicit"`
	Rejections      []string `json:"rejections"`
}

// Analysis is the full decomposition of a research objective.
type Analysis struct {
	Prompt     string    `json:"prompt"`
	Objective  string    `json:"objective"`
	Domain     string    `json:"domain"`
	Confidence float64   `json:"confidence"`
	Who        Dimension `json:"who"`
	Where      Dimension `json:"where"`
	What       Dimension `json:"what"`
	When       Dimension `json:"when"`
}

// Rejections collects the rejection lists across all dimensions.
func (a *Analysis) Rejections() []string {
	var out []string
	out = append(out, a.Who.Rejections...)
	out = append(out, a.Where.Rejections...)
	out = append(out, a.What.Rejections...)
	return out
}

// Step is one node in a strategy's step tree. Sub-steps are owned by their
// parent; the tree is acyclic by construction.
type Step struct {
	ID             string   `json:"id"`
	Action         string   `json:"action"`
	Description    string   `json:"description,omitempty"`
	Queries        []string `json:"queries"`
	ExpectedOutput string   `json:"expected_output,omitempty"`
	SourceType     string   `json:"source_type,omitempty"`
	Priority       float64  `json:"priority"`
	DependsOn      string   `json:"depends_on,omitempty"`
	Condition      string   `json:"condition"`
	SubSteps       []Step   `json:"sub_steps,omitempty"`
}

// Strategy is one complete tier of the search plan.
type Strategy struct {
	Name           string     `json:"name"`
	Tier           model.Tier `json:"tier"`
	TierLabel      string     `json:"tier_label"`
	Description    string     `json:"description"`
	Steps          []Step     `json:"steps"`
	EstimatedCost  string     `json:"estimated_cost"`
	EstimatedYield string     `json:"estimated_yield"`
	Priority       int        `json:"priority"`
}

var tierLabels = map[model.Tier]string{
	model.TierDirect:     "Direct strategy",
	model.TierSemiDirect: "Semi-direct strategy",
	model.TierIndirect:   "Indirect strategy",
}

// Planner drives strategy generation through the oracle and remembers the
// last plan for persistence.
type Planner struct {
	oracle         oracle.Oracle
	lastAnalysis   *Analysis
	lastStrategies []Strategy
}

// New creates a Planner. The oracle is required; Analyze and BuildStrategies
// fail fast without one.
func New(o oracle.Oracle) *Planner {
	return &Planner{oracle: o}
}

// Analyze decomposes the objective into dimensions. When the oracle yields
// nothing, a minimal analysis (objective echoed, domain "general") is
// returned so planning can still proceed on fallbacks.
func (p *Planner) Analyze(ctx context.Context, objective string) (*Analysis, error) {
	if p.oracle == nil {
		return nil, eris.New("planner: no oracle configured")
	}

	raw, err := p.oracle.Ask(ctx, oracle.AnalyzePrompt(objective), "")
	if err != nil {
		return nil, eris.Wrap(err, "planner: analyze")
	}

	result := &Analysis{Prompt: objective, Objective: objective, Domain: "general"}
	var resp oracle.AnalysisResponse
	ok, err := oracle.DecodeInto(raw, &resp)
	if err != nil {
		zap.L().Warn("analysis payload malformed", zap.Error(err))
		return result, nil
	}
	if !ok {
		zap.L().Warn("analysis unavailable, proceeding with minimal plan")
		return result, nil
	}

	if resp.Objective != "" {
		result.Objective = resp.Objective
	}
	if resp.Domain != "" {
		result.Domain = resp.Domain
	}
	result.Confidence = resp.Confidence.Float64()
	result.Who = Dimension(resp.Who)
	result.Where = Dimension(resp.Where)
	result.What = Dimension(resp.What)
	result.When = Dimension(resp.When)

	p.lastAnalysis = result
	return result, nil
}

// BuildStrategies generates the three-tier strategy tree from an analysis.
func (p *Planner) BuildStrategies(ctx context.Context, analysis *Analysis) ([]Strategy, error) {
	if p.oracle == nil {
		return nil, eris.New("planner: no oracle configured")
	}
	if analysis == nil {
		analysis = p.lastAnalysis
	}
	if analysis == nil {
		return nil, eris.New("planner: no analysis available, call Analyze first")
	}

	analysisJSON, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "planner: marshal analysis")
	}

	raw, err := p.oracle.Ask(ctx, oracle.StrategiesPrompt(string(analysisJSON)), "")
	if err != nil {
		return nil, eris.Wrap(err, "planner: build strategies")
	}

	var resp oracle.StrategiesResponse
	ok, err := oracle.DecodeInto(raw, &resp)
	if err != nil || !ok {
		zap.L().Warn("strategy payload unavailable", zap.Error(err))
		return nil, nil
	}

	defaultTiers := []model.Tier{model.TierDirect, model.TierSemiDirect, model.TierIndirect}
	strategies := make([]Strategy, 0, len(resp.Strategies))
	for i, sp := range resp.Strategies {
		tier := model.Tier(sp.Tier)
		if _, known := tierLabels[tier]; !known {
			tier = defaultTiers[min(i, 2)]
		}
		name := sp.Name
		if name == "" {
			name = string(tier) + " search"
		}
		cost := sp.EstimatedCost
		if cost == "" {
			cost = "medium"
		}
		yield := sp.EstimatedYield
		if yield == "" {
			yield = "medium"
		}
		strategies = append(strategies, Strategy{
			Name:           name,
			Tier:           tier,
			TierLabel:      tierLabels[tier],
			Description:    sp.Description,
			Steps:          parseSteps(sp.Steps),
			EstimatedCost:  cost,
			EstimatedYield: yield,
			Priority:       i + 1,
		})
	}

	p.lastStrategies = strategies
	return strategies, nil
}

func parseSteps(payloads []oracle.StepPayload) []Step {
	steps := make([]Step, 0, len(payloads))
	for _, sp := range payloads {
		priority := sp.Priority.Float64()
		if priority == 0 {
			priority = 50
		}
		condition := sp.Condition
		if condition == "" {
			condition = "always"
		}
		steps = append(steps, Step{
			ID:             sp.ID,
			Action:         sp.Action,
			Description:    sp.Description,
			Queries:        sp.Queries,
			ExpectedOutput: sp.ExpectedOutput,
			SourceType:     sp.SourceType,
			Priority:       priority,
			DependsOn:      sp.DependsOn,
			Condition:      condition,
			SubSteps:       parseSteps(sp.SubSteps),
		})
	}
	return steps
}

// substitute fills location placeholders. Both the {locality}/{region}
// naming and the {city}/{state} naming models tend to emit are accepted.
func substitute(query, locality, region string) string {
	r := strings.NewReplacer(
		"{locality}", locality,
		"{city}", locality,
		"{region}", region,
		"{state}", region,
		"{country}", "USA",
	)
	return r.Replace(query)
}

// FlattenQueries walks every strategy's step tree depth-first, substitutes
// location placeholders, and returns all queries sorted by descending step
// priority. Ties keep traversal order.
func (p *Planner) FlattenQueries(strategies []Strategy, locality, region string) []model.QueryDescriptor {
	if strategies == nil {
		strategies = p.lastStrategies
	}

	var out []model.QueryDescriptor
	for _, strat := range strategies {
		flattenSteps(strat.Steps, strat.Name, strat.Tier, locality, region, &out)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

func flattenSteps(steps []Step, stratName string, tier model.Tier, locality, region string, out *[]model.QueryDescriptor) {
	for _, step := range steps {
		for _, q := range step.Queries {
			*out = append(*out, model.QueryDescriptor{
				Query:      substitute(q, locality, region),
				Strategy:   stratName,
				Tier:       tier,
				StepID:     step.ID,
				Angle:      step.Action,
				SourceType: step.SourceType,
				Priority:   step.Priority,
				Condition:  step.Condition,
			})
		}
		flattenSteps(step.SubSteps, stratName, tier, locality, region, out)
	}
}

// RefineQueries asks the oracle for additional concrete queries for one
// step, then merges the step's own template queries at the end without
// duplication. Returns at most 2x count queries.
func (p *Planner) RefineQueries(ctx context.Context, step Step, locality, region string, count int) []string {
	var queries []string

	if p.oracle != nil && p.lastAnalysis != nil {
		prompt := oracle.RefinePrompt(
			p.lastAnalysis.Objective, p.lastAnalysis.Domain, step.Action,
			locality, region, strings.Join(p.lastAnalysis.Rejections(), ", "), count)
		raw, err := p.oracle.Ask(ctx, prompt, "")
		if err == nil {
			var resp oracle.RefineResponse
			if ok, decErr := oracle.DecodeInto(raw, &resp); decErr == nil && ok {
				queries = resp.Queries
			}
		}
	}

	seen := make(map[string]bool, len(queries))
	for _, q := range queries {
		seen[normalizeQuery(q)] = true
	}
	for _, q := range step.Queries {
		filled := substitute(q, locality, region)
		if !seen[normalizeQuery(filled)] {
			queries = append(queries, filled)
			seen[normalizeQuery(filled)] = true
		}
	}

	if len(queries) > count*2 {
		queries = queries[:count*2]
	}
	return queries
}

// QueryCounts tallies queries per tier across a plan.
type QueryCounts struct {
	Direct     int `json:"direct"`
	SemiDirect int `json:"semi_direct"`
	Indirect   int `json:"indirect"`
	Total      int `json:"total"`
}

// CountQueries counts queries per tier, sub-steps included.
func (p *Planner) CountQueries(strategies []Strategy) QueryCounts {
	if strategies == nil {
		strategies = p.lastStrategies
	}
	var counts QueryCounts
	for _, strat := range strategies {
		n := countStepQueries(strat.Steps)
		switch strat.Tier {
		case model.TierDirect:
			counts.Direct += n
		case model.TierSemiDirect:
			counts.SemiDirect += n
		case model.TierIndirect:
			counts.Indirect += n
		}
		counts.Total += n
	}
	return counts
}

func countStepQueries(steps []Step) int {
	total := 0
	for _, step := range steps {
		total += len(step.Queries)
		total += countStepQueries(step.SubSteps)
	}
	return total
}

// PlanDump is the persisted form of a full plan.
type PlanDump struct {
	Analysis    *Analysis   `json:"analysis"`
	Strategies  []Strategy  `json:"strategies"`
	QueryCounts QueryCounts `json:"query_counts"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// SavePlan writes the last analysis and strategies to path.
func (p *Planner) SavePlan(path string) error {
	dump := PlanDump{
		Analysis:    p.lastAnalysis,
		Strategies:  p.lastStrategies,
		QueryCounts: p.CountQueries(p.lastStrategies),
		GeneratedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return eris.Wrap(err, "planner: marshal plan")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "planner: create plan dir")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "planner: write plan")
	}
	return nil
}

// LoadPlan reads a previously saved plan and primes the planner with it, so
// cached strategies can be reused without oracle calls.
func (p *Planner) LoadPlan(path string) (*PlanDump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "planner: read plan")
	}
	var dump PlanDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, eris.Wrap(err, "planner: decode plan")
	}
	p.lastAnalysis = dump.Analysis
	p.lastStrategies = dump.Strategies
	return &dump, nil
}

// Strategies returns the last built strategy set.
func (p *Planner) Strategies() []Strategy { return p.lastStrategies }

// StrategyForWave selects the tier used for a given wave: wave 1 runs the
// direct tier, wave 2 semi-direct, later waves indirect. When fewer tiers
// exist the last one is reused.
func (p *Planner) StrategyForWave(wave int) *Strategy {
	if len(p.lastStrategies) == 0 {
		return nil
	}
	idx := min(wave-1, len(p.lastStrategies)-1)
	if idx < 0 {
		idx = 0
	}
	return &p.lastStrategies[idx]
}
