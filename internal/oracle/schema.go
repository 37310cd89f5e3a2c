package oracle

import (
	"encoding/json"
	"strconv"
	"strings"
)

// FlexFloat decodes a numeric field that models sometimes emit as a quoted
// string ("0.8") or omit entirely. It never fails the whole decode over a
// malformed number; it just stays zero.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexFloat(v)
	return nil
}

// Float64 returns the plain value.
func (f FlexFloat) Float64() float64 { return float64(f) }

// QueryPlanResponse is the wave query-generation payload.
type QueryPlanResponse struct {
	StrategyReasoning string         `json:"strategy_reasoning"`
	Queries           []PlannedQuery `json:"queries"`
}

// PlannedQuery is one generated search query with its angle label.
type PlannedQuery struct {
	Angle         string `json:"angle"`
	Query         string `json:"query"`
	ExpectedYield string `json:"expected_yield"`
}

// TriageResponse scores search results for fetch-worthiness.
type TriageResponse struct {
	ScoredResults []ScoredResult `json:"scored_results"`
}

// ScoredResult is one triaged search result.
type ScoredResult struct {
	URL    string    `json:"url"`
	Score  FlexFloat `json:"score"`
	Reason string    `json:"reason"`
}

// ExtractionResponse holds creator fragments extracted from one page.
type ExtractionResponse struct {
	PageRelevant         bool             `json:"page_relevant"`
	CreatorsMentioned    []CreatorMention `json:"creators_mentioned"`
	OtherCitiesMentioned []CityMention    `json:"other_cities_mentioned"`
}

// CreatorMention is one creator referenced on a source page.
type CreatorMention struct {
	Name               string `json:"name"`
	YouTubeURL         string `json:"youtube_url"`
	YouTubeHandle      string `json:"youtube_handle"`
	CityQuote          string `json:"city_quote"`
	CategoryQuote      string `json:"category_quote"`
	SubscriberInfo     string `json:"subscriber_info"`
	OtherInfo          string `json:"other_info"`
	ConfidenceCity     string `json:"confidence_city"`
	ConfidenceCategory string `json:"confidence_category"`
}

// CityMention records a creator attributed to a different locality.
type CityMention struct {
	City        string `json:"city"`
	State       string `json:"state"`
	CreatorName string `json:"creator_name"`
}

// AssemblyResponse consolidates fragments into candidates.
type AssemblyResponse struct {
	Candidates               []AssembledCandidate `json:"candidates"`
	SuggestedFollowupQueries []string             `json:"suggested_followup_queries"`
}

// AssembledCandidate is one reconciled candidate with its evidence.
type AssembledCandidate struct {
	ChannelName              string   `json:"channel_name"`
	ChannelURL               string   `json:"channel_url"`
	AlternativeNames         []string `json:"alternative_names"`
	CityEvidenceStrength     string   `json:"city_evidence_strength"`
	CityEvidenceSources      []string `json:"city_evidence_sources"`
	CityEvidenceQuotes       []string `json:"city_evidence_quotes"`
	CategoryEvidenceStrength string   `json:"category_evidence_strength"`
	CategoryEvidenceQuotes   []string `json:"category_evidence_quotes"`
	SubscriberInfo           string   `json:"subscriber_info"`
	MissingInfo              []string `json:"missing_info"`
	OverallConfidence        string   `json:"overall_confidence"`
	Reasoning                string   `json:"reasoning"`
}

// AdversarialResponse is the skeptical locality re-verification verdict.
type AdversarialResponse struct {
	SkepticismLevel string    `json:"skepticism_level"`
	Concerns        []string  `json:"concerns"`
	EvidenceQuality string    `json:"evidence_quality"`
	LikelyCorrect   bool      `json:"likely_correct"`
	FinalCityScore  FlexFloat `json:"final_city_score"`
	Reasoning       string    `json:"reasoning"`
}

// CategoryResponse is the category-match verdict.
type CategoryResponse struct {
	MatchesCategory     bool      `json:"matches_category"`
	CategoryScore       FlexFloat `json:"category_score"`
	Reasoning           string    `json:"reasoning"`
	AlternativeCategory string    `json:"alternative_category"`
}

// EscalationResponse diagnoses a failed wave.
type EscalationResponse struct {
	FailureAnalysis      string   `json:"failure_analysis"`
	CityViability        string   `json:"city_viability"`
	RecommendedStrategy  string   `json:"recommended_strategy"`
	ShouldWidenGeography bool     `json:"should_widen_geography"`
	WiderAreaName        string   `json:"wider_area_name"`
	NewAngles            []string `json:"new_angles"`
}

// FollowupResponse carries targeted gap-filling queries per candidate.
type FollowupResponse struct {
	FollowupQueries []FollowupQuery `json:"followup_queries"`
}

// FollowupQuery is one follow-up search for one incomplete candidate.
type FollowupQuery struct {
	ForCandidate string `json:"for_candidate"`
	Query        string `json:"query"`
	Purpose      string `json:"purpose"`
}

// AnalysisResponse is the objective decomposition produced by the planner's
// analyze call.
type AnalysisResponse struct {
	Objective  string           `json:"objective"`
	Domain     string           `json:"domain"`
	Confidence FlexFloat        `json:"confidence"`
	Who        DimensionPayload `json:"who"`
	Where      DimensionPayload `json:"where"`
	What       DimensionPayload `json:"what"`
	When       DimensionPayload `json:"when"`
}

// DimensionPayload is one analysis dimension as the model returns it.
type DimensionPayload struct {
	Explicit        []string `json:"explicit"`
	ExplicitRefined []string `json:"explicit_refined"`
	Implicit        []string `json:"implicit"`
	Rejections      []string `json:"rejections"`
}

// StrategiesResponse is the three-tier strategy tree payload.
type StrategiesResponse struct {
	Strategies []StrategyPayload `json:"strategies"`
}

// StrategyPayload is one strategy tier with its step tree.
type StrategyPayload struct {
	Name           string        `json:"name"`
	Tier           string        `json:"tier"`
	Description    string        `json:"description"`
	EstimatedCost  string        `json:"estimated_cost"`
	EstimatedYield string        `json:"estimated_yield"`
	Steps          []StepPayload `json:"steps"`
}

// StepPayload is one step node, possibly with nested sub-steps.
type StepPayload struct {
	ID             string        `json:"id"`
	Action         string        `json:"action"`
	Description    string        `json:"description"`
	Queries        []string      `json:"queries"`
	ExpectedOutput string        `json:"expected_output"`
	SourceType     string        `json:"source_type"`
	Priority       FlexFloat     `json:"priority"`
	DependsOn      string        `json:"depends_on"`
	Condition      string        `json:"condition"`
	SubSteps       []StepPayload `json:"sub_steps"`
}

// RefineResponse carries additional concrete queries for one step.
type RefineResponse struct {
	Queries []string `json:"queries"`
}

// DecodeInto is a convenience wrapper pairing Ask output with its schema.
// Returns false when raw is nil (no information).
func DecodeInto(raw json.RawMessage, v any) (bool, error) {
	if raw == nil {
		return false, nil
	}
	if err := Decode(raw, v); err != nil {
		return false, err
	}
	return true, nil
}
