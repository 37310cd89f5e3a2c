// Package model defines the core data types shared across the scout engine:
// the resolution tree, evidence fragments, candidates, and the payloads
// exchanged with search, fetch, and verification collaborators. The package
// stays dependency-free so every other package can import it.
package model

import "time"

// Status tracks the lifecycle of a resolution unit. Transitions are
// monotonic: pending → in_progress → {resolved | partial | failed}.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a status will never change again within a run.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFailed
}

// Tier labels the strategic approach of a query batch, ordered by
// increasing cost and expected yield.
type Tier string

const (
	TierDirect     Tier = "direct"
	TierSemiDirect Tier = "semi_direct"
	TierIndirect   Tier = "indirect"
)

// TierForWave maps a wave number to its source tier: wave 1 queries are
// direct, wave 2 semi-direct, everything later indirect.
func TierForWave(wave int) Tier {
	switch {
	case wave <= 1:
		return TierDirect
	case wave == 2:
		return TierSemiDirect
	default:
		return TierIndirect
	}
}

// QueryDescriptor is one concrete search query with its provenance.
type QueryDescriptor struct {
	Query      string  `json:"query"`
	Angle      string  `json:"angle,omitempty"`
	Strategy   string  `json:"strategy,omitempty"`
	Tier       Tier    `json:"tier,omitempty"`
	StepID     string  `json:"step_id,omitempty"`
	SourceType string  `json:"source_type,omitempty"`
	Priority   float64 `json:"priority,omitempty"`
	Condition  string  `json:"condition,omitempty"`
}

// CategoryResolution tracks one category within one locality.
type CategoryResolution struct {
	Category       string            `json:"category"`
	Status         Status            `json:"status"`
	WavesAttempted int               `json:"waves_attempted"`
	Best           *Candidate        `json:"best_candidate,omitempty"`
	Candidates     []Candidate       `json:"candidates,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	QueryLog       []QueryDescriptor `json:"query_log,omitempty"`
}

// LocalityResolution tracks all categories for one locality, plus any
// cross-locality mentions discovered incidentally while working this one.
type LocalityResolution struct {
	Locality      string                         `json:"locality"`
	Region        string                         `json:"region"`
	Status        Status                         `json:"status"`
	Categories    map[string]*CategoryResolution `json:"categories"`
	CrossLocality []CrossMention                 `json:"cross_locality,omitempty"`
}

// IsResolved reports whether every category resolved.
func (l *LocalityResolution) IsResolved() bool {
	for _, c := range l.Categories {
		if c.Status != StatusResolved {
			return false
		}
	}
	return true
}

// IsFullyAttempted reports whether every category reached a terminal state.
func (l *LocalityResolution) IsFullyAttempted() bool {
	for _, c := range l.Categories {
		if !c.Status.Terminal() {
			return false
		}
	}
	return true
}

// ResolvedCount returns how many categories resolved.
func (l *LocalityResolution) ResolvedCount() int {
	n := 0
	for _, c := range l.Categories {
		if c.Status == StatusResolved {
			n++
		}
	}
	return n
}

// RegionResolution tracks all localities of one region.
type RegionResolution struct {
	Region     string                         `json:"region"`
	Status     Status                         `json:"status"`
	Localities map[string]*LocalityResolution `json:"localities"`
}

// IsResolved reports whether every locality is fully attempted.
func (r *RegionResolution) IsResolved() bool {
	for _, l := range r.Localities {
		if !l.IsFullyAttempted() {
			return false
		}
	}
	return true
}

// Summary tallies category outcomes across the region.
func (r *RegionResolution) Summary() ResolutionSummary {
	var s ResolutionSummary
	for _, l := range r.Localities {
		for _, c := range l.Categories {
			s.Total++
			switch c.Status {
			case StatusResolved:
				s.Resolved++
			case StatusFailed:
				s.Failed++
			}
		}
	}
	return s
}

// ResolutionSummary is a compact resolved/failed/total rollup.
type ResolutionSummary struct {
	Total    int `json:"total"`
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

// CrossMention records a creator mentioned in evidence for a locality other
// than the one currently being worked.
type CrossMention struct {
	Name      string    `json:"name"`
	Locality  string    `json:"locality"`
	Context   string    `json:"context,omitempty"`
	SourceURL string    `json:"source_url,omitempty"`
	SeenAt    time.Time `json:"seen_at"`
}
