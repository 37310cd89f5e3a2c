package model

import (
	"math"
	"time"
)

// Score weights for the composite candidate score. The platform component
// dominates together with locality because a creator that cannot be found
// on the platform is worthless regardless of evidence quality.
const (
	weightLocality   = 0.30
	weightCategory   = 0.15
	weightPlatform   = 0.25
	weightRecency    = 0.20
	weightSources    = 0.10
	sourceSaturation = 3.0
)

// EvidenceStrength grades how well a candidate's evidence supports the
// locality claim.
type EvidenceStrength string

const (
	EvidenceStrong   EvidenceStrength = "strong"
	EvidenceModerate EvidenceStrength = "moderate"
	EvidenceWeak     EvidenceStrength = "weak"
	EvidenceNone     EvidenceStrength = "none"
)

// GradeEvidence classifies evidence by independent source count and whether
// a verifiable source URL accompanies the quotes. A missing URL caps the
// grade at weak no matter how many sources repeat the claim.
func GradeEvidence(independentSources int, hasSourceURL bool) EvidenceStrength {
	switch {
	case independentSources == 0:
		return EvidenceNone
	case !hasSourceURL:
		return EvidenceWeak
	case independentSources >= 2:
		return EvidenceStrong
	default:
		return EvidenceModerate
	}
}

// Evidence is one quoted claim with its provenance.
type Evidence struct {
	Quote     string `json:"quote"`
	SourceURL string `json:"source_url,omitempty"`
}

// Fragment is a raw piece of extracted information attributed to a page,
// produced during extraction and consumed during assembly.
type Fragment struct {
	Kind        string    `json:"kind"`
	Value       string    `json:"value"`
	Context     string    `json:"context,omitempty"`
	SourceURL   string    `json:"source_url"`
	SourceAngle string    `json:"source_angle,omitempty"`
	Query       string    `json:"query,omitempty"`
	Wave        int       `json:"wave"`
	CreatedAt   time.Time `json:"created_at"`
}

// Candidate is one creator hypothesis being evaluated against the
// locality/category cell it was assembled for.
type Candidate struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Aliases  []string `json:"aliases,omitempty"`
	Locality string   `json:"locality"`
	Region   string   `json:"region"`
	Category string   `json:"category"`

	ChannelURL string `json:"channel_url,omitempty"`

	LocalityEvidence []Evidence       `json:"locality_evidence,omitempty"`
	CategoryEvidence []Evidence       `json:"category_evidence,omitempty"`
	EvidenceStrength EvidenceStrength `json:"evidence_strength"`
	// IndependentSources counts distinct domains backing the locality claim.
	IndependentSources int `json:"independent_sources"`

	LocalityScore float64 `json:"locality_score"`
	CategoryScore float64 `json:"category_score"`

	// Platform verification results, populated by the verifier.
	ChannelExists      bool   `json:"channel_exists"`
	ChannelName        string `json:"channel_name,omitempty"`
	Subscribers        int    `json:"subscribers,omitempty"`
	SubscribersText    string `json:"subscribers_text,omitempty"`
	SubscriberMatch    bool   `json:"subscriber_match"`
	LastUploadText     string `json:"last_upload_text,omitempty"`
	UploadRecent       bool   `json:"upload_recent"`
	ChannelDescription string `json:"channel_description,omitempty"`

	TotalScore       float64  `json:"total_score"`
	Verified         bool     `json:"verified"`
	RejectionReasons []string `json:"rejection_reasons,omitempty"`
}

// ComputeLocalityScore derives the locality confidence from the evidence
// already attached. More independent sources raise confidence, saturating
// just below certainty; evidence with no identifiable source floors at a
// token score.
func (c *Candidate) ComputeLocalityScore() float64 {
	if len(c.LocalityEvidence) == 0 {
		c.LocalityScore = 0
		return 0
	}
	if c.IndependentSources == 0 {
		c.LocalityScore = 0.15
		return c.LocalityScore
	}
	s := 0.3 + float64(c.IndependentSources)*0.2
	if s > 0.95 {
		s = 0.95
	}
	c.LocalityScore = s
	return s
}

// ComputeTotalScore combines the locality, category, platform, recency, and
// corroboration components into the composite score. A candidate whose
// channel does not exist scores exactly zero. The result is rounded to
// three decimals so repeated computation is idempotent.
func (c *Candidate) ComputeTotalScore() float64 {
	if !c.ChannelExists {
		c.TotalScore = 0
		return 0
	}
	score := weightLocality * c.LocalityScore
	score += weightCategory * c.CategoryScore
	if c.SubscriberMatch {
		score += weightPlatform
	}
	if c.UploadRecent {
		score += weightRecency
	}
	score += weightSources * math.Min(1, float64(c.IndependentSources)/sourceSaturation)
	c.TotalScore = math.Round(score*1000) / 1000
	return c.TotalScore
}

// Reject appends a rejection reason, skipping duplicates.
func (c *Candidate) Reject(reason string) {
	for _, r := range c.RejectionReasons {
		if r == reason {
			return
		}
	}
	c.RejectionReasons = append(c.RejectionReasons, reason)
}
