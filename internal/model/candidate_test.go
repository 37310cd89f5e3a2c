package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeTotalScore_ZeroWithoutChannel(t *testing.T) {
	c := Candidate{
		LocalityScore:      0.9,
		CategoryScore:      1.0,
		SubscriberMatch:    true,
		UploadRecent:       true,
		IndependentSources: 5,
		ChannelExists:      false,
	}
	assert.Zero(t, c.ComputeTotalScore())
	assert.Zero(t, c.TotalScore)
}

func TestComputeTotalScore_FullMarks(t *testing.T) {
	c := Candidate{
		ChannelExists:      true,
		LocalityScore:      1.0,
		CategoryScore:      1.0,
		SubscriberMatch:    true,
		UploadRecent:       true,
		IndependentSources: 3,
	}
	assert.InDelta(t, 1.0, c.ComputeTotalScore(), 1e-9)
}

func TestComputeTotalScore_SourceSaturation(t *testing.T) {
	base := Candidate{ChannelExists: true, IndependentSources: 3}
	many := Candidate{ChannelExists: true, IndependentSources: 30}
	assert.Equal(t, base.ComputeTotalScore(), many.ComputeTotalScore(),
		"corroboration component saturates at three sources")
}

func TestComputeTotalScore_Idempotent(t *testing.T) {
	c := Candidate{
		ChannelExists:      true,
		LocalityScore:      0.7,
		CategoryScore:      0.8,
		SubscriberMatch:    true,
		IndependentSources: 2,
	}
	first := c.ComputeTotalScore()
	second := c.ComputeTotalScore()
	assert.Equal(t, first, second)
}

func TestComputeLocalityScore(t *testing.T) {
	tests := []struct {
		name     string
		evidence []Evidence
		sources  int
		want     float64
	}{
		{"no evidence", nil, 0, 0},
		{"evidence without sources", []Evidence{{Quote: "from Austin"}}, 0, 0.15},
		{"one source", []Evidence{{Quote: "q", SourceURL: "https://a.com"}}, 1, 0.5},
		{"two sources", []Evidence{{Quote: "q"}, {Quote: "r"}}, 2, 0.7},
		{"saturates", []Evidence{{Quote: "q"}}, 10, 0.95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Candidate{LocalityEvidence: tt.evidence, IndependentSources: tt.sources}
			assert.InDelta(t, tt.want, c.ComputeLocalityScore(), 1e-9)
		})
	}
}

func TestGradeEvidence(t *testing.T) {
	assert.Equal(t, EvidenceNone, GradeEvidence(0, true))
	assert.Equal(t, EvidenceWeak, GradeEvidence(3, false), "missing URL caps at weak")
	assert.Equal(t, EvidenceModerate, GradeEvidence(1, true))
	assert.Equal(t, EvidenceStrong, GradeEvidence(2, true))
}

func TestTierForWave(t *testing.T) {
	assert.Equal(t, TierDirect, TierForWave(1))
	assert.Equal(t, TierSemiDirect, TierForWave(2))
	assert.Equal(t, TierIndirect, TierForWave(3))
	assert.Equal(t, TierIndirect, TierForWave(7))
}

func TestReject_Dedupes(t *testing.T) {
	var c Candidate
	c.Reject("score_below_minimum")
	c.Reject("score_below_minimum")
	c.Reject("subscribers_out_of_range")
	assert.Equal(t, []string{"score_below_minimum", "subscribers_out_of_range"}, c.RejectionReasons)
}

func TestLocalityResolution_Rollups(t *testing.T) {
	l := LocalityResolution{
		Locality: "Austin",
		Categories: map[string]*CategoryResolution{
			"cinema":  {Status: StatusResolved},
			"cooking": {Status: StatusFailed},
			"music":   {Status: StatusPending},
		},
	}
	assert.False(t, l.IsResolved())
	assert.False(t, l.IsFullyAttempted())
	assert.Equal(t, 1, l.ResolvedCount())

	l.Categories["music"].Status = StatusFailed
	assert.True(t, l.IsFullyAttempted())
	assert.False(t, l.IsResolved())

	r := RegionResolution{Localities: map[string]*LocalityResolution{"Austin": &l}}
	sum := r.Summary()
	assert.Equal(t, ResolutionSummary{Total: 3, Resolved: 1, Failed: 2}, sum)
	assert.True(t, r.IsResolved())
}
