package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_KindChecks(t *testing.T) {
	target := &Target{
		Followers:        45000,
		IsActive:         true,
		LastActivity:     "3 weeks ago",
		LocationDetected: true,
		TopicDetected:    false,
		Keywords:         []string{"filmmaker", "austin"},
		IsCreator:        true,
		ExternalLinks:    []string{"https://example.com"},
	}

	tests := []struct {
		kind CheckKind
		met  bool
	}{
		{CheckLocalityEvidence, true},
		{CheckTopicEvidence, true}, // keywords count even without the flag
		{CheckFollowerRange, true},
		{CheckRecentActivity, true},
		{CheckIsCreator, true},
		{CheckExternalLinks, true},
		{CheckManual, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			met, _ := Evaluate(Criterion{Kind: tt.kind}, target, 20000, 150000)
			assert.Equal(t, tt.met, met)
		})
	}
}

func TestEvaluate_FollowerBounds(t *testing.T) {
	cr := Criterion{Kind: CheckFollowerRange}

	met, _ := Evaluate(cr, &Target{Followers: 19999}, 20000, 150000)
	assert.False(t, met)
	met, _ = Evaluate(cr, &Target{Followers: 20000}, 20000, 150000)
	assert.True(t, met)
	met, _ = Evaluate(cr, &Target{Followers: 150000}, 20000, 150000)
	assert.True(t, met)
	met, evidence := Evaluate(cr, &Target{Followers: 150001}, 20000, 150000)
	assert.False(t, met)
	assert.Contains(t, evidence, "outside")
}

func TestDefaultCriteria_PointsSumTo100(t *testing.T) {
	total := 0
	for _, cr := range DefaultCriteria() {
		total += cr.Points
		assert.NotEqual(t, CheckManual, cr.Kind)
	}
	assert.Equal(t, 100, total)
	assert.Greater(t, total, DefaultThreshold)
}
