package quality

import (
	"strings"
	"testing"

	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/stretchr/testify/assert"
)

func newGate() *Gate {
	return NewGate(config.NewStaticQualityConfigHolder(config.DefaultQualityConfig()))
}

func TestAssessBands(t *testing.T) {
	g := newGate()
	cases := []struct {
		name     string
		length   int
		score    float64
		tier     string
		eligible bool
	}{
		{name: "short", length: 499, score: 0, tier: TierPoor, eligible: false},
		{name: "boundary_500", length: 500, score: 0.3, tier: TierLow, eligible: true},
		{name: "boundary_1000", length: 1000, score: 0.6, tier: TierMedium, eligible: true},
		{name: "boundary_2000", length: 2000, score: 0.8, tier: TierHigh, eligible: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := g.Assess("Hope", strings.Repeat("a", tc.length))
			assert.Equal(t, tc.score, a.Score)
			assert.Equal(t, tc.tier, a.Tier)
			assert.Equal(t, tc.eligible, a.Eligible)
		})
	}
}

func TestAssessIssues(t *testing.T) {
	g := newGate()

	assert.Equal(t, []string{IssueNoContent}, g.Assess("", "").Issues)
	assert.Equal(t, []string{IssueTitleOnly}, g.Assess("Hope", "").Issues)
	assert.Equal(t, []string{IssueTitleOnly, IssueBelowThreshold}, g.Assess("Hope", "hope").Issues)
	assert.Equal(t, []string{IssueBelowThreshold}, g.Assess("Hope", "a short body").Issues)
	assert.Empty(t, g.Assess("Hope", strings.Repeat("b", 600)).Issues)
}

type fixedScorer float64

func (f fixedScorer) Score(string, string) float64 { return float64(f) }

func TestPluggableScorer(t *testing.T) {
	g := NewGateWithScorer(config.NewStaticQualityConfigHolder(config.DefaultQualityConfig()), fixedScorer(0.9))
	a := g.Assess("Hope", "tiny")
	assert.Equal(t, TierHigh, a.Tier)
	assert.True(t, a.Eligible)
}

func TestRegenerationAllowed(t *testing.T) {
	assert.True(t, RegenerationAllowed(true, true))
	assert.True(t, RegenerationAllowed(false, false))
	assert.False(t, RegenerationAllowed(false, true))
}
