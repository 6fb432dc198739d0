// Package quality scores article text before generation and annotates
// generated artifacts after it.
package quality

import (
	"strings"
	"unicode/utf8"

	"github.com/smallbiznis/newsdesk/internal/config"
)

const (
	IssueNoContent      = "no_content"
	IssueTitleOnly      = "title_only"
	IssueBelowThreshold = "below_threshold"
)

const (
	TierHigh   = "high"
	TierMedium = "medium"
	TierLow    = "low"
	TierPoor   = "poor"
)

// Assessment is the verdict recorded on a ScrapedArticle or an artifact.
type Assessment struct {
	Score    float64  `json:"score"`
	Tier     string   `json:"tier"`
	Eligible bool     `json:"eligible"`
	Issues   []string `json:"issues"`
}

// Scorer maps an article to a score in [0, 1].
type Scorer interface {
	Score(title, text string) float64
}

// LengthScorer awards the score of the highest band whose minimum length
// the text reaches.
type LengthScorer struct {
	holder *config.QualityConfigHolder
}

func NewLengthScorer(holder *config.QualityConfigHolder) *LengthScorer {
	return &LengthScorer{holder: holder}
}

func (s *LengthScorer) Score(_ string, text string) float64 {
	length := utf8.RuneCountInString(strings.TrimSpace(text))
	score := 0.0
	for _, band := range s.holder.Get().Bands {
		if length >= band.MinChars {
			score = band.Score
		}
	}
	return score
}

// Gate combines a Scorer with the eligibility threshold and issue detection.
type Gate struct {
	scorer Scorer
	holder *config.QualityConfigHolder
}

func NewGate(holder *config.QualityConfigHolder) *Gate {
	return &Gate{scorer: NewLengthScorer(holder), holder: holder}
}

// NewGateWithScorer swaps the scoring function while keeping thresholds.
func NewGateWithScorer(holder *config.QualityConfigHolder, scorer Scorer) *Gate {
	return &Gate{scorer: scorer, holder: holder}
}

func (g *Gate) Assess(title, text string) Assessment {
	cfg := g.holder.Get()
	title = strings.TrimSpace(title)
	text = strings.TrimSpace(text)

	issues := make([]string, 0, 2)
	switch {
	case title == "" && text == "":
		issues = append(issues, IssueNoContent)
	case text == "" || strings.EqualFold(text, title):
		issues = append(issues, IssueTitleOnly)
	}
	if len(cfg.Bands) > 0 && text != "" && utf8.RuneCountInString(text) < cfg.Bands[0].MinChars {
		issues = append(issues, IssueBelowThreshold)
	}

	score := 0.0
	if text != "" && !strings.EqualFold(text, title) {
		score = g.scorer.Score(title, text)
	}
	return Assessment{
		Score:    score,
		Tier:     tierFor(score, cfg),
		Eligible: score >= cfg.MinEligibleScore && score > 0,
		Issues:   issues,
	}
}

// tierFor maps the score onto the configured bands: the top band is high,
// the next medium, any other positive score low, zero poor.
func tierFor(score float64, cfg config.QualityConfig) string {
	bands := cfg.Bands
	switch {
	case score <= 0 || len(bands) == 0:
		return TierPoor
	case score >= bands[len(bands)-1].Score:
		return TierHigh
	case len(bands) > 1 && score >= bands[len(bands)-2].Score:
		return TierMedium
	default:
		return TierLow
	}
}

// RegenerationAllowed reports whether an article may be regenerated under
// the account's poor-quality policy.
func RegenerationAllowed(eligible, disableOnPoorQuality bool) bool {
	return eligible || !disableOnPoorQuality
}
