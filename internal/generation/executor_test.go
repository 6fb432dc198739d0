package generation

import (
	"strings"
	"testing"

	"github.com/smallbiznis/newsdesk/internal/llm"
	sourcedomain "github.com/smallbiznis/newsdesk/internal/source/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestSetPriorExposesFirstEntryAndList(t *testing.T) {
	prior := map[string]any{}
	setPrior(prior, "social_media", []map[string]any{
		{"platform": "facebook", "text": "Tease: About Hope"},
		{"platform": "x", "text": "Hope, briefly"},
	})

	view, ok := prior["social_media"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Tease: About Hope", view["text"])
	assert.Equal(t, "facebook", view["platform"])
	assert.Len(t, view["entries"], 2)
}

func TestSetPriorIgnoresEmptyOutput(t *testing.T) {
	prior := map[string]any{}
	setPrior(prior, "blog_post", nil)
	setPrior(prior, "", []map[string]any{{"text": "x"}})
	assert.Empty(t, prior)
}

func TestImageQuery(t *testing.T) {
	cases := map[string]string{
		`Query: "sunrise over a quiet harbor"`:     "sunrise over a quiet harbor",
		"church choir rehearsal\nextra commentary": "church choir rehearsal",
		"   ":                                      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, imageQuery(in), in)
	}
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "example.com", hostOf("https://www.example.com/news/1?ref=rss"))
	assert.Equal(t, "feeds.example.org", hostOf("http://feeds.example.org"))
}

func TestParseAnalysisReadsJSONReply(t *testing.T) {
	analysis, ok := parseAnalysis(llm.Response{
		Text:       "```json\n{\"summary\": \"Flood relief reaches the valley.\", \"keywords\": [\"Flood\", \" relief \"], \"relevanceScore\": 0.72}\n```",
		StopReason: llm.StopReasonStop,
	})
	require.True(t, ok)
	assert.Equal(t, "Flood relief reaches the valley.", analysis.Summary)
	assert.Equal(t, []string{"flood", "relief"}, analysis.Keywords)
	assert.InDelta(t, 0.72, analysis.RelevanceScore, 1e-9)
}

func TestParseAnalysisRejectsProse(t *testing.T) {
	_, ok := parseAnalysis(llm.Response{Text: "This article is about floods.", StopReason: llm.StopReasonStop})
	assert.False(t, ok)

	_, ok = parseAnalysis(llm.Response{Text: `{"summary": "cut`, StopReason: "length"})
	assert.False(t, ok)
}

func TestLeadSummaryTakesTwoSentences(t *testing.T) {
	story := &sourcedomain.ScrapedArticle{
		Title:    "Valley floods",
		FullText: "Rain fell for six days. The river rose. Crews worked overnight.",
	}
	assert.Equal(t, "Rain fell for six days. The river rose.", leadSummary(story))

	story.FullText = ""
	assert.Equal(t, "Valley floods", leadSummary(story))

	story.FullText = strings.Repeat("a", fallbackSummaryLen+50)
	assert.Len(t, leadSummary(story), fallbackSummaryLen)
}

func TestAnnotateCarriesGateVerdict(t *testing.T) {
	story := &sourcedomain.ScrapedArticle{
		QualityTier:               "poor",
		ContentQualityScore:       0.3,
		ContentGenerationEligible: false,
		ContentIssues:             datatypes.JSON(`["below_threshold"]`),
	}
	got := annotate(story, llm.Response{StopReason: "length", IsTruncated: true})
	assert.Equal(t, "poor", got["tier"])
	assert.Equal(t, false, got["eligible"])
	assert.Equal(t, []string{"below_threshold"}, got["issues"])
	assert.Equal(t, true, got["truncated"])
}

func TestDecodeStringsToleratesGarbage(t *testing.T) {
	assert.Equal(t, []string{}, decodeStrings(nil))
	assert.Equal(t, []string{}, decodeStrings([]byte("not json")))
	assert.Equal(t, []string{"title_only"}, decodeStrings([]byte(`["title_only"]`)))
}
