package generation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/llm"
	"github.com/smallbiznis/newsdesk/internal/prompt/parse"
	sourcedomain "github.com/smallbiznis/newsdesk/internal/source/domain"
	"go.uber.org/zap"
)

const (
	CategoryAnalysis   = "analysis"
	CounterAnalyzed    = "articles_analyzed"
	maxAnalysisChars   = 6000
	fallbackSummaryLen = 300
)

var errAnalysisUnstructured = apperr.New(apperr.KindParseFailure, "analysis_unstructured", "analysis reply was not a JSON object")

const analysisPrompt = `You are screening news for an editorial team.
Reply with one JSON object with the keys "summary" (at most two sentences), "keywords" (up to eight lowercase keywords) and "relevanceScore" (a number between 0 and 1).

Title: %s

%s`

// Analyze summarizes a scraped article and records keywords and relevance.
// A reply that is not valid JSON falls back to a lead-sentence summary so a
// chatty model does not block the pipeline.
func (e *Executor) Analyze(ctx context.Context, run *Run, story *sourcedomain.ScrapedArticle) error {
	if err := run.checkpoint(ctx); err != nil {
		return err
	}
	meta := llm.CallMeta{AccountID: run.Scope.AccountID, PromptCategory: CategoryAnalysis}
	if jobID := run.jobID(); jobID != 0 {
		meta.JobID = &jobID
	}
	body := story.FullText
	if utf8.RuneCountInString(body) > maxAnalysisChars {
		body = string([]rune(body)[:maxAnalysisChars])
	}
	resp, logID, err := e.recorder.Generate(ctx, meta, llm.Request{
		Prompt: fmt.Sprintf(analysisPrompt, story.Title, body),
	})
	if logID != 0 {
		run.Refs.AddUnlinkedCall(story.ID.String(), logID.String())
	}
	if err != nil {
		return err
	}

	analysis, ok := parseAnalysis(resp)
	if !ok {
		e.recorder.MarkParseFailure(ctx, run.Scope.AccountID, logID, errAnalysisUnstructured)
		e.log.Debug("analysis reply not structured, using fallback",
			zap.String("scraped_article_id", story.ID.String()))
		analysis = sourcedomain.Analysis{
			Summary:        leadSummary(story),
			RelevanceScore: story.ContentQualityScore,
		}
	}
	if err := e.sources.RecordAnalysis(ctx, run.Scope, story.ID.String(), analysis); err != nil {
		return err
	}
	run.Refs.Inc(CounterAnalyzed, 1)
	return nil
}

func parseAnalysis(resp llm.Response) (sourcedomain.Analysis, bool) {
	entries, err := parse.Parse(parse.Input{Method: parse.MethodJSON, Text: resp.Text, StopReason: resp.StopReason})
	if err != nil || len(entries) == 0 {
		return sourcedomain.Analysis{}, false
	}
	entry := entries[0]
	summary, _ := entry["summary"].(string)
	if strings.TrimSpace(summary) == "" {
		return sourcedomain.Analysis{}, false
	}
	out := sourcedomain.Analysis{Summary: strings.TrimSpace(summary)}
	if list, ok := entry["keywords"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out.Keywords = append(out.Keywords, strings.ToLower(strings.TrimSpace(s)))
			}
		}
	}
	if score, ok := entry["relevanceScore"].(float64); ok {
		out.RelevanceScore = score
	}
	return out, true
}

func leadSummary(story *sourcedomain.ScrapedArticle) string {
	text := strings.TrimSpace(story.FullText)
	if text == "" {
		return strings.TrimSpace(story.Title)
	}
	sentences := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			sentences++
			if sentences == 2 {
				return text[:i+1]
			}
		}
	}
	if utf8.RuneCountInString(text) > fallbackSummaryLen {
		return string([]rune(text)[:fallbackSummaryLen])
	}
	return text
}
