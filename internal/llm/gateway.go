// Package llm is the gateway to the text generation backend. Every call made
// on behalf of a job goes through Recorder so its prompt and response land in
// ai_response_logs.
package llm

import (
	"context"

	"github.com/smallbiznis/newsdesk/internal/apperr"
)

const (
	StopReasonStop    = "stop"
	StopReasonLength  = "length"
	StopReasonTimeout = "timeout"
	StopReasonError   = "error"
)

type Request struct {
	Prompt          string
	SystemMessage   string
	MaxOutputTokens int32
}

type Response struct {
	Text             string `json:"text"`
	TokensUsedInput  int32  `json:"tokensUsedInput"`
	TokensUsedOutput int32  `json:"tokensUsedOutput"`
	StopReason       string `json:"stopReason"`
	IsTruncated      bool   `json:"isTruncated"`
}

// Gateway generates text for a prompt. Implementations honor ctx deadlines.
type Gateway interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Provider() string
}

var ErrNotConfigured = apperr.New(apperr.KindInternal, "llm_not_configured", "LLM provider key is not configured")

// disabledGateway is used when no provider key is configured so the API can
// still boot; every call fails with ErrNotConfigured.
type disabledGateway struct{}

func (disabledGateway) Generate(context.Context, Request) (Response, error) {
	return Response{StopReason: StopReasonError}, ErrNotConfigured
}

func (disabledGateway) Provider() string { return "disabled" }
