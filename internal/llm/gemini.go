package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type gemini struct {
	client    *genai.Client
	modelName string
	maxTokens int32
}

// NewGateway builds the Gemini backend, or a disabled gateway when no key is set.
func NewGateway(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Gateway, error) {
	log = log.Named("llm.gateway")
	if cfg.LLM.ProviderKey == "" {
		log.Warn("LLM_PROVIDER_KEY not set, generation is disabled")
		return disabledGateway{}, nil
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.LLM.ProviderKey))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("gemini gateway ready", zap.String("model", cfg.LLM.Model))
	return &gemini{client: client, modelName: cfg.LLM.Model, maxTokens: cfg.LLM.DefaultMaxTokens}, nil
}

func (g *gemini) Provider() string { return "gemini" }

func (g *gemini) Generate(ctx context.Context, req Request) (Response, error) {
	model := g.client.GenerativeModel(g.modelName)
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	if maxTokens > 0 {
		model.SetMaxOutputTokens(maxTokens)
	}
	if system := strings.TrimSpace(req.SystemMessage); system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return Response{StopReason: StopReasonError}, err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return Response{StopReason: StopReasonError}, apperr.Transient("llm_empty_response", errors.New("model returned no candidates"))
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}

	out := Response{Text: text.String(), StopReason: stopReason(cand.FinishReason)}
	out.IsTruncated = out.StopReason == StopReasonLength
	if resp.UsageMetadata != nil {
		out.TokensUsedInput = resp.UsageMetadata.PromptTokenCount
		out.TokensUsedOutput = resp.UsageMetadata.CandidatesTokenCount
	}
	return out, nil
}

func stopReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop, genai.FinishReasonUnspecified:
		return StopReasonStop
	case genai.FinishReasonMaxTokens:
		return StopReasonLength
	default:
		return StopReasonError
	}
}
