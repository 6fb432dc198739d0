// Package llmtest provides a scripted llm.Gateway for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/smallbiznis/newsdesk/internal/llm"
)

// Reply computes the response for one call.
type Reply func(ctx context.Context, req llm.Request) (llm.Response, error)

// Gateway answers calls from a queue of replies and falls back to Default.
type Gateway struct {
	mu      sync.Mutex
	queue   []Reply
	calls   []llm.Request
	Default Reply
}

// Echo returns a gateway that answers every prompt with the prompt itself.
func Echo() *Gateway {
	return &Gateway{Default: func(_ context.Context, req llm.Request) (llm.Response, error) {
		return Text(req.Prompt), nil
	}}
}

func (g *Gateway) Provider() string { return "fake" }

func (g *Gateway) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	var reply Reply
	if len(g.queue) > 0 {
		reply = g.queue[0]
		g.queue = g.queue[1:]
	} else {
		reply = g.Default
	}
	g.mu.Unlock()

	if reply == nil {
		return Text(""), nil
	}
	return reply(ctx, req)
}

// Push queues replies consumed in order by subsequent calls.
func (g *Gateway) Push(replies ...Reply) {
	g.mu.Lock()
	g.queue = append(g.queue, replies...)
	g.mu.Unlock()
}

// PushText queues plain text responses.
func (g *Gateway) PushText(texts ...string) {
	for _, text := range texts {
		resp := Text(text)
		g.Push(func(context.Context, llm.Request) (llm.Response, error) { return resp, nil })
	}
}

// PushResponse queues a fixed response.
func (g *Gateway) PushResponse(resp llm.Response, err error) {
	g.Push(func(context.Context, llm.Request) (llm.Response, error) { return resp, err })
}

// Calls returns the requests received so far.
func (g *Gateway) Calls() []llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]llm.Request(nil), g.calls...)
}

// Text builds a completed response.
func Text(text string) llm.Response {
	return llm.Response{
		Text:             text,
		TokensUsedInput:  int32(len(text) / 4),
		TokensUsedOutput: int32(len(text) / 4),
		StopReason:       llm.StopReasonStop,
	}
}

// Truncated builds a response cut off at the token limit.
func Truncated(text string) llm.Response {
	resp := Text(text)
	resp.StopReason = llm.StopReasonLength
	resp.IsTruncated = true
	return resp
}

// Block waits until ctx is done, simulating a hung backend.
func Block(ctx context.Context, _ llm.Request) (llm.Response, error) {
	<-ctx.Done()
	return llm.Response{}, ctx.Err()
}
