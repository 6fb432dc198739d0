package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	base := Validation("invalid_type", "unknown job type")
	wrapped := fmt.Errorf("enqueue: %w", base)

	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.Equal(t, "invalid_type", CodeOf(wrapped))
	assert.True(t, errors.Is(wrapped, Validation("invalid_type", "")))
	assert.False(t, errors.Is(wrapped, Validation("other", "")))
	assert.True(t, errors.Is(wrapped, &Error{Kind: KindValidation}))
}

func TestKindOfContextErrors(t *testing.T) {
	assert.Equal(t, KindTransientUpstream, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", Transient("llm_timeout", context.DeadlineExceeded), true},
		{"conflict", Conflict("lease_lost", "lease lost"), true},
		{"unknown", errors.New("connection reset"), true},
		{"validation", Validation("invalid_payload", "bad"), false},
		{"unresolved", New(KindTemplateVariableUnresolved, "article.title", "missing"), false},
		{"parse", New(KindParseFailure, "json", "bad json"), false},
		{"quota", New(KindQuotaExceeded, "daily_limit", "cap"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindTransientUpstream, "llm_call", errors.New("timeout"))
	assert.Equal(t, "llm_call: timeout", err.Error())
	assert.Equal(t, "not found", NotFound("job").Error())
}
