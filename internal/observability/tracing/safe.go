package tracing

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/newsdesk/internal/apperr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Prompt text, response text and article bodies must never land on a span.
var blockedAttributeKeys = map[attribute.Key]struct{}{
	"prompt":        {},
	"prompt_text":   {},
	"response_text": {},
	"full_text":     {},
	"email":         {},
	"token":         {},
}

// SafeAttributes drops attributes that could carry user content or secrets.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError reduces err to its kind and code so internal messages stay out of traces.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	kind := apperr.KindOf(err)
	if kind == apperr.KindUnknown {
		return errors.New("internal error")
	}
	msg := string(kind)
	if code := strings.TrimSpace(apperr.CodeOf(err)); code != "" {
		msg += ": " + code
	}
	return errors.New(msg)
}

// StartSpan starts an internal span on the named tracer.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(SafeAttributes(attrs...)...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(SafeError(err))
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	span.End()
}
