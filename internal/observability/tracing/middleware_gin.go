package tracing

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	obscontext "github.com/smallbiznis/newsdesk/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const httpTracer = "newsdesk/http"

// GinMiddleware opens one server span per request. Once the handlers ran,
// the span is renamed after the matched route and tagged with the resolved
// account scope and the error kind of the response, if any.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(httpTracer)
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "newsdesk.http", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		span.SetName(c.Request.Method + " " + route)
		span.SetAttributes(SafeAttributes(requestAttributes(c, route, status, time.Since(started))...)...)

		err := lastError(c)
		if err != nil && status >= http.StatusBadRequest {
			span.SetAttributes(
				attribute.String("newsdesk.error_kind", string(apperr.KindOf(err))),
				attribute.String("newsdesk.error_code", apperr.CodeOf(err)),
			)
		}
		// Scope and role rejections are expected traffic; only server faults
		// mark the span failed.
		if status >= http.StatusInternalServerError {
			if err != nil {
				span.RecordError(SafeError(err))
			}
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func requestAttributes(c *gin.Context, route string, status int, elapsed time.Duration) []attribute.KeyValue {
	ctx := c.Request.Context()
	attrs := []attribute.KeyValue{
		attribute.String("http.method", c.Request.Method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
		attribute.Int64("http.server_duration_ms", elapsed.Milliseconds()),
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		attrs = append(attrs, attribute.String("request_id", requestID))
	}
	if scope, ok := accountctx.FromContext(ctx); ok {
		attrs = append(attrs,
			attribute.String("newsdesk.account_id", scope.AccountID.String()),
			attribute.String("newsdesk.organization_id", scope.OrganizationID.String()),
			attribute.String("newsdesk.role", scope.EffectiveRole()),
		)
	}
	return attrs
}

func lastError(c *gin.Context) error {
	if last := c.Errors.Last(); last != nil {
		return last.Err
	}
	return nil
}
