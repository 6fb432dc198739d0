package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]string {
	out := map[attribute.Key]string{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestGinMiddlewareTagsAccountAndErrorKind(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := recordSpans(t)

	engine := gin.New()
	engine.Use(GinMiddleware())
	engine.GET("/jobs/:id", func(c *gin.Context) {
		scope := accountctx.Scope{OrganizationID: 3, AccountID: 42, UserID: "viewer-1", Role: accountctx.RoleViewer}
		c.Request = c.Request.WithContext(accountctx.WithScope(c.Request.Context(), scope))
		_ = c.Error(apperr.New(apperr.KindForbidden, "forbidden", "role may not run jobs"))
		c.AbortWithStatus(http.StatusForbidden)
	})

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs/7", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /jobs/:id", spans[0].Name())
	attrs := spanAttrs(spans[0])
	assert.Equal(t, "42", attrs["newsdesk.account_id"])
	assert.Equal(t, accountctx.RoleViewer, attrs["newsdesk.role"])
	assert.Equal(t, string(apperr.KindForbidden), attrs["newsdesk.error_kind"])
	assert.Equal(t, "403", attrs["http.status_code"])
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
}

func TestGinMiddlewareMarksServerFaults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := recordSpans(t)

	engine := gin.New()
	engine.Use(GinMiddleware())
	engine.GET("/health", func(c *gin.Context) {
		_ = c.Error(apperr.Wrap(apperr.KindInternal, "db_down", assert.AnError))
		c.AbortWithStatus(http.StatusInternalServerError)
	})

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	_, scoped := spanAttrs(spans[0])["newsdesk.account_id"]
	assert.False(t, scoped)
}
