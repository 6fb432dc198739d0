package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/newsdesk/internal/authorization"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	contentdomain "github.com/smallbiznis/newsdesk/internal/content/domain"
	jobrepository "github.com/smallbiznis/newsdesk/internal/job/repository"
	jobservice "github.com/smallbiznis/newsdesk/internal/job/service"
	"github.com/smallbiznis/newsdesk/internal/migration"
	promptrepository "github.com/smallbiznis/newsdesk/internal/prompt/repository"
	promptservice "github.com/smallbiznis/newsdesk/internal/prompt/service"
	sourcedomain "github.com/smallbiznis/newsdesk/internal/source/domain"
	tenancydomain "github.com/smallbiznis/newsdesk/internal/tenancy/domain"
	tenancyrepository "github.com/smallbiznis/newsdesk/internal/tenancy/repository"
	tenancyservice "github.com/smallbiznis/newsdesk/internal/tenancy/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "test-signing-secret"

// Content and source handlers are not exercised here; embedding the
// interfaces satisfies the server without a full pipeline.
type stubContent struct{ contentdomain.Service }

type stubSources struct{ sourcedomain.Service }

type fakeWorker struct{ running bool }

func (w *fakeWorker) Start() bool {
	if w.running {
		return false
	}
	w.running = true
	return true
}

func (w *fakeWorker) Running() bool { return w.running }

type fixture struct {
	srv     *Server
	tenancy tenancydomain.Service
	account *tenancydomain.AccountResponse
}

func setup(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.Run(conn))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))

	tenancySvc := tenancyservice.NewService(tenancyservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		Repo:  tenancyrepository.NewRepository(conn),
		GenID: node,
		Clock: clk,
	})
	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)
	authzSvc := authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})

	jobSvc := jobservice.NewService(jobservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		Repo:  jobrepository.NewRepository(conn),
		GenID: node,
		Clock: clk,
		Config: config.Config{Worker: config.WorkerConfig{
			LeaseDuration:   time.Minute,
			MaxAttempts:     3,
			PayloadMaxBytes: 1024,
			BackoffBase:     time.Second,
			BackoffMax:      time.Minute,
		}},
	})
	promptSvc := promptservice.NewService(promptservice.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Repo:   promptrepository.NewRepository(conn),
		GenID:  node,
		Clock:  clk,
		Chains: promptservice.NewChainCache(nil),
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	srv := NewServer(ServerParams{
		Gin:        engine,
		Cfg:        config.Config{AuthJWTSecret: testSecret},
		Log:        zap.NewNop(),
		TenancySvc: tenancySvc,
		AuthzSvc:   authzSvc,
		JobSvc:     jobSvc,
		PromptSvc:  promptSvc,
		ContentSvc: stubContent{},
		SourceSvc:  stubSources{},
	})
	srv.RegisterRoutes()

	ctx := context.Background()
	org, err := tenancySvc.CreateOrganization(ctx, tenancydomain.CreateOrganizationRequest{Name: "Parish Press"})
	require.NoError(t, err)
	acct, err := tenancySvc.CreateAccount(ctx, tenancydomain.CreateAccountRequest{
		OrganizationID: org.ID,
		Name:           "Weekly Bulletin",
		OwnerUserID:    "owner-1",
		OwnerEmail:     "owner@example.com",
	})
	require.NoError(t, err)

	return fixture{srv: srv, tenancy: tenancySvc, account: acct}
}

func (f fixture) grant(t *testing.T, userID, role string) {
	t.Helper()
	scope, err := f.tenancy.ResolveScope(context.Background(), tenancydomain.ScopeRequest{AccountID: f.account.ID, UserID: "owner-1"})
	require.NoError(t, err)
	_, err = f.tenancy.AssignRole(context.Background(), scope, tenancydomain.AssignRoleRequest{UserID: userID, Role: role})
	require.NoError(t, err)
}

func (f fixture) do(method, path, accountID, userID string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if accountID != "" {
		req.Header.Set(HeaderAccountID, accountID)
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+signToken(userID, ""))
	}
	w := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(w, req)
	return w
}

func signToken(userID, accountID string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		AccountID: accountID,
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		panic(err)
	}
	return signed
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestMissingAccountHeaderIsScopeMissing(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodGet, "/jobs/recent", "", "owner-1", nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "ScopeMissing", body.Error)
	assert.Equal(t, "account_scope_missing", body.Code)
	assert.NotEmpty(t, body.Message)
}

func TestUnknownAccountIsScopeInvalid(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodGet, "/jobs/recent", "424242", "owner-1", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ScopeInvalid", decodeError(t, w).Error)
}

func TestNonMemberIsForbidden(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodGet, "/jobs/recent", f.account.ID, "stranger", nil)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Forbidden", decodeError(t, w).Error)
}

func TestViewerCannotCreateTemplate(t *testing.T) {
	f := setup(t)
	f.grant(t, "viewer-1", "viewer")

	w := f.do(http.MethodPost, "/prompts/templates", f.account.ID, "viewer-1", gin.H{
		"name":          "Headline",
		"category":      "article",
		"mediaType":     "text",
		"promptContent": "Write about {{title}}",
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	list := f.do(http.MethodGet, "/prompts/templates", f.account.ID, "viewer-1", nil)
	assert.Equal(t, http.StatusOK, list.Code)
}

func TestOwnerCreatesAndListsTemplate(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodPost, "/prompts/templates", f.account.ID, "owner-1", gin.H{
		"name":          "Headline",
		"category":      "article",
		"mediaType":     "text",
		"promptContent": "Write about {{title}}",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	list := f.do(http.MethodGet, "/prompts/templates", f.account.ID, "owner-1", nil)
	require.Equal(t, http.StatusOK, list.Code)
	var body struct {
		Templates []struct {
			Name string `json:"name"`
		} `json:"templates"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &body))
	require.Len(t, body.Templates, 1)
	assert.Equal(t, "Headline", body.Templates[0].Name)
}

func TestInvalidTemplateIsValidationError(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodPost, "/prompts/templates", f.account.ID, "owner-1", gin.H{
		"name":          "Broken",
		"category":      "article",
		"mediaType":     "hologram",
		"promptContent": "x",
	})

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ValidationError", decodeError(t, w).Error)
}

func TestEnqueueReturnsJobIDThenReadsBack(t *testing.T) {
	f := setup(t)
	f.grant(t, "editor-1", "editor")

	w := f.do(http.MethodPost, "/jobs", f.account.ID, "editor-1", gin.H{
		"type":    "content_generation",
		"payload": gin.H{"limit": 3},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)

	got := f.do(http.MethodGet, "/jobs/"+resp.JobID, f.account.ID, "editor-1", nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Contains(t, got.Body.String(), `"queued"`)
}

func TestEnqueueUnknownTypeIsValidationError(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodPost, "/jobs", f.account.ID, "owner-1", gin.H{"type": "make_coffee"})

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ValidationError", decodeError(t, w).Error)
}

func TestFullCycleAcceptsEmptyBody(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodPost, "/automate/full-cycle", f.account.ID, "owner-1", nil)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "jobId")
}

func TestWorkerStartWithoutWorker(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodPost, "/jobs/worker/start", f.account.ID, "owner-1", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "worker_not_available", decodeError(t, w).Code)

	status := f.do(http.MethodGet, "/jobs/worker/status", f.account.ID, "owner-1", nil)
	require.Equal(t, http.StatusOK, status.Code)
	assert.JSONEq(t, `{"available":false,"running":false}`, status.Body.String())
}

func TestWorkerStartIsIdempotent(t *testing.T) {
	f := setup(t)
	f.srv.worker = &fakeWorker{}

	first := f.do(http.MethodPost, "/jobs/worker/start", f.account.ID, "owner-1", nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.JSONEq(t, `{"started":true,"running":true}`, first.Body.String())

	second := f.do(http.MethodPost, "/jobs/worker/start", f.account.ID, "owner-1", nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, `{"started":false,"running":true}`, second.Body.String())
}

func TestBearerTokenIdentifiesCaller(t *testing.T) {
	f := setup(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "owner-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "owner@example.com",
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/jobs/stats", nil)
	req.Header.Set(HeaderAccountID, f.account.ID)
	req.Header.Set(HeaderUserID, "spoofed")
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestBadBearerTokenIsUnauthorized(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/stats", nil)
	req.Header.Set(HeaderAccountID, f.account.ID)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_token", decodeError(t, w).Code)
}

func TestListMyAccountsRequiresUser(t *testing.T) {
	f := setup(t)

	anon := f.do(http.MethodGet, "/user-management/accounts", "", "", nil)
	require.Equal(t, http.StatusUnauthorized, anon.Code)

	w := f.do(http.MethodGet, "/user-management/accounts", "", "owner-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), f.account.ID)
}

func TestUnknownRouteUsesErrorBody(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodGet, "/nowhere", "", "", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "NotFound", body.Error)
	assert.Equal(t, "route_not_found", body.Code)
}

func TestInvalidLimitIsValidationError(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodGet, "/jobs/recent?limit=-1", f.account.ID, "owner-1", nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_limit", decodeError(t, w).Code)
}

func TestAccountResolvedFromQueryThenBody(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodGet, "/jobs/stats?accountId="+f.account.ID, "", "owner-1", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodPost, "/jobs", "", "owner-1", gin.H{
		"accountId": f.account.ID,
		"type":      "analyze_articles",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "jobId")
}

func TestHeaderWinsOverQueryAccount(t *testing.T) {
	f := setup(t)

	w := f.do(http.MethodGet, "/jobs/stats?accountId="+f.account.ID, "424242", "owner-1", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionAccountFromToken(t *testing.T) {
	f := setup(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "owner-1"},
		AccountID:        f.account.ID,
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/jobs/stats", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestIdentityHeadersIgnoredWhenSecretSet(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/recent", nil)
	req.Header.Set(HeaderAccountID, f.account.ID)
	req.Header.Set(HeaderUserID, "owner-1")
	req.Header.Set(HeaderUserEmail, "owner@example.com")
	w := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
	assert.Equal(t, "unauthorized", decodeError(t, w).Code)
}

func TestIdentityHeadersTrustedWithoutSecret(t *testing.T) {
	f := setup(t)
	f.srv.jwtSecret = ""

	req := httptest.NewRequest(http.MethodGet, "/jobs/recent", nil)
	req.Header.Set(HeaderAccountID, f.account.ID)
	req.Header.Set(HeaderUserID, "owner-1")
	w := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
