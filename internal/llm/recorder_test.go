package llm_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/clock"
	"github.com/smallbiznis/newsdesk/internal/config"
	"github.com/smallbiznis/newsdesk/internal/llm"
	"github.com/smallbiznis/newsdesk/internal/llm/llmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setup(t *testing.T, gw llm.Gateway, timeout time.Duration) (*llm.Recorder, llm.LogRepository) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "llm.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&llm.AiResponseLog{}))
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	repo := llm.NewLogRepository(conn)
	cfg := config.Config{LLM: config.LLMConfig{Timeout: timeout, DefaultMaxTokens: 512}}
	rec := llm.NewRecorder(llm.RecorderParams{
		Gateway: gw,
		Repo:    repo,
		GenID:   node,
		Clock:   clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Config:  cfg,
		Log:     zap.NewNop(),
	})
	return rec, repo
}

func TestGenerateWritesResponseLog(t *testing.T) {
	gw := &llmtest.Gateway{}
	gw.PushText("About Hope")
	rec, repo := setup(t, gw, time.Second)

	article := snowflake.ID(77)
	resp, logID, err := rec.Generate(context.Background(), llm.CallMeta{
		AccountID:          10,
		GeneratedArticleID: &article,
		PromptCategory:     "blog_post",
	}, llm.Request{Prompt: "Write about Hope"})
	require.NoError(t, err)
	assert.Equal(t, "About Hope", resp.Text)
	assert.NotZero(t, logID)
	assert.Equal(t, int32(512), gw.Calls()[0].MaxOutputTokens)

	logs, err := repo.ListByArticle(context.Background(), 10, article, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Write about Hope", logs[0].PromptText)
	assert.Equal(t, "About Hope", logs[0].ResponseText)
	assert.Equal(t, llm.StopReasonStop, logs[0].StopReason)

	other, err := repo.ListByArticle(context.Background(), 20, article, 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestTimeoutIsTransientAndNotTruncated(t *testing.T) {
	gw := &llmtest.Gateway{}
	gw.Push(llmtest.Block)
	rec, repo := setup(t, gw, 20*time.Millisecond)

	resp, _, err := rec.Generate(context.Background(), llm.CallMeta{AccountID: 10}, llm.Request{Prompt: "slow"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindTransientUpstream))
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, llm.StopReasonTimeout, resp.StopReason)
	assert.False(t, resp.IsTruncated)

	logs, err := repo.ListRecent(context.Background(), 10, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, llm.StopReasonTimeout, logs[0].StopReason)
	assert.False(t, logs[0].IsTruncated)
}

func TestLengthStopMarksTruncated(t *testing.T) {
	gw := &llmtest.Gateway{}
	gw.PushResponse(llmtest.Truncated(`{"title":`), nil)
	rec, _ := setup(t, gw, time.Second)

	resp, _, err := rec.Generate(context.Background(), llm.CallMeta{AccountID: 10}, llm.Request{Prompt: "json please"})
	require.NoError(t, err)
	assert.Equal(t, llm.StopReasonLength, resp.StopReason)
	assert.True(t, resp.IsTruncated)
}

func TestUpstreamErrorIsTransient(t *testing.T) {
	gw := &llmtest.Gateway{}
	gw.PushResponse(llm.Response{}, errors.New("connection reset"))
	rec, _ := setup(t, gw, time.Second)

	resp, _, err := rec.Generate(context.Background(), llm.CallMeta{AccountID: 10}, llm.Request{Prompt: "x"})
	assert.True(t, apperr.IsKind(err, apperr.KindTransientUpstream))
	assert.Equal(t, llm.StopReasonError, resp.StopReason)
}

func TestCancelledContext(t *testing.T) {
	gw := &llmtest.Gateway{}
	gw.Push(llmtest.Block)
	rec, _ := setup(t, gw, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := rec.Generate(ctx, llm.CallMeta{AccountID: 10}, llm.Request{Prompt: "x"})
	assert.True(t, apperr.IsKind(err, apperr.KindCancelled))
}

func TestLinkArticle(t *testing.T) {
	gw := llmtest.Echo()
	rec, repo := setup(t, gw, time.Second)
	ctx := context.Background()

	_, id, err := rec.Generate(ctx, llm.CallMeta{AccountID: 10}, llm.Request{Prompt: "x"})
	require.NoError(t, err)
	require.NoError(t, repo.LinkArticle(ctx, 10, []snowflake.ID{id}, 99))

	logs, err := repo.ListByArticle(ctx, 10, 99, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestMarkParseFailure(t *testing.T) {
	gw := llmtest.Echo()
	rec, repo := setup(t, gw, time.Second)
	ctx := context.Background()

	_, id, err := rec.Generate(ctx, llm.CallMeta{AccountID: 10}, llm.Request{Prompt: "x"})
	require.NoError(t, err)
	rec.MarkParseFailure(ctx, 10, id, apperr.New(apperr.KindParseFailure, "bad_json", "bad json"))
	rec.MarkParseFailure(ctx, 10, 0, nil)

	logs, err := repo.ListRecent(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, string(apperr.KindParseFailure), logs[0].ErrorKind)
	assert.Equal(t, "bad_json", logs[0].ErrorCode)
}

func TestRecorderLinkArticleSkipsBadIDs(t *testing.T) {
	gw := llmtest.Echo()
	rec, repo := setup(t, gw, time.Second)
	ctx := context.Background()

	_, id, err := rec.Generate(ctx, llm.CallMeta{AccountID: 10}, llm.Request{Prompt: "x"})
	require.NoError(t, err)
	require.NoError(t, rec.LinkArticle(ctx, 10, []string{id.String(), "nope"}, 77))

	logs, err := repo.ListByArticle(ctx, 10, 77, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
