package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/newsdesk/internal/accountctx"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/smallbiznis/newsdesk/internal/generation"
	jobdomain "github.com/smallbiznis/newsdesk/internal/job/domain"
	sourcedomain "github.com/smallbiznis/newsdesk/internal/source/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// cycleSources serves a full cycle whose analysis fails once.
type cycleSources struct {
	sourcedomain.Service
	refreshes    int
	analyzeCalls int
}

func (s *cycleSources) RefreshAll(context.Context, accountctx.Scope) ([]sourcedomain.RefreshResult, error) {
	s.refreshes++
	return []sourcedomain.RefreshResult{{SourceID: "1", Fetched: 4, Inserted: 3}}, nil
}

func (s *cycleSources) ListPendingAnalysis(context.Context, accountctx.Scope, int) ([]sourcedomain.ScrapedArticle, error) {
	s.analyzeCalls++
	if s.analyzeCalls == 1 {
		return nil, apperr.Transient("db_unavailable", errors.New("connection reset"))
	}
	return nil, nil
}

func (s *cycleSources) ListEligible(context.Context, accountctx.Scope, int) ([]sourcedomain.ScrapedArticle, error) {
	return nil, nil
}

func TestFullCycleRetryKeepsRefreshCounters(t *testing.T) {
	sources := &cycleSources{}
	p := NewPipeline(HandlerParams{Log: zap.NewNop(), Sources: sources})

	saves := 0
	run := &generation.Run{
		Job:        &jobdomain.Job{Type: jobdomain.TypeFullCycle},
		Scope:      accountctx.Scope{AccountID: 7},
		Refs:       &jobdomain.ResultRefs{},
		Checkpoint: func(context.Context) error { saves++; return nil },
	}

	err := p.FullCycle(context.Background(), run)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindTransientUpstream))
	assert.Equal(t, 1, saves)
	assert.True(t, run.Refs.PhaseDone(phaseRefresh))

	require.NoError(t, p.FullCycle(context.Background(), run))

	assert.Equal(t, 1, sources.refreshes)
	assert.Equal(t, 1, run.Refs.Counters[CounterSourcesRefreshed])
	assert.Equal(t, 4, run.Refs.Counters[CounterArticlesFetched])
	assert.Equal(t, 3, run.Refs.Counters[CounterArticlesInserted])
}
