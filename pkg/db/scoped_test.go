package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type note struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	AccountID snowflake.ID `gorm:"not null;index"`
	Title     string
}

func (n note) OwnerAccountID() snowflake.ID { return n.AccountID }

func setupStore(t *testing.T) *Store[note] {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "scoped.db") + "?_pragma=busy_timeout(5000)"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&note{}))
	return NewStore[note](conn)
}

func TestStoreNeverCrossesAccounts(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	require.NoError(t, store.Create(ctx, &note{ID: 1, AccountID: 10, Title: "a"}))
	require.NoError(t, store.Create(ctx, &note{ID: 2, AccountID: 20, Title: "b"}))

	rows, err := store.Find(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, snowflake.ID(10), rows[0].AccountID)

	other, err := store.FindByID(ctx, 10, 2)
	require.NoError(t, err)
	assert.Nil(t, other)

	updated, err := store.Update(ctx, 10, 2, map[string]any{"title": "hijack"})
	require.NoError(t, err)
	assert.False(t, updated)

	count, err := store.Count(ctx, 20, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStoreRequiresAccount(t *testing.T) {
	store := setupStore(t)
	_, err := store.Find(context.Background(), 0, nil)
	assert.ErrorIs(t, err, ErrMissingAccount)
	assert.ErrorIs(t, store.Create(context.Background(), &note{ID: 3}), ErrMissingAccount)
}

func TestClassify(t *testing.T) {
	assert.True(t, apperr.IsKind(Classify(gorm.ErrRecordNotFound), apperr.KindNotFound))
	assert.True(t, apperr.IsKind(Classify(&pgconn.PgError{Code: "23505"}), apperr.KindConflict))
	assert.True(t, apperr.IsKind(Classify(&pgconn.PgError{Code: "40001"}), apperr.KindTransientUpstream))
	assert.True(t, apperr.IsKind(Classify(errors.New("disk full")), apperr.KindInternal))

	validation := apperr.Validation("bad", "bad input")
	assert.Same(t, validation, Classify(validation))
	assert.NoError(t, Classify(nil))
}

func TestDialectRejectsUnknownType(t *testing.T) {
	_, err := Dialect(Config{Type: "oracle"})
	assert.Error(t, err)

	d, err := Dialect(Config{Type: "sqlite", Name: "newsdesk"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())
}
