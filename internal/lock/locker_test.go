package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNilLockerIsInert(t *testing.T) {
	l := NewLocker(nil)
	assert.Nil(t, l)

	_, ok, err := l.TryLock(context.Background(), "newsdesk:worker:leader", time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = l.Refresh(context.Background(), "k", "t", time.Second)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, l.Release(context.Background(), "k", "t"))
}
