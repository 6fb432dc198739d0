package worker

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/newsdesk/internal/lock"
)

// leader holds a redis lock so only one process reaps and leases when
// several workers share a queue.
type leader struct {
	locker *lock.Locker
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

func newLeader(locker *lock.Locker, key string, ttl time.Duration) *leader {
	return &leader{locker: locker, key: key, ttl: ttl}
}

func (l *leader) ensure(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token != "" {
		ok, err := l.locker.Refresh(ctx, l.key, l.token, l.ttl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		l.token = ""
	}
	token, ok, err := l.locker.TryLock(ctx, l.key, l.ttl)
	if err != nil || !ok {
		return false, err
	}
	l.token = token
	return true, nil
}

func (l *leader) release(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token == "" {
		return
	}
	_ = l.locker.Release(ctx, l.key, l.token)
	l.token = ""
}
