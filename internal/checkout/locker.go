package checkout

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is a Locker for single-instance deployments.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]lease
	seq   uint64
	clock func() time.Time
}

type lease struct {
	id      uint64
	expires time.Time
}

var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]lease),
		clock: time.Now,
	}
}

// TryLock implements Locker. Expired leases are taken over.
func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, ErrLocked
	}

	l.seq++
	id := l.seq
	l.held[key] = lease{id: id, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.id == id {
			delete(l.held, key)
		}
		return nil
	}, nil
}
