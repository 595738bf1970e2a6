package flow

import (
	"context"
	"sync"
)

// senderLocks hands out one exclusive section per sender identity. Waiters are
// admitted in arrival order and entries are dropped once nobody holds or waits
// on them.
type senderLocks struct {
	mu    sync.Mutex
	locks map[string]*senderLock
}

type senderLock struct {
	sem  chan struct{}
	refs int
}

func newSenderLocks() *senderLocks {
	return &senderLocks{locks: make(map[string]*senderLock)}
}

// Lock blocks until the section for key is free or ctx is done. The returned
// func releases the section and must be called exactly once.
func (l *senderLocks) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	sl, ok := l.locks[key]
	if !ok {
		sl = &senderLock{sem: make(chan struct{}, 1)}
		l.locks[key] = sl
	}
	sl.refs++
	l.mu.Unlock()

	select {
	case sl.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-sl.sem
				l.release(key, sl)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, sl)
		return nil, ctx.Err()
	}
}

func (l *senderLocks) release(key string, sl *senderLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.locks, key)
	}
}

// size returns the number of tracked keys.
func (l *senderLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
