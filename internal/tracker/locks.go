package tracker

import "sync"

// productLocks serializes work on the same product. Entries are dropped once
// no goroutine holds or waits for them.
type productLocks struct {
	mu    sync.Mutex
	locks map[uint64]*productLock
}

type productLock struct {
	sync.Mutex
	refs int
}

func newProductLocks() *productLocks {
	return &productLocks{locks: make(map[uint64]*productLock)}
}

// Lock blocks until id is free and returns the matching unlock func.
func (l *productLocks) Lock(id uint64) func() {
	l.mu.Lock()
	pl, ok := l.locks[id]
	if !ok {
		pl = &productLock{}
		l.locks[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.Lock()
	return func() {
		pl.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
