package auction

import "sync"

// auctionLocks hands out one mutex per auction id and frees it once no
// goroutine holds or waits on it.
type auctionLocks struct {
	mu    sync.Mutex
	locks map[int64]*auctionLock
}

type auctionLock struct {
	sync.Mutex
	refs int
}

func newAuctionLocks() *auctionLocks {
	return &auctionLocks{locks: make(map[int64]*auctionLock)}
}

// Lock blocks until the auction is free and returns the matching unlock.
func (l *auctionLocks) Lock(auctionID int64) func() {
	l.mu.Lock()
	lock, ok := l.locks[auctionID]
	if !ok {
		lock = &auctionLock{}
		l.locks[auctionID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, auctionID)
		}
		l.mu.Unlock()
	}
}

func (l *auctionLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
