package usecase

import "sync"

// partitionLocks hands out one RWMutex per user. Entries are reference
// counted so idle users do not accumulate.
type partitionLocks struct {
	mu    sync.Mutex
	locks map[string]*partitionLock
}

type partitionLock struct {
	sync.RWMutex
	refs int
}

func newPartitionLocks() *partitionLocks {
	return &partitionLocks{locks: make(map[string]*partitionLock)}
}

func (p *partitionLocks) acquire(userID string) *partitionLock {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[userID]
	if !ok {
		l = &partitionLock{}
		p.locks[userID] = l
	}
	l.refs++
	return l
}

func (p *partitionLocks) release(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[userID]
	if !ok {
		return
	}
	l.refs--
	if l.refs <= 0 {
		delete(p.locks, userID)
	}
}

func (p *partitionLocks) withWrite(userID string, fn func() error) error {
	l := p.acquire(userID)
	defer p.release(userID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

func (p *partitionLocks) withRead(userID string, fn func() error) error {
	l := p.acquire(userID)
	defer p.release(userID)
	l.RLock()
	defer l.RUnlock()
	return fn()
}
