package conversation

import "sync"

// Locker serializes work per conversation ID. Entries are removed when
// their last holder unlocks.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker creates a Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*idLock)}
}

// Lock blocks until the caller holds id and returns the unlock function.
func (l *Locker) Lock(id string) (unlock func()) {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &idLock{}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return l.release(id, lk)
}

// TryLock acquires id only if no other caller holds or waits for it.
func (l *Locker) TryLock(id string) (unlock func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.locks[id]; busy {
		return nil, false
	}
	lk := &idLock{refs: 1}
	lk.mu.Lock()
	l.locks[id] = lk
	return l.release(id, lk), true
}

func (l *Locker) release(id string, lk *idLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			lk.mu.Unlock()
			l.mu.Lock()
			lk.refs--
			if lk.refs == 0 {
				delete(l.locks, id)
			}
			l.mu.Unlock()
		})
	}
}

// Held returns the number of IDs currently locked or awaited.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
