package local

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	token   string
	expires time.Time
}

func (l lease) expired(now time.Time) bool { return now.After(l.expires) }

// Locks is an in-process lock table. Leases that lapse without Unlock are
// swept in the background.
type Locks struct {
	mu        sync.Mutex
	leases    map[string]lease
	stopGC    chan struct{}
	closeOnce sync.Once
}

// NewLocks creates a lock table sweeping lapsed leases every gcInterval
// (30s when not positive).
func NewLocks(gcInterval time.Duration) *Locks {
	if gcInterval <= 0 {
		gcInterval = 30 * time.Second
	}
	l := &Locks{leases: make(map[string]lease), stopGC: make(chan struct{})}
	go l.runGC(gcInterval)
	return l
}

// Close stops the sweeper.
func (l *Locks) Close() {
	l.closeOnce.Do(func() { close(l.stopGC) })
}

func (l *Locks) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			l.mu.Lock()
			for k, ls := range l.leases {
				if ls.expired(now) {
					delete(l.leases, k)
				}
			}
			l.mu.Unlock()
		case <-l.stopGC:
			return
		}
	}
}

func (l *Locks) TryLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[key]; ok && !cur.expired(now) {
		return false, nil
	}
	l.leases[key] = lease{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (l *Locks) Unlock(_ context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.leases[key]
	if !ok || cur.token != token || cur.expired(time.Now()) {
		return false, nil
	}
	delete(l.leases, key)
	return true, nil
}

// Held reports how many unexpired leases exist.
func (l *Locks) Held() int {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ls := range l.leases {
		if !ls.expired(now) {
			n++
		}
	}
	return n
}
