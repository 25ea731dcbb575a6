// Package lock guards exclusive operations such as schema recreation and ingestion
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned when the operation is already running
var ErrLocked = errors.New("operation already running")

// Maintenance is the lock shared by schema migration and ingestion
const Maintenance = "helpdesk:maintenance"

// Locker acquires named locks without waiting
type Locker interface {
	// TryLock returns ErrLocked if name is held. ttl bounds how long a lock outlives a crashed
	// holder; implementations whose holders cannot crash independently may ignore it.
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}

// Local is an in-process Locker. Holders live and die with the process, so a lock is held
// until released and the ttl is ignored.
type Local struct {
	mu   sync.Mutex
	next uint64
	held map[string]uint64
}

var _ Locker = (*Local)(nil)

// NewLocal creates an in-process locker
func NewLocal() *Local {
	return &Local{held: make(map[string]uint64)}
}

func (l *Local) TryLock(_ context.Context, name string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[name]; ok {
		return nil, ErrLocked
	}
	l.next++
	token := l.next
	l.held[name] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[name] == token {
				delete(l.held, name)
			}
		})
	}, nil
}
