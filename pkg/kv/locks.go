package kv

import (
	"context"
	"sync"
)

// KeyedMutex hands out process-local named locks. It backs Client.Lock for
// drivers whose store has no distributed lock primitive. The zero value is
// ready to use.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

// Lock blocks until name is free or ctx is done.
func (m *KeyedMutex) Lock(ctx context.Context, name string) (Unlocker, error) {
	l := m.acquireRef(name)

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		m.releaseRef(name, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return UnlockFunc(func(context.Context) error {
		once.Do(func() {
			<-l.sem
			m.releaseRef(name, l)
		})
		return nil
	}), nil
}

func (m *KeyedMutex) acquireRef(name string) *keyedLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks == nil {
		m.locks = make(map[string]*keyedLock)
	}
	l, ok := m.locks[name]
	if !ok {
		l = &keyedLock{sem: make(chan struct{}, 1)}
		m.locks[name] = l
	}
	l.refs++
	return l
}

func (m *KeyedMutex) releaseRef(name string, l *keyedLock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(m.locks, name)
	}
}
