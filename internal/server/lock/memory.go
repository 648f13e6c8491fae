package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is a process-local Locker for single-node runs and tests.
type Memory struct {
	mu   sync.Mutex
	held map[string]memoryLease
	seq  int
	now  func() time.Time
	poll time.Duration
}

type memoryLease struct {
	token   int
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]memoryLease), now: time.Now, poll: 10 * time.Millisecond}
}

func (m *Memory) TryAcquire(ctx context.Context, name string, wait, lease time.Duration) (Lease, bool, error) {
	var token int
	ok, err := acquire(ctx, wait, m.poll, func(context.Context) (bool, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		now := m.now()
		if cur, taken := m.held[name]; taken && now.Before(cur.expires) {
			return false, nil
		}
		m.seq++
		token = m.seq
		m.held[name] = memoryLease{token: token, expires: now.Add(lease)}
		return true, nil
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return &memoryHandle{m: m, name: name, token: token}, true, nil
}

type memoryHandle struct {
	m     *Memory
	name  string
	token int
}

func (h *memoryHandle) Release(context.Context) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	cur, ok := h.m.held[h.name]
	if !ok || cur.token != h.token {
		return fmt.Errorf("release %s: %w", h.name, ErrNotHeld)
	}
	delete(h.m.held, h.name)
	return nil
}
