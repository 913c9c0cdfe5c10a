package claim

import (
	"context"
	"sync"
)

// Memory claims topics within a single process.
type Memory struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// NewMemory creates an in-process claimer.
func NewMemory() *Memory {
	return &Memory{held: make(map[int64]struct{})}
}

func (m *Memory) TryClaim(_ context.Context, topicID int64) (Hold, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[topicID]; ok {
		return nil, false, nil
	}
	m.held[topicID] = struct{}{}
	return memoryHold{m: m, id: topicID}, true, nil
}

// Held reports how many topics are currently claimed.
func (m *Memory) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

type memoryHold struct {
	m  *Memory
	id int64
}

func (h memoryHold) Release(context.Context) error {
	h.m.mu.Lock()
	delete(h.m.held, h.id)
	h.m.mu.Unlock()
	return nil
}
