package storage

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Store. FailNext makes the next write fail,
// which tests use to exercise rollback paths.
type Memory struct {
	mu          sync.Mutex
	subscribers []int64
	markers     map[string]time.Time
	audit       []AuditEntry
	failNext    error
	saves       int
}

func NewMemory(ids ...int64) *Memory {
	return &Memory{subscribers: append([]int64{}, ids...), markers: map[string]time.Time{}}
}

// FailNext makes the next SaveSubscribers or PutMarker return err wrapped
// in ErrUnavailable.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// Saves reports how many times SaveSubscribers succeeded.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) takeFailure(op string) error {
	if m.failNext == nil {
		return nil
	}
	err := m.failNext
	m.failNext = nil
	return unavailable(op, err)
}

func (m *Memory) LoadSubscribers(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64{}, m.subscribers...), nil
}

func (m *Memory) SaveSubscribers(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("save subscribers"); err != nil {
		return err
	}
	m.subscribers = append([]int64{}, ids...)
	m.saves++
	return nil
}

func (m *Memory) GetMarker(ctx context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.markers[key]
	return at, ok, nil
}

func (m *Memory) PutMarker(ctx context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("put marker"); err != nil {
		return err
	}
	m.markers[key] = at
	return nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) Close() error { return nil }
