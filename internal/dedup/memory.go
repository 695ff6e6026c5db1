package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-memory Ledger for tests and development. Entries
// expire lazily on lookup.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time // id -> expiry
	now     func() time.Time

	// Fail forces every call to return ErrLedgerUnavailable; tests use it
	// to exercise the fail-closed ingestion path.
	Fail bool
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryLedger) IsKnown(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail {
		return false, ErrLedgerUnavailable
	}

	expiry, ok := m.entries[id]
	if !ok {
		return false, nil
	}
	if m.now().After(expiry) {
		delete(m.entries, id)
		return false, nil
	}
	return true, nil
}

func (m *MemoryLedger) Remember(_ context.Context, id string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail {
		return false, ErrLedgerUnavailable
	}

	if expiry, ok := m.entries[id]; ok && m.now().Before(expiry) {
		return false, nil
	}
	m.entries[id] = m.now().Add(ttl)
	return true, nil
}

func (m *MemoryLedger) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail {
		return ErrLedgerUnavailable
	}
	return nil
}
