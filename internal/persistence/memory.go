package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"FillLedger/internal/execution"
	"FillLedger/internal/integrity"
	"FillLedger/internal/position"
)

// MemoryExecutionStore is an in-memory execution store for tests and
// development. Assigns ingestion sequence numbers the way the Postgres
// store's BIGSERIAL does.
type MemoryExecutionStore struct {
	mu   sync.RWMutex
	byID map[string]*execution.Execution
	next int64
}

func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{byID: make(map[string]*execution.Execution), next: 1}
}

func (s *MemoryExecutionStore) InsertBatch(_ context.Context, execs []*execution.Execution) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted int64
	for _, e := range execs {
		if _, ok := s.byID[e.ID]; ok {
			continue
		}
		cp := *e
		cp.Sequence = s.next
		s.next++
		s.byID[cp.ID] = &cp
		inserted++
	}
	return inserted, nil
}

func (s *MemoryExecutionStore) ListByKey(_ context.Context, key execution.PositionKey) ([]*execution.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var execs []*execution.Execution
	for _, e := range s.byID {
		if e.Key() == key {
			cp := *e
			execs = append(execs, &cp)
		}
	}
	sort.Slice(execs, func(i, j int) bool {
		return execution.ByTime(execs[i], execs[j]) < 0
	})
	return execs, nil
}

func (s *MemoryExecutionStore) GetByIDs(_ context.Context, ids []string) (map[string]*execution.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*execution.Execution, len(ids))
	for _, id := range ids {
		if e, ok := s.byID[id]; ok {
			cp := *e
			result[id] = &cp
		}
	}
	return result, nil
}

// MemoryPositionStore is an in-memory position store for tests.
type MemoryPositionStore struct {
	mu    sync.RWMutex
	byKey map[execution.PositionKey][]*position.Position

	// Replaces counts ReplaceForKey calls per key; tests use it to assert
	// rebuild scoping.
	Replaces map[execution.PositionKey]int
}

func NewMemoryPositionStore() *MemoryPositionStore {
	return &MemoryPositionStore{
		byKey:    make(map[execution.PositionKey][]*position.Position),
		Replaces: make(map[execution.PositionKey]int),
	}
}

func (s *MemoryPositionStore) ReplaceForKey(_ context.Context, key execution.PositionKey, positions []*position.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]*position.Position, len(positions))
	for i, p := range positions {
		v := *p
		cp[i] = &v
	}
	s.byKey[key] = cp
	s.Replaces[key]++
	return nil
}

func (s *MemoryPositionStore) ListByKey(_ context.Context, key execution.PositionKey) ([]*position.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.byKey[key]
	cp := make([]*position.Position, len(stored))
	for i, p := range stored {
		v := *p
		cp[i] = &v
	}
	return cp, nil
}

func (s *MemoryPositionStore) ClaimedElsewhere(_ context.Context, key execution.PositionKey, executionIDs []string) ([]execution.PositionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(executionIDs))
	for _, id := range executionIDs {
		wanted[id] = true
	}

	seen := make(map[execution.PositionKey]bool)
	var claims []execution.PositionKey
	for k, positions := range s.byKey {
		if k == key {
			continue
		}
		for _, p := range positions {
			for _, ref := range p.Refs {
				if wanted[ref.ExecutionID] && !seen[k] {
					seen[k] = true
					claims = append(claims, k)
				}
			}
		}
	}

	sort.Slice(claims, func(i, j int) bool { return claims[i].String() < claims[j].String() })
	return claims, nil
}

// MemoryIssueStore is an in-memory issue store for tests.
type MemoryIssueStore struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*integrity.Issue
}

func NewMemoryIssueStore() *MemoryIssueStore {
	return &MemoryIssueStore{byID: make(map[uuid.UUID]*integrity.Issue)}
}

func (s *MemoryIssueStore) Insert(_ context.Context, issue *integrity.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Same open-issue dedup rule as the unique partial index in Postgres.
	for _, existing := range s.byID {
		if existing.Resolution == integrity.ResolutionOpen &&
			existing.Kind == issue.Kind &&
			keyEqual(existing.Key, issue.Key) &&
			strPtrEqual(existing.ExecutionID, issue.ExecutionID) {
			return nil
		}
	}

	cp := *issue
	s.byID[issue.ID] = &cp
	return nil
}

func (s *MemoryIssueStore) CountOpen(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, issue := range s.byID {
		if issue.Resolution == integrity.ResolutionOpen {
			count++
		}
	}
	return count, nil
}

func (s *MemoryIssueStore) Get(_ context.Context, id uuid.UUID) (*integrity.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	issue, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("issue %s not found", id)
	}
	cp := *issue
	return &cp, nil
}

func (s *MemoryIssueStore) ListOpenByKey(_ context.Context, key execution.PositionKey) ([]*integrity.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var issues []*integrity.Issue
	for _, issue := range s.byID {
		if issue.Resolution == integrity.ResolutionOpen && issue.Key != nil && *issue.Key == key {
			cp := *issue
			issues = append(issues, &cp)
		}
	}
	sort.Slice(issues, func(i, j int) bool {
		return issues[i].DetectedAt.Before(issues[j].DetectedAt)
	})
	return issues, nil
}

func (s *MemoryIssueStore) UpdateResolution(_ context.Context, id uuid.UUID, resolution integrity.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("issue %s not found", id)
	}
	if issue.Resolution != integrity.ResolutionOpen {
		return fmt.Errorf("issue %s not open", id)
	}
	issue.Resolution = resolution
	return nil
}

func keyEqual(a, b *execution.PositionKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
