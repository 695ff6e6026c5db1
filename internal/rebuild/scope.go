// Package rebuild determines which position keys a batch of new executions
// touches and re-derives exactly those keys' positions: parallel across
// keys, serialized within a key, atomic per key.
package rebuild

import (
	"sort"

	"FillLedger/internal/execution"
)

// Scope is the distinct set of position keys stale after a batch. Rebuild
// work is always bounded to a scope: never global, never a key absent from
// the triggering batch.
type Scope struct {
	keys map[execution.PositionKey]struct{}
}

func NewScope() *Scope {
	return &Scope{keys: make(map[execution.PositionKey]struct{})}
}

// ResolveScope computes the scope for a batch of newly accepted executions.
func ResolveScope(batch []*execution.Execution) *Scope {
	s := NewScope()
	for _, e := range batch {
		s.Add(e.Key())
	}
	return s
}

func (s *Scope) Add(key execution.PositionKey) {
	s.keys[key] = struct{}{}
}

func (s *Scope) Contains(key execution.PositionKey) bool {
	_, ok := s.keys[key]
	return ok
}

func (s *Scope) Len() int {
	return len(s.keys)
}

// Keys returns the scope in deterministic order.
func (s *Scope) Keys() []execution.PositionKey {
	keys := make([]execution.PositionKey, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Account != keys[j].Account {
			return keys[i].Account < keys[j].Account
		}
		return keys[i].Instrument < keys[j].Instrument
	})
	return keys
}
