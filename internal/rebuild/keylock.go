package rebuild

import (
	"errors"
	"sync"

	"FillLedger/internal/execution"
)

// ErrRebuildInFlight is returned when a rebuild is requested for a key that
// is already being rebuilt. It is a retry signal, not a failure.
var ErrRebuildInFlight = errors.New("rebuild already in flight for key")

// KeyLocks serializes rebuilds within a position key while allowing
// unrelated keys to proceed in parallel. Acquisition never blocks: a second
// caller for the same key gets ErrRebuildInFlight and retries.
type KeyLocks struct {
	mu    sync.Mutex
	inUse map[execution.PositionKey]struct{}
}

func NewKeyLocks() *KeyLocks {
	return &KeyLocks{inUse: make(map[execution.PositionKey]struct{})}
}

// Acquire claims the key. The returned release function must be called
// exactly once; releasing is safe from any goroutine.
func (kl *KeyLocks) Acquire(key execution.PositionKey) (func(), error) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	if _, held := kl.inUse[key]; held {
		return nil, ErrRebuildInFlight
	}
	kl.inUse[key] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			kl.mu.Lock()
			delete(kl.inUse, key)
			kl.mu.Unlock()
		})
	}
	return release, nil
}

// Held reports whether a rebuild is currently in flight for the key.
func (kl *KeyLocks) Held(key execution.PositionKey) bool {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	_, held := kl.inUse[key]
	return held
}
