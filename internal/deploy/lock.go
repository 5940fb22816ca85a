package deploy

import "sync"

// LockManager enforces at-most-one-concurrent-deploy-per-target.
//
// This uses a two-level locking strategy:
//  1. The outer mutex (mu) protects the locks map itself from
//     concurrent access
//  2. Each target has its own mutex for actual deployment locking
//
// Different targets deploy concurrently, each holding its own
// session; the per-target lock is the only shared mutable resource in
// the pipeline.
type LockManager struct {
	mu    sync.Mutex             // Protects the locks map
	locks map[string]*sync.Mutex // Per-target locks
}

// NewLockManager creates a new lock manager
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// TryLock attempts to acquire the deployment lock for the given
// target.
//
// Returns true if the lock was acquired (deployment can proceed) and
// false if the target is already locked (another attempt is in
// flight). Non-blocking: a caller seeing false should reject the
// request with ErrAlreadyInProgress rather than wait.
func (lm *LockManager) TryLock(targetName string) bool {
	lm.mu.Lock()
	lock, exists := lm.locks[targetName]
	if !exists {
		// Create a new lock for this target on first use
		lock = &sync.Mutex{}
		lm.locks[targetName] = lock
	}
	lm.mu.Unlock()

	return lock.TryLock()
}

// Unlock releases the deployment lock for the given target.
//
// Called on entry to a terminal state, success or failure alike.
// Typically used with defer. Safe to call for a target that was never
// locked (no-op).
func (lm *LockManager) Unlock(targetName string) {
	lm.mu.Lock()
	lock := lm.locks[targetName]
	lm.mu.Unlock()

	if lock != nil {
		lock.Unlock()
	}
}
