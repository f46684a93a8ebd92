package utils

import (
	"sync"
)

// OptionalMutex is a mutex that can be switched off for consumers that synchronize externally.
// When UseMutex is false every operation succeeds immediately.
type OptionalMutex struct {
	Mutex    sync.Mutex
	UseMutex bool
}

func (m *OptionalMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

// TryLock attempts to take the lock without blocking, and returns false if it is already held
func (m *OptionalMutex) TryLock() bool {
	if m.UseMutex {
		return m.Mutex.TryLock()
	}

	return true
}

func (m *OptionalMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}
