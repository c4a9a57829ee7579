package utils

import (
	"sync"
)

// OptionalRWMutex is a sync.RWMutex whose locking can be switched off for consumers
// that guarantee external synchronization.
type OptionalRWMutex struct {
	Mutex    sync.RWMutex
	UseMutex bool
}

func (m *OptionalRWMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

func (m *OptionalRWMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}

func (m *OptionalRWMutex) RLock() {
	if m.UseMutex {
		m.Mutex.RLock()
	}
}

func (m *OptionalRWMutex) RUnlock() {
	if m.UseMutex {
		m.Mutex.RUnlock()
	}
}
