package utils

import (
	"sync"
)

// OptionalRWMutex is a read/write mutex that does nothing unless it was created enabled. It lets a
// single type serve both externally synchronized and internally synchronized callers.
type OptionalRWMutex struct {
	mutex   sync.RWMutex
	enabled bool
}

// NewOptionalRWMutex creates a mutex that only locks when enabled is true
func NewOptionalRWMutex(enabled bool) *OptionalRWMutex {
	return &OptionalRWMutex{enabled: enabled}
}

// Enabled returns true if the mutex actually locks
func (m *OptionalRWMutex) Enabled() bool {
	return m.enabled
}

func (m *OptionalRWMutex) Lock() {
	if m.enabled {
		m.mutex.Lock()
	}
}

func (m *OptionalRWMutex) Unlock() {
	if m.enabled {
		m.mutex.Unlock()
	}
}

func (m *OptionalRWMutex) RLock() {
	if m.enabled {
		m.mutex.RLock()
	}
}

func (m *OptionalRWMutex) RUnlock() {
	if m.enabled {
		m.mutex.RUnlock()
	}
}
