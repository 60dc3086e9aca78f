// Package checkpoint stores the progress of a document store pass so an
// interrupted commit can resume where it stopped.
package checkpoint

import (
	"context"
	"sync"

	"github.com/JonMunkholm/wis2box-migrate/internal/core"
)

// Memory is a process-local core.Checkpointer. It is what the CLI uses when
// no checkpoint database is configured, and what tests use everywhere.
type Memory struct {
	mu    sync.Mutex
	saved map[string]core.Checkpoint
}

var _ core.Checkpointer = (*Memory)(nil)

// NewMemory returns an empty checkpoint store.
func NewMemory() *Memory {
	return &Memory{saved: make(map[string]core.Checkpoint)}
}

// Load implements core.Checkpointer.
func (m *Memory) Load(_ context.Context, key string) (core.Checkpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.saved[key]
	return cp, ok, nil
}

// Save implements core.Checkpointer.
func (m *Memory) Save(_ context.Context, key string, cp core.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[key] = cp
	return nil
}

// Clear implements core.Checkpointer.
func (m *Memory) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, key)
	return nil
}
