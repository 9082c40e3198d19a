package session

import (
	"context"
	"sync"

	pc "github.com/slush-dev/pushconsent"
)

// MemoryBackend keeps the session in process memory only.
type MemoryBackend struct {
	mu    sync.Mutex
	state *pc.SessionState
	saves int
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load(context.Context) (pc.SessionState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return pc.SessionState{}, ErrNotFound
	}
	return *b.state, nil
}

func (b *MemoryBackend) Save(_ context.Context, state pc.SessionState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = &state
	b.saves++
	return nil
}

func (b *MemoryBackend) Delete(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = nil
	return nil
}

// Saves returns how many snapshots were written.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}
