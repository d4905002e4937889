package memory

import (
	"context"
	"sync"
	"time"

	"coursehub/internal/core/ports"
)

// MemoryStore keeps the roster in process. Transactions are serialized behind
// one mutex. A transaction reads the live state directly; its first write
// copies the state, and the copy replaces the live state only when the
// transaction function succeeds. Read-only transactions copy nothing.
type MemoryStore struct {
	mu    sync.Mutex
	state *rosterState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: newRosterState(),
		now:   time.Now,
	}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{state: s.state, now: s.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	// A transaction whose deadline passed while running is not committed.
	if err := ctx.Err(); err != nil {
		return err
	}

	if tx.dirty {
		s.state = tx.state
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ ports.Transactor = (*MemoryStore)(nil)
