// Package memory provides the in-process Backend used for testing and
// single-process deployments. State is lost on restart.
package memory

import (
	"context"
	"sync"

	"github.com/frioserv/gas-ledger/ledger"
	"github.com/frioserv/gas-ledger/store"
)

// Backend keeps the ledger state in process memory.
type Backend struct {
	mu    sync.RWMutex
	state *ledger.State
}

func New() *Backend {
	return &Backend{}
}

func (b *Backend) Load(_ context.Context) (*ledger.State, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.state == nil {
		return nil, store.ErrNotExist
	}
	s := b.state.Clone()
	return &s, nil
}

func (b *Backend) Save(_ context.Context, s *ledger.State) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := s.Clone()
	b.state = &c
	return nil
}

func (b *Backend) Close() error { return nil }
