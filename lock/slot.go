/*
slot.go - Lease persistence

PURPOSE:
  The lock manager is storage-agnostic: a Slot is a single mutable record
  that may be absent. MemorySlot backs single-process deployments; FileSlot
  is the lock file shared by multiple server processes writing the same
  state file.

CORRUPTION:
  An unparseable lease is self-healing: reported as absent so the next
  acquirer overwrites it. Logged, never fatal.
*/
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Slot persists at most one lease.
type Slot interface {
	// Load returns the stored lease, or nil when absent (or corrupt).
	Load(ctx context.Context) (*Lease, error)
	Save(ctx context.Context, l Lease) error
	Clear(ctx context.Context) error
}

// =============================================================================
// MEMORY SLOT
// =============================================================================

// MemorySlot holds the lease in process memory.
type MemorySlot struct {
	mu    sync.Mutex
	lease *Lease
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

func (s *MemorySlot) Load(_ context.Context) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lease == nil {
		return nil, nil
	}
	l := *s.lease
	return &l, nil
}

func (s *MemorySlot) Save(_ context.Context, l Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lease = &l
	return nil
}

func (s *MemorySlot) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lease = nil
	return nil
}

// =============================================================================
// FILE SLOT
// =============================================================================

// FileSlot persists the lease as a JSON lock file next to the shared state.
type FileSlot struct {
	path string
}

func NewFileSlot(path string) *FileSlot {
	return &FileSlot{path: path}
}

func (s *FileSlot) Load(_ context.Context) (*Lease, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lock file %s: %w", s.path, err)
	}

	var l Lease
	if err := json.Unmarshal(data, &l); err != nil {
		log.Printf("lock: corrupt lock file %s, treating as absent: %v", s.path, err)
		return nil, nil
	}
	return &l, nil
}

func (s *FileSlot) Save(_ context.Context, l Lease) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", s.path, err)
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lease: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write lock file %s: %w", s.path, err)
	}
	return nil
}

func (s *FileSlot) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file %s: %w", s.path, err)
	}
	return nil
}
