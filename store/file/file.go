/*
Package file persists the ledger state as a flat, pretty-printed JSON file.

PURPOSE:
  The simplest durable backend: one file, rewritten whole on every save.
  Suited to a handful of clients contending for one logical record; writers
  must additionally hold the advisory lease (see the lock package) because
  the file is shared across processes.

CORRUPTION:
  An unparseable or empty file is reported as absent, so the Store
  overwrites it with a fresh default instead of failing forever.

ATOMICITY:
  Saves go through a temp file + rename so a crashed writer never leaves a
  half-written state file behind.
*/
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/frioserv/gas-ledger/ledger"
	"github.com/frioserv/gas-ledger/store"
)

// Backend stores the ledger state in a single JSON file.
type Backend struct {
	path string
}

// New creates a file backend rooted at path. The parent directory is
// created on first save.
func New(path string) *Backend {
	return &Backend{path: path}
}

func (b *Backend) Load(_ context.Context) (*ledger.State, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotExist
		}
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}

	if strings.TrimSpace(string(data)) == "" {
		return nil, store.ErrNotExist
	}

	var s ledger.State
	if err := json.Unmarshal(data, &s); err != nil {
		log.Printf("file: corrupt state file %s, treating as absent: %v", b.path, err)
		return nil, store.ErrNotExist
	}
	return &s, nil
}

func (b *Backend) Save(_ context.Context, s *ledger.State) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", b.path, err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func (b *Backend) Close() error { return nil }
