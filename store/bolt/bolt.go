/*
Package bolt persists the ledger state in an embedded bbolt database.

PURPOSE:
  Durable single-file KV backend. bbolt serializes writers itself, so this
  backend is safe for concurrent goroutines; cross-process mutual exclusion
  still goes through the advisory lease like every other backend.

LAYOUT:
  bucket "ledger", key "state" -> JSON-encoded ledger.State
*/
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/frioserv/gas-ledger/ledger"
	"github.com/frioserv/gas-ledger/store"
)

var (
	bucketLedger = []byte("ledger")
	keyState     = []byte("state")
)

// Backend stores the ledger state in a bbolt database file.
type Backend struct {
	db *bolt.DB
}

// New opens (or creates) the database at path.
func New(path string) (*Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir for %s: %w", path, err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLedger)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Load(_ context.Context) (*ledger.State, error) {
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLedger).Get(keyState)
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if raw == nil {
		return nil, store.ErrNotExist
	}

	var s ledger.State
	if err := json.Unmarshal(raw, &s); err != nil {
		log.Printf("bolt: corrupt state record, treating as absent: %v", err)
		return nil, store.ErrNotExist
	}
	return &s, nil
}

func (b *Backend) Save(_ context.Context, s *ledger.State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLedger).Put(keyState, data)
	})
}

func (b *Backend) Close() error { return b.db.Close() }
