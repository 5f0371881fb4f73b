/*
local.go - Client-local durable storage

PURPOSE:
  Everything a collection client must remember across restarts and offline
  periods lives in one bbolt file: the last-known ledger snapshot, the
  last-sync timestamp, a stable client identifier, and the durable retry
  queue (queue.go shares this database).

LAYOUT:
  bucket "local":
    key "state"    -> JSON ledger.State snapshot
    key "lastSync" -> RFC3339 timestamp
    key "clientID" -> stable identifier, minted once
  bucket "queue":
    sequence key   -> JSON Operation (see queue.go)
*/
package client

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/frioserv/gas-ledger/ledger"
)

var (
	bucketLocal = []byte("local")
	bucketQueue = []byte("queue")

	keySnapshot = []byte("state")
	keyLastSync = []byte("lastSync")
	keyClientID = []byte("clientID")
)

// LocalState is the client's durable storage.
type LocalState struct {
	db       *bolt.DB
	clientID string
}

// OpenLocal opens (or creates) the client database at path and ensures a
// stable client identifier exists.
func OpenLocal(path string) (*LocalState, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir for %s: %w", path, err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open client db: %w", err)
	}

	var clientID string
	err = db.Update(func(tx *bolt.Tx) error {
		local, err := tx.CreateBucketIfNotExists(bucketLocal)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketQueue); err != nil {
			return err
		}

		if v := local.Get(keyClientID); v != nil {
			clientID = string(v)
			return nil
		}
		clientID = fmt.Sprintf("client_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
		return local.Put(keyClientID, []byte(clientID))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init client db: %w", err)
	}

	return &LocalState{db: db, clientID: clientID}, nil
}

// ClientID returns the stable per-client identifier.
func (l *LocalState) ClientID() string { return l.clientID }

// SaveSnapshot persists the last-known ledger state and stamps lastSync.
func (l *LocalState) SaveSnapshot(s ledger.State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		local := tx.Bucket(bucketLocal)
		if err := local.Put(keySnapshot, data); err != nil {
			return err
		}
		return local.Put(keyLastSync, []byte(time.Now().Format(time.RFC3339Nano)))
	})
}

// Snapshot returns the persisted snapshot and whether one exists.
// A corrupt snapshot is treated as absent.
func (l *LocalState) Snapshot() (ledger.State, bool, error) {
	var raw []byte
	err := l.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketLocal).Get(keySnapshot); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return ledger.State{}, false, err
	}
	if raw == nil {
		return ledger.State{}, false, nil
	}

	var s ledger.State
	if err := json.Unmarshal(raw, &s); err != nil {
		log.Printf("client: corrupt local snapshot, ignoring: %v", err)
		return ledger.State{}, false, nil
	}
	return s, true, nil
}

// LastSync returns when a snapshot was last persisted.
func (l *LocalState) LastSync() (time.Time, bool) {
	var raw []byte
	_ = l.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketLocal).Get(keyLastSync); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if raw == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Close releases the database.
func (l *LocalState) Close() error { return l.db.Close() }
