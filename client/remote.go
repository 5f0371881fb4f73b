/*
remote.go - HTTP client for the authoritative ledger store

PURPOSE:
  Wraps the server's REST boundary: snapshot fetch, snapshot push, and a
  lightweight liveness probe. Every call carries an explicit timeout and
  the cache-defeating headers the polling sync depends on.

HEADERS:
  X-Client-ID  stable per-client identifier (lease owner)
  X-Request-ID fresh nonce per push attempt (lease request disambiguation)
*/
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/frioserv/gas-ledger/ledger"
)

const (
	fetchTimeout = 10 * time.Second
	pushTimeout  = 10 * time.Second
	probeTimeout = 5 * time.Second
)

var (
	// ErrLocked is returned when the server's lease is held by another
	// client. Recoverable: retry later.
	ErrLocked = errors.New("ledger is locked by another client")

	// ErrRejected is returned when the server refused the candidate state
	// as invalid. Not recoverable by retrying the same payload.
	ErrRejected = errors.New("candidate state rejected by server")
)

// Remote talks to one ledger server.
type Remote struct {
	baseURL  string
	clientID string
	httpc    *http.Client
}

// NewRemote creates a client for the server at baseURL, identifying itself
// as clientID on every write.
func NewRemote(baseURL, clientID string) *Remote {
	return &Remote{
		baseURL:  baseURL,
		clientID: clientID,
		httpc:    &http.Client{},
	}
}

// Fetch returns the authoritative ledger state.
func (r *Remote) Fetch(ctx context.Context) (ledger.State, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	// The t parameter defeats intermediary caches that ignore headers.
	url := fmt.Sprintf("%s/api/ledger?t=%s", r.baseURL,
		strconv.FormatInt(time.Now().UnixNano(), 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ledger.State{}, err
	}
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := r.httpc.Do(req)
	if err != nil {
		return ledger.State{}, fmt.Errorf("fetch ledger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ledger.State{}, fmt.Errorf("fetch ledger: unexpected status %d", resp.StatusCode)
	}

	var s ledger.State
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return ledger.State{}, fmt.Errorf("decode ledger state: %w", err)
	}
	return s, nil
}

// Push submits a candidate state. A conflict-policy rejection on the
// server side is reported as success by the server and therefore here too.
func (r *Remote) Push(ctx context.Context, s ledger.State) error {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal ledger state: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/api/ledger", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", r.clientID)
	req.Header.Set("X-Request-ID", "req_"+uuid.NewString())

	resp, err := r.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("push ledger: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusLocked:
		return ErrLocked
	case http.StatusBadRequest:
		return ErrRejected
	default:
		return fmt.Errorf("push ledger: unexpected status %d", resp.StatusCode)
	}
}

// Probe checks server availability and measures round-trip latency.
func (r *Remote) Probe(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead,
		r.baseURL+"/api/health", nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("health probe: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("health probe: unexpected status %d", resp.StatusCode)
	}
	return time.Since(start), nil
}
