/*
handlers_test.go - HTTP tests for the ledger API

Tests for:
- Snapshot exchange (GET/POST /api/ledger) and lease contention
- Explicit lock endpoints
- Server-side collection mutations (register/swap/undo)
- CSV export and the health probe
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frioserv/gas-ledger/ledger"
	"github.com/frioserv/gas-ledger/lock"
	"github.com/frioserv/gas-ledger/store"
	"github.com/frioserv/gas-ledger/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *Handler, *lock.Manager) {
	t.Helper()

	st := store.New(memory.New())
	t.Cleanup(func() { st.Close() })
	locks := lock.NewManager(lock.NewMemorySlot())

	h := NewHandler(st, locks)
	srv := httptest.NewServer(NewRouter(h, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv, h, locks
}

func getState(t *testing.T, srv *httptest.Server) ledger.State {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/ledger")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var s ledger.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	return s
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// =============================================================================
// SNAPSHOT EXCHANGE TESTS
// =============================================================================

func TestGetLedger_InitializesDefault(t *testing.T) {
	// GIVEN: A fresh server
	// WHEN: The first GET arrives
	// THEN: A default state comes back, marked uncacheable

	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/ledger")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")

	var s ledger.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal(t, 0.0, s.Accumulated)
	assert.Equal(t, 1, s.Round)
	assert.Empty(t, s.History)
}

func TestSaveLedger_AcceptThenNoOp(t *testing.T) {
	// GIVEN: A client that registered one collection locally
	// WHEN: It POSTs the snapshot, then retries the identical payload
	// THEN: First save succeeds, the retry is a success-flavored no-op

	srv, _, _ := newTestServer(t)
	base := getState(t, srv)

	candidate, _ := ledger.Register(base, 350, "Carlos", time.Now().UTC())
	headers := map[string]string{"X-Client-ID": "client-a", "X-Request-ID": "req-1"}

	resp := postJSON(t, srv.URL+"/api/ledger", candidate, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var saved SaveResponse
	decodeInto(t, resp, &saved)
	assert.True(t, saved.Success)
	assert.Equal(t, "Data saved successfully", saved.Message)

	stored := getState(t, srv)
	assert.Equal(t, 350.0, stored.Accumulated)
	assert.NotZero(t, stored.Version, "accepted writes are version-stamped")

	resp = postJSON(t, srv.URL+"/api/ledger", stored, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &saved)
	assert.True(t, saved.Success)
	assert.Equal(t, "No update needed", saved.Message)
}

func TestSaveLedger_LockedByAnotherClient(t *testing.T) {
	// GIVEN: Client B holds the advisory lease
	// WHEN: Client A POSTs a snapshot
	// THEN: 423 Locked; after B releases, A succeeds

	srv, _, locks := newTestServer(t)
	ctx := context.Background()

	granted, err := locks.Acquire(ctx, "client-b", "req-b")
	require.NoError(t, err)
	require.True(t, granted)

	base := getState(t, srv)
	candidate, _ := ledger.Register(base, 100, "Ana", time.Now().UTC())
	headers := map[string]string{"X-Client-ID": "client-a", "X-Request-ID": "req-a"}

	resp := postJSON(t, srv.URL+"/api/ledger", candidate, headers)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	var saved SaveResponse
	decodeInto(t, resp, &saved)
	assert.False(t, saved.Success)

	released, err := locks.Release(ctx, "client-b", "req-b")
	require.NoError(t, err)
	require.True(t, released)

	resp = postJSON(t, srv.URL+"/api/ledger", candidate, headers)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestSaveLedger_InvalidStateRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)
	base := getState(t, srv)

	candidate, _ := ledger.Register(base, 100, "Carlos", time.Now().UTC())
	candidate.History[0].ID = ""

	resp := postJSON(t, srv.URL+"/api/ledger", candidate, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errResp ErrorResponse
	decodeInto(t, resp, &errResp)
	assert.Equal(t, "Invalid ledger state", errResp.Error)

	stored := getState(t, srv)
	assert.Empty(t, stored.History, "rejected candidates must not persist")
}

func TestSaveLedger_MalformedBody(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/ledger", "application/json",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSaveLedger_ReleasesLeaseAfterWrite(t *testing.T) {
	// The lease must be free once the POST completes, whatever the outcome.

	srv, _, locks := newTestServer(t)
	base := getState(t, srv)
	candidate, _ := ledger.Register(base, 100, "Carlos", time.Now().UTC())

	resp := postJSON(t, srv.URL+"/api/ledger", candidate,
		map[string]string{"X-Client-ID": "client-a", "X-Request-ID": "req-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	holder, err := locks.Holder(context.Background())
	require.NoError(t, err)
	assert.Nil(t, holder)
}

// =============================================================================
// LOCK ENDPOINT TESTS
// =============================================================================

func TestLockEndpoints_AcquireAndRelease(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/ledger/lock", LockRequest{OwnerID: "client-a"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lockResp LockResponse
	decodeInto(t, resp, &lockResp)
	assert.True(t, lockResp.Granted)
	require.NotEmpty(t, lockResp.LeaseID)

	// A second client is shut out.
	resp = postJSON(t, srv.URL+"/api/ledger/lock", LockRequest{OwnerID: "client-b"}, nil)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	var denied LockResponse
	decodeInto(t, resp, &denied)
	assert.False(t, denied.Granted)

	// The wrong owner cannot release.
	resp = postJSON(t, srv.URL+"/api/ledger/unlock",
		UnlockRequest{OwnerID: "client-b", LeaseID: lockResp.LeaseID}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// The holder can.
	resp = postJSON(t, srv.URL+"/api/ledger/unlock",
		UnlockRequest{OwnerID: "client-a", LeaseID: lockResp.LeaseID}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var unlockResp UnlockResponse
	decodeInto(t, resp, &unlockResp)
	assert.True(t, unlockResp.Released)
}

// =============================================================================
// COLLECTION MUTATION TESTS
// =============================================================================

func TestCollection_RegisterSwapUndoFlow(t *testing.T) {
	// GIVEN: A fresh ledger
	// WHEN: register 8000g, swap, then undo
	// THEN: Each response carries the authoritative state; the undo lands
	//       back in round 1 with 8000g

	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/collection/register",
		RegisterRequest{Quantity: 8000, Operator: "Carlos"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var s ledger.State
	decodeInto(t, resp, &s)
	assert.Equal(t, 8000.0, s.Accumulated)
	assert.Equal(t, 1, s.Round)

	resp = postJSON(t, srv.URL+"/api/collection/swap", SwapRequest{Operator: "Carlos"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &s)
	assert.Equal(t, 0.0, s.Accumulated)
	assert.Equal(t, 2, s.Round)
	require.Len(t, s.History, 2)
	assert.True(t, s.History[0].CylinderSwap)

	resp = postJSON(t, srv.URL+"/api/collection/undo", struct{}{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &s)
	assert.Equal(t, 1, s.Round)
	assert.Equal(t, 8000.0, s.Accumulated)
	require.Len(t, s.History, 1)
}

func TestCollection_RegisterRejectsNonPositiveQuantity(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, q := range []float64{0, -50} {
		resp := postJSON(t, srv.URL+"/api/collection/register",
			RegisterRequest{Quantity: q, Operator: "Carlos"}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "quantity %v", q)
		resp.Body.Close()
	}
}

func TestCollection_UndoEmptyHistory(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/collection/undo", struct{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errResp ErrorResponse
	decodeInto(t, resp, &errResp)
	assert.Equal(t, "Cannot apply operation", errResp.Error)
}

func TestCollection_MutationsBlockedByExternalLease(t *testing.T) {
	// GIVEN: An external writer holding the lease
	// WHEN: A server-side mutation arrives
	// THEN: 423 Locked

	srv, _, locks := newTestServer(t)

	granted, err := locks.Acquire(context.Background(), "client-x", "req-x")
	require.NoError(t, err)
	require.True(t, granted)

	resp := postJSON(t, srv.URL+"/api/collection/register",
		RegisterRequest{Quantity: 100, Operator: "Carlos"}, nil)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	resp.Body.Close()
}

// =============================================================================
// EXPORT AND HEALTH TESTS
// =============================================================================

func TestExportCSV_Download(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/collection/register",
		RegisterRequest{Quantity: 350, Operator: "Carlos"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/collection/export.csv")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "recolhimento-r410a-")

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(buf.String(), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Data,Operador,Quantidade (g),Acumulado (g),Rodada,Tipo", lines[0])
	assert.Contains(t, lines[1], `"Recolhimento"`)
}

func TestHealth_GetAndHead(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	var health HealthResponse
	decodeInto(t, resp, &health)
	assert.Equal(t, "ok", health.Status)
	assert.NotEmpty(t, health.Timestamp)

	req, err := http.NewRequest(http.MethodHead, srv.URL+"/api/health", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestCollection_ConcurrentRegisters_NoSilentLoss(t *testing.T) {
	// GIVEN: Several operators registering at once
	// WHEN: The dust settles
	// THEN: Every 200 put exactly one entry in the history; a request that
	//       lost the lease race was told 423, never 200 with its entry gone

	srv, _, _ := newTestServer(t)

	const n = 8
	type outcome struct {
		status int
		err    error
	}
	results := make(chan outcome, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			body, _ := json.Marshal(RegisterRequest{Quantity: 100, Operator: fmt.Sprintf("op-%d", i)})
			resp, err := http.Post(srv.URL+"/api/collection/register", "application/json",
				bytes.NewReader(body))
			if err != nil {
				results <- outcome{err: err}
				return
			}
			resp.Body.Close()
			results <- outcome{status: resp.StatusCode}
		}(i)
	}

	accepted := 0
	for i := 0; i < n; i++ {
		res := <-results
		require.NoError(t, res.err)
		switch res.status {
		case http.StatusOK:
			accepted++
		case http.StatusLocked:
			// The loser of the lease race retries; nothing was written.
		default:
			t.Fatalf("unexpected status %d", res.status)
		}
	}
	assert.Positive(t, accepted)

	s := getState(t, srv)
	assert.Len(t, s.History, accepted, "every accepted register must be in the history")
	assert.Equal(t, float64(accepted)*100, s.Accumulated,
		"accumulator must match the accepted entries")
}
