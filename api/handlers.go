/*
handlers.go - HTTP API handlers for the gas collection ledger

PURPOSE:
  Exposes the ledger core via REST. Handles HTTP request/response, JSON
  serialization, and delegates to the store, lock manager, and ledger
  mutations.

ENDPOINTS:
  Ledger (snapshot exchange with browser/agent clients):
    GET    /api/ledger                 Authoritative state (no-store)
    POST   /api/ledger                 Candidate state (lease-guarded)

  Lock (explicit lease management for external writers):
    POST   /api/ledger/lock            Acquire lease
    POST   /api/ledger/unlock          Release lease

  Collection (server-side mutations):
    GET    /api/collection/state       Current state
    POST   /api/collection/register    Log a collection event
    POST   /api/collection/swap        Swap cylinder / close round
    POST   /api/collection/undo        Reverse the last entry
    GET    /api/collection/export.csv  CSV download of the history

  Health:
    GET|HEAD /api/health               Liveness probe

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 423: Advisory lease held by another writer
  - 500: Storage failures

  A conflict-policy rejection of a POSTed snapshot is NOT an error: the
  write was redundant and the response says success.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/frioserv/gas-ledger/ledger"
	"github.com/frioserv/gas-ledger/lock"
	"github.com/frioserv/gas-ledger/store"
)

// serverOwnerPrefix tags the lease owners used by the server's own mutation
// endpoints. Each request gets a distinct owner identity: the lease is
// re-entrant per owner, so a shared owner would let two concurrent handlers
// both pass the gate and race the read-compare-write.
const serverOwnerPrefix = "server"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store *store.Store
	Locks *lock.Manager
	Clock ledger.Clock
}

// NewHandler creates a handler over the given store and lock manager.
func NewHandler(st *store.Store, locks *lock.Manager) *Handler {
	return &Handler{
		Store: st,
		Locks: locks,
		Clock: ledger.SystemClock{},
	}
}

// =============================================================================
// LEDGER SNAPSHOT ENDPOINTS
// =============================================================================

// GetLedger returns the authoritative state.
// GET /api/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	state, err := h.Store.Read(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read ledger", err)
		return
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, http.StatusOK, state)
}

// SaveLedger accepts a candidate state from a client. The write is guarded
// by the advisory lease: acquire, compare-and-write, release on every path.
// POST /api/ledger
func (h *Handler) SaveLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID := r.Header.Get("X-Client-ID")
	if ownerID == "" {
		ownerID = "unknown"
	}
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = "req_" + uuid.NewString()
	}

	granted, err := h.Locks.Acquire(ctx, ownerID, requestID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to acquire lock", err)
		return
	}
	if !granted {
		writeJSON(w, http.StatusLocked, SaveResponse{
			Success: false,
			Message: "Could not acquire lock. Try again.",
		})
		return
	}
	defer func() {
		if _, rerr := h.Locks.Release(ctx, ownerID, requestID); rerr != nil {
			// Expiry guarantees forward progress even if this fails.
			log.Printf("warning: failed to release lease: %v", rerr)
		}
	}()

	var candidate ledger.State
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Store.Write(ctx, candidate)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidState) || errors.Is(err, ledger.ErrInvalidEntry) {
			writeError(w, http.StatusBadRequest, "Invalid ledger state", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to save ledger", err)
		return
	}

	msg := "Data saved successfully"
	if !result.Accepted {
		msg = "No update needed"
	}
	writeJSON(w, http.StatusOK, SaveResponse{Success: true, Message: msg})
}

// =============================================================================
// LOCK ENDPOINTS
// =============================================================================

// AcquireLock grants the advisory lease to an external writer.
// POST /api/ledger/lock
func (h *Handler) AcquireLock(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = "unknown"
	}
	leaseID := req.RequestID
	if leaseID == "" {
		leaseID = "lock_" + uuid.NewString()
	}

	granted, err := h.Locks.Acquire(r.Context(), req.OwnerID, leaseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to acquire lock", err)
		return
	}
	if !granted {
		writeJSON(w, http.StatusLocked, LockResponse{
			Granted: false,
			Message: "Lock is currently held by another client",
		})
		return
	}
	writeJSON(w, http.StatusOK, LockResponse{Granted: true, LeaseID: leaseID})
}

// ReleaseLock releases a previously granted lease.
// POST /api/ledger/unlock
func (h *Handler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	released, err := h.Locks.Release(r.Context(), req.OwnerID, req.LeaseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to release lock", err)
		return
	}
	if !released {
		writeJSON(w, http.StatusForbidden, UnlockResponse{
			Released: false,
			Message:  "Cannot release lock owned by another client",
		})
		return
	}
	writeJSON(w, http.StatusOK, UnlockResponse{Released: true})
}

// =============================================================================
// COLLECTION ENDPOINTS (server-side mutations)
// =============================================================================

// GetCollectionState returns the current state.
// GET /api/collection/state
func (h *Handler) GetCollectionState(w http.ResponseWriter, r *http.Request) {
	h.GetLedger(w, r)
}

// RegisterCollection logs a gas collection event.
// POST /api/collection/register
func (h *Handler) RegisterCollection(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "Quantity must be greater than zero", nil)
		return
	}

	h.mutate(w, r, func(s ledger.State) (ledger.State, error) {
		next, _ := ledger.Register(s, req.Quantity, req.Operator, h.Clock.Now())
		return next, nil
	})
}

// SwapCylinder closes the current round.
// POST /api/collection/swap
func (h *Handler) SwapCylinder(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.mutate(w, r, func(s ledger.State) (ledger.State, error) {
		next, _ := ledger.SwapCylinder(s, req.Operator, h.Clock.Now())
		return next, nil
	})
}

// UndoCollection reverses the last applied entry.
// POST /api/collection/undo
func (h *Handler) UndoCollection(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, ledger.Undo)
}

// ExportCSV streams the history as a CSV download.
// GET /api/collection/export.csv
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	state, err := h.Store.Read(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read ledger", err)
		return
	}

	filename := fmt.Sprintf("recolhimento-r410a-%s.csv", h.Clock.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(ledger.ExportCSV(state.History)))
}

// mutate runs a read-modify-write under the advisory lease.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(ledger.State) (ledger.State, error)) {
	ctx := r.Context()
	nonce := uuid.NewString()
	ownerID := serverOwnerPrefix + "_" + nonce
	requestID := "req_" + nonce

	granted, err := h.Locks.Acquire(ctx, ownerID, requestID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to acquire lock", err)
		return
	}
	if !granted {
		writeError(w, http.StatusLocked, "Ledger is locked by another writer, try again", nil)
		return
	}
	defer h.Locks.Release(ctx, ownerID, requestID)

	current, err := h.Store.Read(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read ledger", err)
		return
	}

	next, err := fn(current)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Cannot apply operation", err)
		return
	}

	// Stamp recency so shrinking mutations (undo) pass the conflict policy.
	next.LastUpdated = h.Clock.Now()

	if _, err := h.Store.Write(ctx, next); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save ledger", err)
		return
	}

	state, err := h.Store.Read(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// =============================================================================
// HEALTH ENDPOINT
// =============================================================================

// Health answers liveness probes. HEAD requests get headers only.
// GET|HEAD /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: h.Clock.Now().Format(time.RFC3339),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
