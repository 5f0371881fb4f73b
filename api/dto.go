/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. The ledger state
  itself crosses the wire as ledger.State; the types here cover the
  envelope responses and the lock/mutation request bodies.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers returned to clients

VALIDATION:
  Validation is done in handlers (and the ledger package), not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: The wire format of the state itself
*/
package api

// SaveResponse answers a snapshot POST.
type SaveResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// LockRequest asks for the advisory write lease.
type LockRequest struct {
	OwnerID   string `json:"ownerId"`
	RequestID string `json:"requestId,omitempty"`
}

// LockResponse reports a lease attempt.
type LockResponse struct {
	Granted bool   `json:"granted"`
	LeaseID string `json:"leaseId,omitempty"`
	Message string `json:"message,omitempty"`
}

// UnlockRequest releases a previously granted lease.
type UnlockRequest struct {
	OwnerID string `json:"ownerId"`
	LeaseID string `json:"leaseId"`
}

// UnlockResponse reports a release attempt.
type UnlockResponse struct {
	Released bool   `json:"released"`
	Message  string `json:"message,omitempty"`
}

// RegisterRequest logs a gas collection event server-side.
type RegisterRequest struct {
	Quantity float64 `json:"quantity"`
	Operator string  `json:"operator"`
}

// SwapRequest closes the current round server-side.
type SwapRequest struct {
	Operator string `json:"operator"`
}

// HealthResponse answers the liveness probe.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
