// Package chain talks to the credit ledger, an append-only blockchain that
// stores hashed session records. Only privacy-hashed payloads ever cross this
// boundary.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when the ledger has no record for the given id.
var ErrNotFound = errors.New("chain: record not found")

// Error wraps a failure reported by the ledger node. Transient errors are
// retryable; permanent ones (rejected payloads) are not.
type Error struct {
	Op        string
	Code      int
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("chain: %s failed: %s (code %d)", e.Op, e.Message, e.Code)
}

// IsTransient reports whether err is a ledger error worth retrying.
func IsTransient(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Transient
}

// Record is the hashed session payload committed to the ledger.
type Record struct {
	SessionHash     string    `json:"session_hash"`
	StudentIDHash   string    `json:"student_id_hash"`
	SeniorIDHash    string    `json:"senior_id_hash"`
	LocationHash    string    `json:"location_hash"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	TaskType        string    `json:"task_type"`
	CreditAmount    float64   `json:"credit_amount"`
}

// Receipt identifies a submitted transaction.
type Receipt struct {
	TxID        string `json:"tx_id"`
	BlockNumber int64  `json:"block_number"`
}

// TxStatus is the ledger's view of a submitted transaction.
type TxStatus struct {
	TxID          string `json:"tx_id"`
	BlockNumber   int64  `json:"block_number"`
	Confirmations int    `json:"confirmations"`
	Confirmed     bool   `json:"confirmed"`
}

// Ledger is the interface settlement and verification depend on. The JSON-RPC
// Client implements it against a real node; MemoryLedger backs tests.
type Ledger interface {
	// Submit commits a hashed record and returns the transaction receipt.
	Submit(ctx context.Context, rec Record) (Receipt, error)

	// Status returns the confirmation state of a transaction.
	Status(ctx context.Context, txID string) (TxStatus, error)

	// Payload fetches the record stored under a transaction id.
	Payload(ctx context.Context, txID string) (Record, error)

	// FindBySessionHash locates the transaction holding the given session
	// hash, for duplicate detection.
	FindBySessionHash(ctx context.Context, sessionHash string) (Receipt, error)

	// Health reports whether the node is reachable and synced.
	Health(ctx context.Context) error
}
