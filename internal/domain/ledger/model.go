// Package ledger defines the records that cross the boundary between
// CareCred and the distributed ledger: dual-signature requests, the
// privacy-hashed session log, the ledger-side transaction wrapper and the
// verification result.
package ledger

import "time"

// SignatureStatus is the lifecycle of a dual-signature request.
type SignatureStatus string

const (
	SignaturePending   SignatureStatus = "pending"
	SignatureCollected SignatureStatus = "collected"
	SignatureExpired   SignatureStatus = "expired"
)

// SignatureRequest tracks collection of the two independent signatures over
// a shared session-data hash. It is created once per session at completion
// time and is terminal once collected or expired.
type SignatureRequest struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	StudentID string `json:"student_id"`
	SeniorID  string `json:"senior_id"`
	DataHash  string `json:"data_hash"`

	StudentSignature string    `json:"student_signature,omitempty"`
	SeniorSignature  string    `json:"senior_signature,omitempty"`
	StudentSignedAt  time.Time `json:"student_signed_at,omitempty"`
	SeniorSignedAt   time.Time `json:"senior_signed_at,omitempty"`

	Status           SignatureStatus `json:"status"`
	ExpiresAt        time.Time       `json:"expires_at"`
	CompletedAt      time.Time       `json:"completed_at,omitempty"`
	NotificationSent bool            `json:"notification_sent"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasBoth reports whether both signature slots are filled.
func (r SignatureRequest) HasBoth() bool {
	return r.StudentSignature != "" && r.SeniorSignature != ""
}

// SessionLog is the privacy-preserving payload committed to the ledger.
// It is derived deterministically from a completed session plus its
// signature request and is immutable once constructed.
type SessionLog struct {
	SessionID        string    `json:"session_id"`
	StudentIDHash    string    `json:"student_id_hash"`
	SeniorIDHash     string    `json:"senior_id_hash"`
	LocationHash     string    `json:"location_hash"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	DurationMinutes  int       `json:"duration_minutes"`
	TaskType         string    `json:"task_type"`
	StudentSignature string    `json:"student_signature"`
	SeniorSignature  string    `json:"senior_signature"`
	SessionHash      string    `json:"session_hash"`
	CreditAmount     float64   `json:"credit_amount"`
}

// TransactionStatus is the ledger-side state of a committed session log.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxConfirmed TransactionStatus = "confirmed"
	TxFailed    TransactionStatus = "failed"
	TxRejected  TransactionStatus = "rejected"
)

// Transaction wraps a SessionLog as recorded on the ledger, with
// confirmation tracking driven by settlement polling.
type Transaction struct {
	ID            string            `json:"id"`
	SessionID     string            `json:"session_id"`
	SessionHash   string            `json:"session_hash"`
	TxID          string            `json:"tx_id,omitempty"`
	BlockNumber   int64             `json:"block_number,omitempty"`
	Confirmations int               `json:"confirmations"`
	Status        TransactionStatus `json:"status"`
	RetryCount    int               `json:"retry_count"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	Log           SessionLog        `json:"log"`

	Version     int       `json:"version"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VerificationResult is a point-in-time integrity assertion for a session.
// It is produced fresh on every verification call; the ledger remains the
// source of truth.
type VerificationResult struct {
	SessionID      string    `json:"session_id"`
	TransactionID  string    `json:"transaction_id,omitempty"`
	IntegrityCheck bool      `json:"integrity_check"`
	SignaturesOK   bool      `json:"signatures_valid"`
	CreditEligible bool      `json:"credit_eligible"`
	Confirmations  int       `json:"confirmations"`
	Details        []string  `json:"verification_details,omitempty"`
	VerifiedAt     time.Time `json:"verified_at"`
}

// OK reports whether every check passed.
func (r VerificationResult) OK() bool {
	return r.IntegrityCheck && r.SignaturesOK && r.CreditEligible
}
