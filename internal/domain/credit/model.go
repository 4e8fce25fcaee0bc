// Package credit defines the student credit account and its transaction
// history, the balances settlement feeds once sessions confirm.
package credit

import "time"

// TransactionType classifies a credit movement.
type TransactionType string

const (
	TxEarned     TransactionType = "earned"
	TxDisbursed  TransactionType = "disbursed"
	TxAdjustment TransactionType = "adjustment"
	TxReversal   TransactionType = "reversal"
)

// TransactionStatus tracks processing of a credit movement.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusCancelled TransactionStatus = "cancelled"
)

// Account holds a student's credit balances. Balances are updated under a
// per-account serialization guarantee; Version backs the store-level
// optimistic check.
type Account struct {
	ID             string  `json:"id"`
	StudentID      string  `json:"student_id"`
	TotalEarned    float64 `json:"total_earned"`
	TotalDisbursed float64 `json:"total_disbursed"`
	Pending        float64 `json:"pending"`
	Available      float64 `json:"available"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is one credit movement on an account.
type Transaction struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"account_id"`
	StudentID   string            `json:"student_id"`
	SessionID   string            `json:"session_id,omitempty"`
	Type        TransactionType   `json:"type"`
	Status      TransactionStatus `json:"status"`
	Amount      float64           `json:"amount"`
	Description string            `json:"description,omitempty"`
	ProcessedBy string            `json:"processed_by,omitempty"` // admin id for manual movements
	CreatedAt   time.Time         `json:"created_at"`
	ProcessedAt time.Time         `json:"processed_at,omitempty"`
}
