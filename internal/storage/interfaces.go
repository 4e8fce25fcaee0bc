// Package storage declares the persistence interfaces for the session
// verification pipeline. Implementations live in storage/memory (tests,
// local development) and storage/postgres.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/RossBrod/CareCred/internal/domain/credit"
	"github.com/RossBrod/CareCred/internal/domain/ledger"
	"github.com/RossBrod/CareCred/internal/domain/session"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("storage: record not found")

// ErrVersionConflict is returned when an optimistic update lost the race:
// the stored version no longer matches the one being written.
var ErrVersionConflict = errors.New("storage: version conflict")

// ErrDuplicate is returned when a uniqueness constraint would be violated,
// such as a second ledger transaction for the same session.
var ErrDuplicate = errors.New("storage: duplicate record")

// SessionStore persists sessions. Update applies an optimistic version
// check: it succeeds only when the stored Version equals the incoming one,
// and increments it.
type SessionStore interface {
	CreateSession(ctx context.Context, s session.Session) (session.Session, error)
	UpdateSession(ctx context.Context, s session.Session) (session.Session, error)
	GetSession(ctx context.Context, id string) (session.Session, error)
	ListSessionsByStatus(ctx context.Context, statuses ...session.Status) ([]session.Session, error)
	ListSessionsByParticipant(ctx context.Context, participantID string, limit int) ([]session.Session, error)
}

// SignatureStore persists dual-signature requests.
type SignatureStore interface {
	CreateSignatureRequest(ctx context.Context, r ledger.SignatureRequest) (ledger.SignatureRequest, error)
	UpdateSignatureRequest(ctx context.Context, r ledger.SignatureRequest) (ledger.SignatureRequest, error)
	GetSignatureRequest(ctx context.Context, id string) (ledger.SignatureRequest, error)
	GetSignatureRequestBySession(ctx context.Context, sessionID string) (ledger.SignatureRequest, error)
	ListExpirablePending(ctx context.Context, deadline time.Time) ([]ledger.SignatureRequest, error)
	ListUncommittedCollected(ctx context.Context) ([]ledger.SignatureRequest, error)
}

// LedgerStore persists blockchain transaction records. CreateTransaction
// enforces at most one transaction per session id, returning ErrDuplicate
// otherwise.
type LedgerStore interface {
	CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)
	UpdateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)
	GetTransaction(ctx context.Context, id string) (ledger.Transaction, error)
	GetTransactionBySession(ctx context.Context, sessionID string) (ledger.Transaction, error)
	ListPendingTransactions(ctx context.Context) ([]ledger.Transaction, error)
}

// CreditStore persists credit accounts and their transactions.
type CreditStore interface {
	CreateCreditAccount(ctx context.Context, acct credit.Account) (credit.Account, error)
	UpdateCreditAccount(ctx context.Context, acct credit.Account) (credit.Account, error)
	GetCreditAccountByStudent(ctx context.Context, studentID string) (credit.Account, error)
	CreateCreditTransaction(ctx context.Context, tx credit.Transaction) (credit.Transaction, error)
	ListCreditTransactions(ctx context.Context, accountID string, limit int) ([]credit.Transaction, error)
	ListCreditTransactionsBySession(ctx context.Context, sessionID string) ([]credit.Transaction, error)
}

// AlertStore persists monitoring alerts.
type AlertStore interface {
	CreateAlert(ctx context.Context, a session.Alert) (session.Alert, error)
	UpdateAlert(ctx context.Context, a session.Alert) (session.Alert, error)
	ListAlertsBySession(ctx context.Context, sessionID string) ([]session.Alert, error)
	ListOpenAlerts(ctx context.Context) ([]session.Alert, error)
}

// Store aggregates every persistence interface the application wires.
type Store interface {
	SessionStore
	SignatureStore
	LedgerStore
	CreditStore
	AlertStore
}
