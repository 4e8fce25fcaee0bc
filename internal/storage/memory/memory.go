// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is primarily intended for tests and
// local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RossBrod/CareCred/internal/domain/credit"
	"github.com/RossBrod/CareCred/internal/domain/ledger"
	"github.com/RossBrod/CareCred/internal/domain/session"
	"github.com/RossBrod/CareCred/internal/storage"
)

// Store keeps every record in process memory.
type Store struct {
	mu                  sync.RWMutex
	sessions            map[string]session.Session
	signatures          map[string]ledger.SignatureRequest
	signaturesBySession map[string]string
	transactions        map[string]ledger.Transaction
	txBySession         map[string]string
	creditAccounts      map[string]credit.Account
	accountByStudent    map[string]string
	creditTxs           map[string][]credit.Transaction
	alerts              map[string]session.Alert
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		sessions:            make(map[string]session.Session),
		signatures:          make(map[string]ledger.SignatureRequest),
		signaturesBySession: make(map[string]string),
		transactions:        make(map[string]ledger.Transaction),
		txBySession:         make(map[string]string),
		creditAccounts:      make(map[string]credit.Account),
		accountByStudent:    make(map[string]string),
		creditTxs:           make(map[string][]credit.Transaction),
		alerts:              make(map[string]session.Alert),
	}
}

// SessionStore ---------------------------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess session.Session) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	} else if _, exists := s.sessions[sess.ID]; exists {
		return session.Session{}, storage.ErrDuplicate
	}

	now := time.Now().UTC()
	sess.Version = 1
	sess.CreatedAt = now
	sess.UpdatedAt = now
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) UpdateSession(_ context.Context, sess session.Session) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[sess.ID]
	if !ok {
		return session.Session{}, storage.ErrNotFound
	}
	if current.Version != sess.Version {
		return session.Session{}, storage.ErrVersionConflict
	}

	sess.Version++
	sess.CreatedAt = current.CreatedAt
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) GetSession(_ context.Context, id string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (s *Store) ListSessionsByStatus(_ context.Context, statuses ...session.Status) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[session.Status]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	var out []session.Session
	for _, sess := range s.sessions {
		if len(wanted) == 0 || wanted[sess.Status] {
			out = append(out, sess)
		}
	}
	sortSessions(out)
	return out, nil
}

func (s *Store) ListSessionsByParticipant(_ context.Context, participantID string, limit int) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []session.Session
	for _, sess := range s.sessions {
		if sess.StudentID == participantID || sess.SeniorID == participantID {
			out = append(out, sess)
		}
	}
	sortSessions(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortSessions(sessions []session.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}

// SignatureStore -------------------------------------------------------------

func (s *Store) CreateSignatureRequest(_ context.Context, r ledger.SignatureRequest) (ledger.SignatureRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.signaturesBySession[r.SessionID]; exists {
		return ledger.SignatureRequest{}, storage.ErrDuplicate
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	s.signatures[r.ID] = r
	s.signaturesBySession[r.SessionID] = r.ID
	return r, nil
}

func (s *Store) UpdateSignatureRequest(_ context.Context, r ledger.SignatureRequest) (ledger.SignatureRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.signatures[r.ID]
	if !ok {
		return ledger.SignatureRequest{}, storage.ErrNotFound
	}
	if current.Version != r.Version {
		return ledger.SignatureRequest{}, storage.ErrVersionConflict
	}

	r.Version++
	r.CreatedAt = current.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	s.signatures[r.ID] = r
	return r, nil
}

func (s *Store) GetSignatureRequest(_ context.Context, id string) (ledger.SignatureRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.signatures[id]
	if !ok {
		return ledger.SignatureRequest{}, storage.ErrNotFound
	}
	return r, nil
}

func (s *Store) GetSignatureRequestBySession(_ context.Context, sessionID string) (ledger.SignatureRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.signaturesBySession[sessionID]
	if !ok {
		return ledger.SignatureRequest{}, storage.ErrNotFound
	}
	return s.signatures[id], nil
}

func (s *Store) ListExpirablePending(_ context.Context, deadline time.Time) ([]ledger.SignatureRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.SignatureRequest
	for _, r := range s.signatures {
		if r.Status == ledger.SignaturePending && r.ExpiresAt.Before(deadline) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (s *Store) ListUncommittedCollected(_ context.Context) ([]ledger.SignatureRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.SignatureRequest
	for _, r := range s.signatures {
		if r.Status != ledger.SignatureCollected {
			continue
		}
		if _, committed := s.txBySession[r.SessionID]; committed {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	return out, nil
}

// LedgerStore ----------------------------------------------------------------

func (s *Store) CreateTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txBySession[tx.SessionID]; exists {
		return ledger.Transaction{}, storage.ErrDuplicate
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	tx.Version = 1
	tx.CreatedAt = now
	tx.UpdatedAt = now
	s.transactions[tx.ID] = tx
	s.txBySession[tx.SessionID] = tx.ID
	return tx, nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.transactions[tx.ID]
	if !ok {
		return ledger.Transaction{}, storage.ErrNotFound
	}
	if current.Version != tx.Version {
		return ledger.Transaction{}, storage.ErrVersionConflict
	}

	tx.Version++
	tx.CreatedAt = current.CreatedAt
	tx.UpdatedAt = time.Now().UTC()
	s.transactions[tx.ID] = tx
	return tx, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return ledger.Transaction{}, storage.ErrNotFound
	}
	return tx, nil
}

func (s *Store) GetTransactionBySession(_ context.Context, sessionID string) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.txBySession[sessionID]
	if !ok {
		return ledger.Transaction{}, storage.ErrNotFound
	}
	return s.transactions[id], nil
}

func (s *Store) ListPendingTransactions(_ context.Context) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Transaction
	for _, tx := range s.transactions {
		if tx.Status == ledger.TxPending {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreditStore ----------------------------------------------------------------

func (s *Store) CreateCreditAccount(_ context.Context, acct credit.Account) (credit.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accountByStudent[acct.StudentID]; exists {
		return credit.Account{}, storage.ErrDuplicate
	}
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	acct.Version = 1
	acct.CreatedAt = now
	acct.UpdatedAt = now
	s.creditAccounts[acct.ID] = acct
	s.accountByStudent[acct.StudentID] = acct.ID
	return acct, nil
}

func (s *Store) UpdateCreditAccount(_ context.Context, acct credit.Account) (credit.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.creditAccounts[acct.ID]
	if !ok {
		return credit.Account{}, storage.ErrNotFound
	}
	if current.Version != acct.Version {
		return credit.Account{}, storage.ErrVersionConflict
	}

	acct.Version++
	acct.CreatedAt = current.CreatedAt
	acct.UpdatedAt = time.Now().UTC()
	s.creditAccounts[acct.ID] = acct
	return acct, nil
}

func (s *Store) GetCreditAccountByStudent(_ context.Context, studentID string) (credit.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountByStudent[studentID]
	if !ok {
		return credit.Account{}, storage.ErrNotFound
	}
	return s.creditAccounts[id], nil
}

func (s *Store) CreateCreditTransaction(_ context.Context, tx credit.Transaction) (credit.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.Type == credit.TxEarned && tx.SessionID != "" {
		for _, existing := range s.creditTxs[tx.AccountID] {
			if existing.Type == credit.TxEarned && existing.SessionID == tx.SessionID {
				return credit.Transaction{}, storage.ErrDuplicate
			}
		}
	}

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = time.Now().UTC()
	s.creditTxs[tx.AccountID] = append(s.creditTxs[tx.AccountID], tx)
	return tx, nil
}

func (s *Store) ListCreditTransactions(_ context.Context, accountID string, limit int) ([]credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := s.creditTxs[accountID]
	out := make([]credit.Transaction, len(txs))
	copy(out, txs)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) ListCreditTransactionsBySession(_ context.Context, sessionID string) ([]credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []credit.Transaction
	for _, txs := range s.creditTxs {
		for _, tx := range txs {
			if tx.SessionID == sessionID {
				out = append(out, tx)
			}
		}
	}
	return out, nil
}

// AlertStore -----------------------------------------------------------------

func (s *Store) CreateAlert(_ context.Context, a session.Alert) (session.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	s.alerts[a.ID] = a
	return a, nil
}

func (s *Store) UpdateAlert(_ context.Context, a session.Alert) (session.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alerts[a.ID]; !ok {
		return session.Alert{}, storage.ErrNotFound
	}
	s.alerts[a.ID] = a
	return a, nil
}

func (s *Store) ListAlertsBySession(_ context.Context, sessionID string) ([]session.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []session.Alert
	for _, a := range s.alerts {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListOpenAlerts(_ context.Context) ([]session.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []session.Alert
	for _, a := range s.alerts {
		if !a.Resolved {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
