// Package credits maintains student credit accounts. Settlement feeds it
// confirmed sessions; disbursement eligibility is gated on confirmation
// unless policy says otherwise.
package credits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RossBrod/CareCred/internal/domain/credit"
	"github.com/RossBrod/CareCred/internal/domain/ledger"
	"github.com/RossBrod/CareCred/internal/domain/session"
	"github.com/RossBrod/CareCred/internal/metrics"
	"github.com/RossBrod/CareCred/internal/notify"
	"github.com/RossBrod/CareCred/internal/storage"
	"github.com/RossBrod/CareCred/pkg/logger"
)

var (
	// ErrAlreadyAwarded is returned when the session's credit was already
	// applied to the account.
	ErrAlreadyAwarded = errors.New("credits: session already awarded")

	// ErrPayoutBlocked is returned for sessions flagged for admin review.
	ErrPayoutBlocked = errors.New("credits: payout blocked pending admin override")
)

// Config holds the payout policy.
type Config struct {
	// RequireConfirmation gates availability on the ledger transaction
	// reaching the confirmation threshold.
	RequireConfirmation bool
}

// Service manages student credit accounts.
type Service struct {
	store    storage.Store
	notifier notify.Sender
	cfg      Config
	log      *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the credit service.
func New(store storage.Store, notifier notify.Sender, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("credits")
	}
	return &Service{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockStudent serializes balance updates per student account.
func (s *Service) lockStudent(studentID string) func() {
	s.mu.Lock()
	l, ok := s.locks[studentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[studentID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// OnConfirmed implements the settlement confirmation sink: the session's
// credit is awarded once its ledger transaction confirms.
func (s *Service) OnConfirmed(ctx context.Context, tx ledger.Transaction) {
	sess, err := s.store.GetSession(ctx, tx.SessionID)
	if err != nil {
		s.log.WithError(err).WithField("session_id", tx.SessionID).
			Error("loading confirmed session failed")
		return
	}
	_, err = s.AwardForSession(ctx, sess)
	switch {
	case errors.Is(err, ErrAlreadyAwarded):
		// awarded into Pending before confirmation; release it now
		if err := s.promotePending(ctx, sess); err != nil {
			s.log.WithError(err).WithField("session_id", tx.SessionID).
				Error("releasing pending credit failed")
		}
	case errors.Is(err, ErrPayoutBlocked):
		// stays blocked until an admin override
	case err != nil:
		s.log.WithError(err).WithField("session_id", tx.SessionID).
			Error("awarding session credit failed")
	}
}

// AwardForSession applies a completed session's credit to the student's
// account exactly once. The award lands in Pending until eligible, then in
// Available.
func (s *Service) AwardForSession(ctx context.Context, sess session.Session) (credit.Account, error) {
	if sess.Status != session.StatusCompleted {
		return credit.Account{}, fmt.Errorf("credits: session %s is not completed", sess.ID)
	}
	if sess.CreditBlocked {
		return credit.Account{}, fmt.Errorf("%w: %s", ErrPayoutBlocked, sess.BlockReason)
	}
	if sess.CreditAmount <= 0 {
		return credit.Account{}, fmt.Errorf("credits: session %s carries no credit", sess.ID)
	}

	unlock := s.lockStudent(sess.StudentID)
	defer unlock()

	acct, err := s.getOrCreateAccount(ctx, sess.StudentID)
	if err != nil {
		return credit.Account{}, err
	}

	available := !s.cfg.RequireConfirmation || sess.BlockchainVerified

	_, err = s.store.CreateCreditTransaction(ctx, credit.Transaction{
		AccountID:   acct.ID,
		StudentID:   sess.StudentID,
		SessionID:   sess.ID,
		Type:        credit.TxEarned,
		Status:      credit.StatusCompleted,
		Amount:      sess.CreditAmount,
		Description: fmt.Sprintf("session %s (%s)", sess.ID, sess.Type),
		ProcessedAt: time.Now().UTC(),
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return acct, ErrAlreadyAwarded
	}
	if err != nil {
		return credit.Account{}, err
	}

	acct.TotalEarned += sess.CreditAmount
	if available {
		acct.Available += sess.CreditAmount
	} else {
		acct.Pending += sess.CreditAmount
	}
	acct, err = s.store.UpdateCreditAccount(ctx, acct)
	if err != nil {
		return credit.Account{}, err
	}

	metrics.CreditsAwarded.Add(sess.CreditAmount)
	s.log.WithField("student_id", sess.StudentID).
		WithField("amount", sess.CreditAmount).
		Info("session credit awarded")

	if s.notifier != nil {
		s.notifier.Send(ctx, notify.Notification{
			Kind:        notify.KindCreditAwarded,
			RecipientID: sess.StudentID,
			SessionID:   sess.ID,
			Message:     fmt.Sprintf("%.2f credit awarded", sess.CreditAmount),
			CreatedAt:   time.Now().UTC(),
		})
	}
	return acct, nil
}

// AdminOverride releases a blocked session's credit after manual review.
// The award bypasses the confirmation policy; the override is recorded as an
// adjustment attributed to the admin.
func (s *Service) AdminOverride(ctx context.Context, sess session.Session, adminID, reason string) (credit.Account, error) {
	if reason == "" {
		return credit.Account{}, fmt.Errorf("credits: override reason required")
	}
	if sess.CreditAmount <= 0 {
		return credit.Account{}, fmt.Errorf("credits: session %s carries no credit", sess.ID)
	}

	unlock := s.lockStudent(sess.StudentID)
	defer unlock()

	acct, err := s.getOrCreateAccount(ctx, sess.StudentID)
	if err != nil {
		return credit.Account{}, err
	}

	_, err = s.store.CreateCreditTransaction(ctx, credit.Transaction{
		AccountID:   acct.ID,
		StudentID:   sess.StudentID,
		SessionID:   sess.ID,
		Type:        credit.TxEarned,
		Status:      credit.StatusCompleted,
		Amount:      sess.CreditAmount,
		Description: "admin override: " + reason,
		ProcessedBy: adminID,
		ProcessedAt: time.Now().UTC(),
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return acct, ErrAlreadyAwarded
	}
	if err != nil {
		return credit.Account{}, err
	}

	acct.TotalEarned += sess.CreditAmount
	acct.Available += sess.CreditAmount
	acct, err = s.store.UpdateCreditAccount(ctx, acct)
	if err != nil {
		return credit.Account{}, err
	}

	metrics.CreditsAwarded.Add(sess.CreditAmount)
	s.log.WithField("session_id", sess.ID).WithField("admin_id", adminID).
		Info("blocked credit released by admin override")
	return acct, nil
}

// Account returns the student's account, creating an empty one on first use.
func (s *Service) Account(ctx context.Context, studentID string) (credit.Account, error) {
	return s.getOrCreateAccount(ctx, studentID)
}

// History lists the account's credit movements, newest last.
func (s *Service) History(ctx context.Context, studentID string, limit int) ([]credit.Transaction, error) {
	acct, err := s.store.GetCreditAccountByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return s.store.ListCreditTransactions(ctx, acct.ID, limit)
}

// promotePending moves a previously awarded but unconfirmed session credit
// from Pending to Available. No-op when nothing is pending.
func (s *Service) promotePending(ctx context.Context, sess session.Session) error {
	unlock := s.lockStudent(sess.StudentID)
	defer unlock()

	acct, err := s.store.GetCreditAccountByStudent(ctx, sess.StudentID)
	if err != nil {
		return err
	}
	if acct.Pending < sess.CreditAmount {
		return nil
	}
	acct.Pending -= sess.CreditAmount
	acct.Available += sess.CreditAmount
	_, err = s.store.UpdateCreditAccount(ctx, acct)
	return err
}

func (s *Service) getOrCreateAccount(ctx context.Context, studentID string) (credit.Account, error) {
	acct, err := s.store.GetCreditAccountByStudent(ctx, studentID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return credit.Account{}, err
	}
	acct, err = s.store.CreateCreditAccount(ctx, credit.Account{StudentID: studentID})
	if errors.Is(err, storage.ErrDuplicate) {
		return s.store.GetCreditAccountByStudent(ctx, studentID)
	}
	return acct, err
}
