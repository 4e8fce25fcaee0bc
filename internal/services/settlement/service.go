// Package settlement commits collected session logs to the ledger and
// tracks their confirmations. Submission runs through an explicit task
// queue so check-out and signature collection never block on the chain.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/RossBrod/CareCred/internal/chain"
	"github.com/RossBrod/CareCred/internal/domain/ledger"
	"github.com/RossBrod/CareCred/internal/domain/session"
	"github.com/RossBrod/CareCred/internal/metrics"
	"github.com/RossBrod/CareCred/internal/storage"
	"github.com/RossBrod/CareCred/pkg/logger"
)

var (
	// ErrQueueFull is returned by Enqueue when the submission queue has no
	// capacity left.
	ErrQueueFull = errors.New("settlement: submission queue full")

	// ErrNotCommittable is returned for logs that fail the commit
	// preconditions: missing signatures or a non-positive duration.
	ErrNotCommittable = errors.New("settlement: session log not committable")
)

// SessionLinker writes ledger linkage back onto the session. Implemented by
// the sessions service.
type SessionLinker interface {
	RecordLedgerLink(ctx context.Context, sessionID, txID string, blockNumber int64, confirmations int, verified bool) (session.Session, error)
}

// ConfirmationSink is notified when a transaction reaches the confirmation
// threshold. Implemented by the credits service.
type ConfirmationSink interface {
	OnConfirmed(ctx context.Context, tx ledger.Transaction)
}

// DuplicateChecker reports whether a session already has a ledger
// transaction. Implemented by the verification service.
type DuplicateChecker interface {
	IsDuplicate(ctx context.Context, sessionID string) (bool, error)
}

// Config tunes submission retry and confirmation polling.
type Config struct {
	MaxRetries            int
	RetryBackoff          time.Duration
	ConfirmationThreshold int
	PollInterval          time.Duration
	QueueSize             int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.ConfirmationThreshold <= 0 {
		c.ConfirmationThreshold = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// Service is the blockchain settlement worker.
type Service struct {
	store  storage.Store
	ledger chain.Ledger
	linker SessionLinker
	sink   ConfirmationSink
	dupes  DuplicateChecker
	cfg    Config
	log    *logger.Logger
	queue  chan ledger.SessionLog

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates the settlement service. linker and sink may be nil.
func New(store storage.Store, ld chain.Ledger, linker SessionLinker, sink ConfirmationSink, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("settlement")
	}
	cfg = cfg.withDefaults()
	return &Service{
		store:  store,
		ledger: ld,
		linker: linker,
		sink:   sink,
		cfg:    cfg,
		log:    log,
		queue:  make(chan ledger.SessionLog, cfg.QueueSize),
	}
}

// SetDuplicateChecker late-binds the duplicate pre-check. Verification is
// constructed after settlement during wiring.
func (s *Service) SetDuplicateChecker(d DuplicateChecker) {
	s.dupes = d
}

// Name implements the managed service interface.
func (s *Service) Name() string { return "settlement" }

// Start launches the submission worker and the confirmation poller.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(2)
	go s.submitWorker(workerCtx)
	go s.confirmWorker(workerCtx)

	s.log.Info("settlement service started")
	return nil
}

// Stop shuts the workers down and waits for them to drain.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("settlement service stopped")
	return nil
}

// Enqueue hands a session log to the submission worker. It never blocks.
func (s *Service) Enqueue(log ledger.SessionLog) error {
	select {
	case s.queue <- log:
		metrics.SettlementQueueDepth.Set(float64(len(s.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) submitWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case log := <-s.queue:
			metrics.SettlementQueueDepth.Set(float64(len(s.queue)))
			if _, err := s.Commit(ctx, log); err != nil {
				s.log.WithError(err).WithField("session_id", log.SessionID).
					Error("committing session log failed")
			}
		}
	}
}

// Commit validates a session log, records it and submits it to the ledger
// with retry. Committing a session that already has a transaction is
// idempotent: the existing record is returned, or resubmitted when its
// previous attempt failed.
func (s *Service) Commit(ctx context.Context, log ledger.SessionLog) (ledger.Transaction, error) {
	if log.StudentSignature == "" || log.SeniorSignature == "" {
		return ledger.Transaction{}, fmt.Errorf("%w: missing signatures", ErrNotCommittable)
	}
	if !log.EndTime.After(log.StartTime) {
		return ledger.Transaction{}, fmt.Errorf("%w: end time not after start time", ErrNotCommittable)
	}

	if s.dupes != nil {
		if dup, err := s.dupes.IsDuplicate(ctx, log.SessionID); err != nil {
			s.log.WithError(err).WithField("session_id", log.SessionID).
				Warn("duplicate pre-check failed; relying on the store constraint")
		} else if dup {
			return s.resumeExisting(ctx, log.SessionID)
		}
	}

	tx, err := s.store.CreateTransaction(ctx, ledger.Transaction{
		SessionID:   log.SessionID,
		SessionHash: log.SessionHash,
		Status:      ledger.TxPending,
		Log:         log,
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return s.resumeExisting(ctx, log.SessionID)
	} else if err != nil {
		return ledger.Transaction{}, err
	}

	return s.submitWithRetry(ctx, tx)
}

// resumeExisting returns the session's already-recorded transaction, or
// resubmits it when the previous attempt exhausted its retries.
func (s *Service) resumeExisting(ctx context.Context, sessionID string) (ledger.Transaction, error) {
	existing, err := s.store.GetTransactionBySession(ctx, sessionID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if existing.Status != ledger.TxFailed {
		return existing, nil
	}
	existing.Status = ledger.TxPending
	existing.ErrorMessage = ""
	return s.submitWithRetry(ctx, existing)
}

// submitWithRetry pushes the transaction's log to the ledger, backing off
// exponentially with jitter on transient failures.
func (s *Service) submitWithRetry(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	record := chain.Record{
		SessionHash:     tx.Log.SessionHash,
		StudentIDHash:   tx.Log.StudentIDHash,
		SeniorIDHash:    tx.Log.SeniorIDHash,
		LocationHash:    tx.Log.LocationHash,
		StartTime:       tx.Log.StartTime,
		EndTime:         tx.Log.EndTime,
		DurationMinutes: tx.Log.DurationMinutes,
		TaskType:        tx.Log.TaskType,
		CreditAmount:    tx.Log.CreditAmount,
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.SettlementRetries.Inc()
			backoff := s.cfg.RetryBackoff * (1 << (attempt - 1))
			backoff += time.Duration(rand.Int63n(int64(backoff)/2 + 1))
			select {
			case <-ctx.Done():
				return tx, ctx.Err()
			case <-time.After(backoff):
			}
		}

		receipt, err := s.ledger.Submit(ctx, record)
		if err == nil {
			tx.TxID = receipt.TxID
			tx.BlockNumber = receipt.BlockNumber
			tx.RetryCount = attempt
			tx.SubmittedAt = time.Now().UTC()
			metrics.SettlementSubmissions.WithLabelValues("submitted").Inc()
			updated, err := s.store.UpdateTransaction(ctx, tx)
			if err != nil {
				return tx, err
			}
			if s.linker != nil {
				if _, err := s.linker.RecordLedgerLink(ctx, tx.SessionID, tx.TxID, tx.BlockNumber, 0, false); err != nil {
					s.log.WithError(err).WithField("session_id", tx.SessionID).
						Warn("recording ledger link failed")
				}
			}
			return updated, nil
		}

		lastErr = err
		if !chain.IsTransient(err) {
			break
		}
		s.log.WithError(err).WithField("session_id", tx.SessionID).
			Warnf("ledger submission attempt %d failed", attempt+1)
	}

	tx.Status = ledger.TxFailed
	tx.RetryCount = s.cfg.MaxRetries
	tx.ErrorMessage = lastErr.Error()
	metrics.SettlementSubmissions.WithLabelValues("failed").Inc()
	if _, err := s.store.UpdateTransaction(ctx, tx); err != nil {
		s.log.WithError(err).WithField("session_id", tx.SessionID).
			Error("recording failed transaction failed")
	}
	return tx, lastErr
}

// StatusOf fetches the transaction and refreshes its confirmation count
// from the ledger when still pending.
func (s *Service) StatusOf(ctx context.Context, transactionID string) (ledger.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if tx.Status != ledger.TxPending || tx.TxID == "" {
		return tx, nil
	}
	return s.refresh(ctx, tx)
}

// confirmWorker drives pending transactions toward confirmed.
func (s *Service) confirmWorker(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollPending(ctx)
		}
	}
}

func (s *Service) pollPending(ctx context.Context) {
	pending, err := s.store.ListPendingTransactions(ctx)
	if err != nil {
		s.log.WithError(err).Error("listing pending transactions failed")
		return
	}
	for _, tx := range pending {
		if tx.TxID == "" {
			continue
		}
		if _, err := s.refresh(ctx, tx); err != nil {
			s.log.WithError(err).WithField("tx_id", tx.TxID).
				Warn("refreshing confirmation state failed")
		}
	}
}

// refresh polls the ledger once and applies the resulting state transition.
func (s *Service) refresh(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	status, err := s.ledger.Status(ctx, tx.TxID)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) || !chain.IsTransient(err) {
			// the ledger rejected or dropped the transaction
			tx.Status = ledger.TxRejected
			tx.ErrorMessage = err.Error()
			metrics.SettlementSubmissions.WithLabelValues("rejected").Inc()
			return s.store.UpdateTransaction(ctx, tx)
		}
		return tx, err
	}

	tx.Confirmations = status.Confirmations
	if status.BlockNumber > 0 {
		tx.BlockNumber = status.BlockNumber
	}

	confirmed := tx.Confirmations >= s.cfg.ConfirmationThreshold
	if confirmed {
		tx.Status = ledger.TxConfirmed
		tx.ConfirmedAt = time.Now().UTC()
		if !tx.SubmittedAt.IsZero() {
			metrics.ConfirmationLatency.Observe(tx.ConfirmedAt.Sub(tx.SubmittedAt).Seconds())
		}
		metrics.SettlementSubmissions.WithLabelValues("confirmed").Inc()
	}

	updated, err := s.store.UpdateTransaction(ctx, tx)
	if err != nil {
		return tx, err
	}

	if s.linker != nil {
		if _, err := s.linker.RecordLedgerLink(ctx, tx.SessionID, tx.TxID, tx.BlockNumber, tx.Confirmations, confirmed); err != nil {
			s.log.WithError(err).WithField("session_id", tx.SessionID).
				Warn("recording ledger link failed")
		}
	}
	if confirmed {
		s.log.WithField("session_id", tx.SessionID).WithField("tx_id", tx.TxID).
			Info("transaction confirmed")
		if s.sink != nil {
			s.sink.OnConfirmed(ctx, updated)
		}
	}
	return updated, nil
}
