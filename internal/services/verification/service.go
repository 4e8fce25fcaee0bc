// Package verification re-checks committed sessions against the ledger:
// hash integrity, signature validity and credit eligibility. Failed checks
// are reported as flags with details, never as errors; only infrastructure
// failures surface as VerificationError.
package verification

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/RossBrod/CareCred/internal/chain"
	"github.com/RossBrod/CareCred/internal/domain/ledger"
	"github.com/RossBrod/CareCred/internal/domain/session"
	"github.com/RossBrod/CareCred/internal/identity"
	"github.com/RossBrod/CareCred/internal/metrics"
	"github.com/RossBrod/CareCred/internal/privacy"
	"github.com/RossBrod/CareCred/internal/services/signatures"
	"github.com/RossBrod/CareCred/internal/storage"
	"github.com/RossBrod/CareCred/pkg/logger"
)

// VerificationError reports an infrastructure failure: a store or ledger
// that could not be reached. It never represents a failed check.
type VerificationError struct {
	SessionID string
	Err       error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification: session %s: %v", e.SessionID, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// Config tunes verification.
type Config struct {
	ConfirmationThreshold int
}

// Service performs point-in-time verification of settled sessions.
type Service struct {
	store     storage.Store
	ledger    chain.Ledger
	hasher    *privacy.Hasher
	directory identity.Directory
	threshold int
	log       *logger.Logger
	now       func() time.Time
}

// New creates the verification service.
func New(store storage.Store, ld chain.Ledger, hasher *privacy.Hasher, directory identity.Directory, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("verification")
	}
	threshold := cfg.ConfirmationThreshold
	if threshold <= 0 {
		threshold = 3
	}
	return &Service{
		store:     store,
		ledger:    ld,
		hasher:    hasher,
		directory: directory,
		threshold: threshold,
		log:       log,
		now:       time.Now,
	}
}

// Verify re-derives the session hash, fetches the ledger record and checks
// integrity, signatures and credit eligibility.
func (s *Service) Verify(ctx context.Context, sessionID string) (ledger.VerificationResult, error) {
	result := ledger.VerificationResult{
		SessionID:  sessionID,
		VerifiedAt: s.now().UTC(),
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return result, &VerificationError{SessionID: sessionID, Err: err}
	}

	tx, err := s.store.GetTransactionBySession(ctx, sessionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		result.Details = append(result.Details, "no ledger transaction recorded for session")
		metrics.VerificationResults.WithLabelValues("failed").Inc()
		return result, nil
	case err != nil:
		return result, &VerificationError{SessionID: sessionID, Err: err}
	}
	result.TransactionID = tx.ID
	result.Confirmations = tx.Confirmations

	req, err := s.store.GetSignatureRequestBySession(ctx, sessionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		result.Details = append(result.Details, "no signature request recorded for session")
	case err != nil:
		return result, &VerificationError{SessionID: sessionID, Err: err}
	default:
		result.SignaturesOK = s.checkSignatures(ctx, req, &result)
	}

	integrity, err := s.checkIntegrity(ctx, sess, tx, &result)
	if err != nil {
		return result, &VerificationError{SessionID: sessionID, Err: err}
	}
	result.IntegrityCheck = integrity
	result.CreditEligible = s.checkEligibility(sess, tx, &result)

	outcome := "failed"
	if result.OK() {
		outcome = "verified"
	}
	metrics.VerificationResults.WithLabelValues(outcome).Inc()
	return result, nil
}

// checkIntegrity compares the locally re-derived hash against the record
// stored on the ledger. A ledger that cannot be reached is an error, not a
// failed check; only a missing record counts against integrity.
func (s *Service) checkIntegrity(ctx context.Context, sess session.Session, tx ledger.Transaction, result *ledger.VerificationResult) (bool, error) {
	derived := s.hasher.SessionHash(signatures.SessionDataFrom(sess))
	if derived != tx.SessionHash {
		result.Details = append(result.Details, "stored session hash does not match re-derived hash")
		return false, nil
	}

	if tx.TxID == "" {
		result.Details = append(result.Details, "transaction was never submitted to the ledger")
		return false, nil
	}

	record, err := s.ledger.Payload(ctx, tx.TxID)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			result.Details = append(result.Details, "ledger has no record for transaction")
			return false, nil
		}
		return false, err
	}
	if record.SessionHash != derived {
		result.Details = append(result.Details, "ledger record hash does not match re-derived hash")
		return false, nil
	}
	return true, nil
}

// checkSignatures verifies both stored signatures against the directory's
// public keys.
func (s *Service) checkSignatures(ctx context.Context, req ledger.SignatureRequest, result *ledger.VerificationResult) bool {
	if req.Status != ledger.SignatureCollected {
		result.Details = append(result.Details, fmt.Sprintf("signature request is %s, not collected", req.Status))
		return false
	}

	ok := true
	for _, party := range []struct {
		id, sig, label string
	}{
		{req.StudentID, req.StudentSignature, "student"},
		{req.SeniorID, req.SeniorSignature, "senior"},
	} {
		participant, err := s.directory.Resolve(ctx, party.id)
		if err != nil {
			result.Details = append(result.Details, party.label+" signer cannot be resolved")
			ok = false
			continue
		}
		sig, err := hex.DecodeString(party.sig)
		if err != nil || len(participant.PublicKey) != ed25519.PublicKeySize ||
			!ed25519.Verify(participant.PublicKey, []byte(req.DataHash), sig) {
			result.Details = append(result.Details, party.label+" signature does not verify")
			ok = false
		}
	}
	return ok
}

// checkEligibility gates credit payout on completion, confirmations and the
// admin block flag.
func (s *Service) checkEligibility(sess session.Session, tx ledger.Transaction, result *ledger.VerificationResult) bool {
	eligible := true
	if sess.Status != session.StatusCompleted {
		result.Details = append(result.Details, fmt.Sprintf("session is %s, not completed", sess.Status))
		eligible = false
	}
	if tx.Confirmations < s.threshold {
		result.Details = append(result.Details,
			fmt.Sprintf("only %d of %d required confirmations", tx.Confirmations, s.threshold))
		eligible = false
	}
	if sess.CreditBlocked {
		result.Details = append(result.Details, "credit payout blocked: "+sess.BlockReason)
		eligible = false
	}
	return eligible
}

// BatchVerify verifies each session independently. The result slice
// preserves input order with one entry per id; an infrastructure failure is
// recorded in that entry's details without aborting the rest.
func (s *Service) BatchVerify(ctx context.Context, sessionIDs []string) []ledger.VerificationResult {
	results := make([]ledger.VerificationResult, len(sessionIDs))
	for i, id := range sessionIDs {
		result, err := s.Verify(ctx, id)
		if err != nil {
			result.Details = append(result.Details, "verification error: "+err.Error())
		}
		results[i] = result
	}
	return results
}

// IsDuplicate reports whether a ledger transaction already exists for the
// session. Settlement consults this before submitting.
func (s *Service) IsDuplicate(ctx context.Context, sessionID string) (bool, error) {
	_, err := s.store.GetTransactionBySession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &VerificationError{SessionID: sessionID, Err: err}
	}
	return true, nil
}
