// Package signatures coordinates collection of the two independent
// participant signatures over a completed session's data hash. A session log
// only proceeds to settlement once both signatures are verified.
package signatures

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/RossBrod/CareCred/internal/domain/ledger"
	"github.com/RossBrod/CareCred/internal/domain/session"
	"github.com/RossBrod/CareCred/internal/identity"
	"github.com/RossBrod/CareCred/internal/metrics"
	"github.com/RossBrod/CareCred/internal/notify"
	"github.com/RossBrod/CareCred/internal/privacy"
	"github.com/RossBrod/CareCred/internal/storage"
	"github.com/RossBrod/CareCred/pkg/logger"
)

// DefaultWindow is how long participants have to sign after completion.
const DefaultWindow = 24 * time.Hour

var (
	// ErrNotAParticipant is returned when the signer is neither party of
	// the request.
	ErrNotAParticipant = errors.New("signatures: not a request participant")

	// ErrAlreadyExpired is returned when the signing window has closed.
	ErrAlreadyExpired = errors.New("signatures: request expired")

	// ErrAlreadyCollected is returned when both signatures are already in.
	ErrAlreadyCollected = errors.New("signatures: request already collected")

	// ErrBadSignature is returned when the signature does not verify
	// against the participant's registered public key.
	ErrBadSignature = errors.New("signatures: signature verification failed")
)

// Committer receives completed session logs for ledger settlement.
// Implemented by the settlement service.
type Committer interface {
	Enqueue(log ledger.SessionLog) error
}

// CreditBlocker flags a session's payout as requiring admin override.
// Implemented by the sessions service.
type CreditBlocker interface {
	BlockCredit(ctx context.Context, sessionID, reason string) (session.Session, error)
}

// Config tunes the collection window.
type Config struct {
	Window time.Duration
}

// Service is the signature collection coordinator.
type Service struct {
	store     storage.Store
	directory identity.Directory
	hasher    *privacy.Hasher
	committer Committer
	blocker   CreditBlocker
	notifier  notify.Sender
	window    time.Duration
	log       *logger.Logger
	now       func() time.Time
}

// New creates the coordinator. committer and blocker may be nil in partial
// wirings; collection then stops at the stored record.
func New(store storage.Store, directory identity.Directory, hasher *privacy.Hasher, committer Committer, blocker CreditBlocker, notifier notify.Sender, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("signatures")
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		store:     store,
		directory: directory,
		hasher:    hasher,
		committer: committer,
		blocker:   blocker,
		notifier:  notifier,
		window:    window,
		log:       log,
		now:       time.Now,
	}
}

// Create opens a signature request for a completed session and notifies both
// participants. At most one request exists per session.
func (s *Service) Create(ctx context.Context, sess session.Session) (ledger.SignatureRequest, error) {
	if sess.Status != session.StatusCompleted {
		return ledger.SignatureRequest{}, fmt.Errorf("signatures: session %s is not completed", sess.ID)
	}

	dataHash := s.hasher.SessionHash(SessionDataFrom(sess))
	req, err := s.store.CreateSignatureRequest(ctx, ledger.SignatureRequest{
		SessionID: sess.ID,
		StudentID: sess.StudentID,
		SeniorID:  sess.SeniorID,
		DataHash:  dataHash,
		Status:    ledger.SignaturePending,
		ExpiresAt: s.now().UTC().Add(s.window),
	})
	if err != nil {
		return ledger.SignatureRequest{}, err
	}

	if s.notifier != nil {
		for _, recipient := range []string{sess.StudentID, sess.SeniorID} {
			s.notifier.Send(ctx, notify.Notification{
				Kind:        notify.KindSignatureRequested,
				RecipientID: recipient,
				SessionID:   sess.ID,
				Message:     "please sign the completed session record",
				CreatedAt:   s.now().UTC(),
			})
		}
	}

	s.log.WithField("session_id", sess.ID).WithField("request_id", req.ID).
		Info("signature request opened")
	return req, nil
}

// Submit records one participant's hex-encoded ed25519 signature over the
// request's data hash. Re-submitting overwrites that party's previous
// signature. When both are present the request completes and the session log
// is handed to settlement.
func (s *Service) Submit(ctx context.Context, requestID, participantID, signatureHex string) (ledger.SignatureRequest, error) {
	req, err := s.store.GetSignatureRequest(ctx, requestID)
	if err != nil {
		return ledger.SignatureRequest{}, err
	}

	switch req.Status {
	case ledger.SignatureCollected:
		return ledger.SignatureRequest{}, ErrAlreadyCollected
	case ledger.SignatureExpired:
		return ledger.SignatureRequest{}, ErrAlreadyExpired
	}

	if s.now().After(req.ExpiresAt) {
		if req, err = s.expire(ctx, req); err != nil {
			return ledger.SignatureRequest{}, err
		}
		return req, ErrAlreadyExpired
	}

	if participantID != req.StudentID && participantID != req.SeniorID {
		return ledger.SignatureRequest{}, ErrNotAParticipant
	}

	if err := s.verifySignature(ctx, participantID, req.DataHash, signatureHex); err != nil {
		return ledger.SignatureRequest{}, err
	}

	now := s.now().UTC()
	if participantID == req.StudentID {
		req.StudentSignature = signatureHex
		req.StudentSignedAt = now
		metrics.SignaturesCollected.WithLabelValues("student").Inc()
	} else {
		req.SeniorSignature = signatureHex
		req.SeniorSignedAt = now
		metrics.SignaturesCollected.WithLabelValues("senior").Inc()
	}

	if req.HasBoth() {
		req.Status = ledger.SignatureCollected
		req.CompletedAt = now
	}

	req, err = s.store.UpdateSignatureRequest(ctx, req)
	if err != nil {
		return ledger.SignatureRequest{}, err
	}

	if req.Status == ledger.SignatureCollected {
		if err := s.emitSessionLog(ctx, req); err != nil {
			s.log.WithError(err).WithField("session_id", req.SessionID).
				Warn("handing session log to settlement failed")
		}
	}
	return req, nil
}

// IsComplete reports whether both signatures were collected.
func (s *Service) IsComplete(ctx context.Context, requestID string) (bool, error) {
	req, err := s.store.GetSignatureRequest(ctx, requestID)
	if err != nil {
		return false, err
	}
	return req.Status == ledger.SignatureCollected, nil
}

// Get returns the request for a session.
func (s *Service) Get(ctx context.Context, sessionID string) (ledger.SignatureRequest, error) {
	return s.store.GetSignatureRequestBySession(ctx, sessionID)
}

// SweepExpired expires pending requests past their deadline. Notifications
// go out exactly once per request; the session's payout is blocked pending
// admin override. Returns the ids of requests expired by this pass.
func (s *Service) SweepExpired(ctx context.Context) ([]string, error) {
	pending, err := s.store.ListExpirablePending(ctx, s.now().UTC())
	if err != nil {
		return nil, err
	}

	var expired []string
	for _, req := range pending {
		updated, err := s.expire(ctx, req)
		if err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				// another sweeper or a late Submit won; skip
				continue
			}
			s.log.WithError(err).WithField("request_id", req.ID).Warn("expiring request failed")
			continue
		}
		expired = append(expired, updated.ID)
	}
	return expired, nil
}

// expire transitions a pending request to expired, blocks the session's
// payout and sends the expiry notifications exactly once. Shared by the
// sweep and the late-Submit path.
func (s *Service) expire(ctx context.Context, req ledger.SignatureRequest) (ledger.SignatureRequest, error) {
	req.Status = ledger.SignatureExpired
	notifyParties := !req.NotificationSent
	req.NotificationSent = true

	updated, err := s.store.UpdateSignatureRequest(ctx, req)
	if err != nil {
		return ledger.SignatureRequest{}, err
	}
	metrics.SignaturesExpired.Inc()

	if s.blocker != nil {
		if _, err := s.blocker.BlockCredit(ctx, req.SessionID, "signature window expired"); err != nil {
			s.log.WithError(err).WithField("session_id", req.SessionID).Warn("blocking credit failed")
		}
	}

	if notifyParties && s.notifier != nil {
		for _, recipient := range []string{req.StudentID, req.SeniorID} {
			s.notifier.Send(ctx, notify.Notification{
				Kind:        notify.KindSignatureExpired,
				RecipientID: recipient,
				SessionID:   req.SessionID,
				Message:     "signature window closed before both parties signed",
				CreatedAt:   s.now().UTC(),
			})
		}
		s.notifier.Send(ctx, notify.Notification{
			Kind:      notify.KindAdminAlert,
			SessionID: req.SessionID,
			Message:   "session payout blocked: signature window expired",
			CreatedAt: s.now().UTC(),
		})
	}
	return updated, nil
}

// ReplayUncommitted re-enqueues collected session logs that never reached a
// ledger transaction, recovering drops from a full settlement queue or a
// restart. Returns the session ids handed back to settlement.
func (s *Service) ReplayUncommitted(ctx context.Context) ([]string, error) {
	if s.committer == nil {
		return nil, nil
	}
	uncommitted, err := s.store.ListUncommittedCollected(ctx)
	if err != nil {
		return nil, err
	}

	var replayed []string
	for _, req := range uncommitted {
		if err := s.emitSessionLog(ctx, req); err != nil {
			s.log.WithError(err).WithField("session_id", req.SessionID).
				Warn("replaying session log failed")
			continue
		}
		replayed = append(replayed, req.SessionID)
	}
	return replayed, nil
}

func (s *Service) verifySignature(ctx context.Context, participantID, dataHash, signatureHex string) error {
	participant, err := s.directory.Resolve(ctx, participantID)
	if err != nil {
		return fmt.Errorf("resolve signer: %w", err)
	}
	if len(participant.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: no registered public key", ErrBadSignature)
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return fmt.Errorf("%w: malformed signature encoding", ErrBadSignature)
	}
	if !ed25519.Verify(participant.PublicKey, []byte(dataHash), sig) {
		return ErrBadSignature
	}
	return nil
}

// emitSessionLog builds the privacy-hashed log and hands it to settlement.
func (s *Service) emitSessionLog(ctx context.Context, req ledger.SignatureRequest) error {
	if s.committer == nil {
		return nil
	}
	sess, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return err
	}
	return s.committer.Enqueue(BuildSessionLog(s.hasher, sess, req))
}

// BuildSessionLog derives the ledger payload from a completed session and
// its collected signature request. Raw identifiers and coordinates never
// leave this function unhashed.
func BuildSessionLog(hasher *privacy.Hasher, sess session.Session, req ledger.SignatureRequest) ledger.SessionLog {
	return ledger.SessionLog{
		SessionID:        sess.ID,
		StudentIDHash:    hasher.HashUserID(sess.StudentID),
		SeniorIDHash:     hasher.HashUserID(sess.SeniorID),
		LocationHash:     hasher.HashLocation(sess.CheckInLocation.Latitude, sess.CheckInLocation.Longitude),
		StartTime:        sess.CheckInTime,
		EndTime:          sess.CheckOutTime,
		DurationMinutes:  int(math.Round(sess.ActualDurationHours * 60)),
		TaskType:         string(sess.Type),
		StudentSignature: req.StudentSignature,
		SeniorSignature:  req.SeniorSignature,
		SessionHash:      req.DataHash,
		CreditAmount:     sess.CreditAmount,
	}
}

// SessionDataFrom maps a session onto the canonical signed field set.
func SessionDataFrom(sess session.Session) privacy.SessionData {
	return privacy.SessionData{
		SessionID:    sess.ID,
		StudentID:    sess.StudentID,
		SeniorID:     sess.SeniorID,
		TaskType:     string(sess.Type),
		StartTime:    sess.CheckInTime,
		EndTime:      sess.CheckOutTime,
		Latitude:     sess.CheckInLocation.Latitude,
		Longitude:    sess.CheckInLocation.Longitude,
		CreditAmount: sess.CreditAmount,
	}
}
