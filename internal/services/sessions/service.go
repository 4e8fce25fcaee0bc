// Package sessions implements the session lifecycle state machine. All
// session mutations go through this service; stores are never written
// directly by callers.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/RossBrod/CareCred/internal/domain/ledger"
	"github.com/RossBrod/CareCred/internal/domain/session"
	"github.com/RossBrod/CareCred/internal/geo"
	"github.com/RossBrod/CareCred/internal/identity"
	"github.com/RossBrod/CareCred/internal/metrics"
	"github.com/RossBrod/CareCred/internal/storage"
	"github.com/RossBrod/CareCred/pkg/logger"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the session's current status.
	ErrInvalidTransition = errors.New("sessions: invalid transition")

	// ErrNotParticipant is returned when the actor is neither the session's
	// student nor its senior.
	ErrNotParticipant = errors.New("sessions: not a session participant")

	// ErrReasonRequired is returned by Cancel when no reason is given.
	ErrReasonRequired = errors.New("sessions: cancellation reason required")
)

// LocationMismatchError reports a rejected check-in or check-out location.
// The session state is left unchanged.
type LocationMismatchError struct {
	DistanceMeters float64
	Reason         string
}

func (e *LocationMismatchError) Error() string {
	return fmt.Sprintf("sessions: location rejected: %s (%.1fm)", e.Reason, e.DistanceMeters)
}

// Bonus multipliers applied to the base credit amount. Tags stack
// multiplicatively.
var bonusMultipliers = map[string]float64{
	"weekend":            1.10,
	"emergency":          1.20,
	"first_time_senior":  1.10,
	"high_rated_session": 1.05,
}

// SignatureStarter begins signature collection for a completed session.
// Implemented by the signatures service.
type SignatureStarter interface {
	Create(ctx context.Context, sess session.Session) (ledger.SignatureRequest, error)
}

// Config tunes session validation and credit computation.
type Config struct {
	HourlyRate       float64
	MaxDurationHours float64
	GeofenceRadiusM  float64
	MaxAccuracyM     float64
}

// Service is the session state machine.
type Service struct {
	store      storage.SessionStore
	directory  identity.Directory
	validator  *geo.Validator
	signatures SignatureStarter
	cfg        Config
	log        *logger.Logger
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the session service. signatures may be nil; check-out then
// completes without starting signature collection.
func New(store storage.SessionStore, directory identity.Directory, signatures SignatureStarter, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("sessions")
	}
	if cfg.HourlyRate <= 0 {
		cfg.HourlyRate = 15.00
	}
	if cfg.MaxDurationHours <= 0 {
		cfg.MaxDurationHours = 8
	}
	if cfg.GeofenceRadiusM <= 0 {
		cfg.GeofenceRadiusM = 50
	}
	if cfg.MaxAccuracyM <= 0 {
		cfg.MaxAccuracyM = geo.DefaultMaxAccuracyMeters
	}
	return &Service{
		store:      store,
		directory:  directory,
		validator:  geo.NewValidator(cfg.MaxAccuracyM),
		signatures: signatures,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
}

// SetSignatureStarter late-binds the signature coordinator. The wiring
// cycle (check-out starts signing, expiry blocks credit) makes construction
// order circular otherwise. Call during wiring, before serving traffic.
func (s *Service) SetSignatureStarter(starter SignatureStarter) {
	s.signatures = starter
}

// lockSession serializes transitions per session. Different sessions never
// contend.
func (s *Service) lockSession(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Request creates a session in the requested state.
func (s *Service) Request(ctx context.Context, studentID, seniorID string, sessionType session.Type, title, description string) (session.Session, error) {
	student, err := s.directory.Resolve(ctx, studentID)
	if err != nil {
		return session.Session{}, fmt.Errorf("resolve student: %w", err)
	}
	if student.Role != identity.RoleStudent {
		return session.Session{}, fmt.Errorf("%w: %s is not a student", ErrNotParticipant, studentID)
	}
	senior, err := s.directory.Resolve(ctx, seniorID)
	if err != nil {
		return session.Session{}, fmt.Errorf("resolve senior: %w", err)
	}
	if senior.Role != identity.RoleSenior {
		return session.Session{}, fmt.Errorf("%w: %s is not a senior", ErrNotParticipant, seniorID)
	}

	sess, err := s.store.CreateSession(ctx, session.Session{
		StudentID:   studentID,
		SeniorID:    seniorID,
		Type:        sessionType,
		Status:      session.StatusRequested,
		Title:       title,
		Description: description,
		HourlyRate:  s.cfg.HourlyRate,
	})
	if err != nil {
		return session.Session{}, err
	}

	metrics.SessionTransitions.WithLabelValues(string(session.StatusRequested)).Inc()
	s.log.WithField("session_id", sess.ID).Info("session requested")
	return sess, nil
}

// Respond records the senior's answer to a request. Declining cancels the
// session.
func (s *Service) Respond(ctx context.Context, sessionID, seniorID string, approve bool, message string) (session.Session, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if sess.SeniorID != seniorID {
		return session.Session{}, ErrNotParticipant
	}
	if sess.Status != session.StatusRequested {
		return session.Session{}, s.reject(sess.Status, "respond")
	}

	if approve {
		sess.Status = session.StatusApproved
	} else {
		sess.Status = session.StatusCancelled
		sess.CancelReason = message
		sess.CancelledBy = seniorID
	}
	return s.update(ctx, sess)
}

// Schedule sets the agreed time window on an approved session.
func (s *Service) Schedule(ctx context.Context, sessionID string, start, end time.Time) (session.Session, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if sess.Status != session.StatusApproved {
		return session.Session{}, s.reject(sess.Status, "schedule")
	}
	if !end.After(start) {
		return session.Session{}, fmt.Errorf("sessions: scheduled end must be after start")
	}
	if end.Sub(start).Hours() > s.cfg.MaxDurationHours {
		return session.Session{}, fmt.Errorf("sessions: duration exceeds %.0fh maximum", s.cfg.MaxDurationHours)
	}

	sess.Status = session.StatusScheduled
	sess.ScheduledStart = start.UTC()
	sess.ScheduledEnd = end.UTC()
	return s.update(ctx, sess)
}

// CheckIn validates the student's location against the senior's registered
// address and starts the session. A rejected location leaves the session
// scheduled.
func (s *Service) CheckIn(ctx context.Context, sessionID, participantID string, loc geo.Location) (session.Session, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if participantID != sess.StudentID {
		return session.Session{}, ErrNotParticipant
	}
	if sess.Status != session.StatusScheduled {
		return session.Session{}, s.reject(sess.Status, "check-in")
	}

	if err := s.validateLocation(ctx, sess, loc); err != nil {
		return session.Session{}, err
	}

	sess.Status = session.StatusCheckedIn
	sess.CheckInTime = s.now().UTC()
	sess.CheckInLocation = loc
	if sess, err = s.update(ctx, sess); err != nil {
		return session.Session{}, err
	}

	// Check-in immediately begins the working period.
	sess.Status = session.StatusInProgress
	return s.update(ctx, sess)
}

// CheckOut validates the location, computes the earned credit and completes
// the session. On success signature collection starts asynchronously.
func (s *Service) CheckOut(ctx context.Context, sessionID, participantID string, loc geo.Location) (session.Session, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if participantID != sess.StudentID {
		return session.Session{}, ErrNotParticipant
	}
	if sess.Status != session.StatusInProgress {
		return session.Session{}, s.reject(sess.Status, "check-out")
	}

	if err := s.validateLocation(ctx, sess, loc); err != nil {
		return session.Session{}, err
	}

	checkOut := s.now().UTC()
	if !checkOut.After(sess.CheckInTime) {
		return session.Session{}, fmt.Errorf("sessions: check-out must be after check-in")
	}

	sess.Status = session.StatusCompleted
	sess.CheckOutTime = checkOut
	sess.CheckOutLocation = loc
	sess.ActualDurationHours = checkOut.Sub(sess.CheckInTime).Hours()
	sess.BonusTags = withDerivedTags(sess.BonusTags, sess.CheckInTime)
	sess.CreditAmount = ComputeCredit(sess.ActualDurationHours, sess.HourlyRate, sess.BonusTags)

	sess, err = s.update(ctx, sess)
	if err != nil {
		return session.Session{}, err
	}

	s.log.WithField("session_id", sess.ID).
		WithField("credit_amount", sess.CreditAmount).
		Info("session completed")

	if s.signatures != nil {
		// Settlement must not block check-out.
		go func(completed session.Session) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := s.signatures.Create(ctx, completed); err != nil {
				s.log.WithError(err).WithField("session_id", completed.ID).
					Warn("starting signature collection failed")
			}
		}(sess)
	}
	return sess, nil
}

// Cancel terminates a non-terminal session. Admins may cancel any session;
// participants only their own.
func (s *Service) Cancel(ctx context.Context, sessionID, actorID, reason string) (session.Session, error) {
	if reason == "" {
		return session.Session{}, ErrReasonRequired
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if sess.Status.IsTerminal() {
		return session.Session{}, s.reject(sess.Status, "cancel")
	}

	if actorID != sess.StudentID && actorID != sess.SeniorID {
		actor, err := s.directory.Resolve(ctx, actorID)
		if err != nil {
			return session.Session{}, fmt.Errorf("resolve actor: %w", err)
		}
		if actor.Role != identity.RoleAdmin {
			return session.Session{}, ErrNotParticipant
		}
	}

	sess.Status = session.StatusCancelled
	sess.CancelReason = reason
	sess.CancelledBy = actorID
	return s.update(ctx, sess)
}

// Dispute flips a non-terminal session to disputed, recording the cause.
func (s *Service) Dispute(ctx context.Context, sessionID, cause string) (session.Session, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if sess.Status.IsTerminal() {
		return session.Session{}, s.reject(sess.Status, "dispute")
	}

	sess.Status = session.StatusDisputed
	sess.DisputeCause = cause
	return s.update(ctx, sess)
}

// Rate records a participant's rating on a completed session.
func (s *Service) Rate(ctx context.Context, sessionID, raterID string, stars int, review string) (session.Session, error) {
	if stars < 1 || stars > 5 {
		return session.Session{}, fmt.Errorf("sessions: rating must be between 1 and 5")
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if sess.Status != session.StatusCompleted {
		return session.Session{}, s.reject(sess.Status, "rate")
	}

	switch raterID {
	case sess.StudentID:
		sess.StudentRating = stars
		sess.StudentReview = review
	case sess.SeniorID:
		sess.SeniorRating = stars
		sess.SeniorReview = review
	default:
		return session.Session{}, ErrNotParticipant
	}
	return s.update(ctx, sess)
}

// AddBonusTag attaches a bonus multiplier tag before the session completes.
// Admin-only; unknown tags are rejected and duplicates are no-ops.
func (s *Service) AddBonusTag(ctx context.Context, sessionID, adminID, tag string) (session.Session, error) {
	if _, ok := bonusMultipliers[tag]; !ok {
		return session.Session{}, fmt.Errorf("sessions: unknown bonus tag %q", tag)
	}
	actor, err := s.directory.Resolve(ctx, adminID)
	if err != nil {
		return session.Session{}, fmt.Errorf("resolve actor: %w", err)
	}
	if actor.Role != identity.RoleAdmin {
		return session.Session{}, ErrNotParticipant
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if sess.Status.IsTerminal() {
		return session.Session{}, s.reject(sess.Status, "tag")
	}
	for _, existing := range sess.BonusTags {
		if existing == tag {
			return sess, nil
		}
	}
	sess.BonusTags = append(sess.BonusTags, tag)
	return s.update(ctx, sess)
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, sessionID string) (session.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// BlockCredit marks a session's payout as requiring admin override, used by
// the signature expiry sweep.
func (s *Service) BlockCredit(ctx context.Context, sessionID, reason string) (session.Session, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	sess.CreditBlocked = true
	sess.BlockReason = reason
	return s.update(ctx, sess)
}

// RecordLedgerLink writes settlement results back onto the session.
func (s *Service) RecordLedgerLink(ctx context.Context, sessionID, txID string, blockNumber int64, confirmations int, verified bool) (session.Session, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	sess.TransactionID = txID
	sess.BlockNumber = blockNumber
	sess.Confirmations = confirmations
	sess.BlockchainVerified = verified
	return s.update(ctx, sess)
}

func (s *Service) validateLocation(ctx context.Context, sess session.Session, loc geo.Location) error {
	senior, err := s.directory.Resolve(ctx, sess.SeniorID)
	if err != nil {
		return fmt.Errorf("resolve senior: %w", err)
	}
	result := s.validator.Validate(loc, senior.RegisteredAddress, s.cfg.GeofenceRadiusM)
	if !result.OK {
		metrics.GeoValidationFailures.WithLabelValues(result.Code).Inc()
		return &LocationMismatchError{DistanceMeters: result.DistanceMeters, Reason: result.Reason}
	}
	return nil
}

func (s *Service) update(ctx context.Context, sess session.Session) (session.Session, error) {
	updated, err := s.store.UpdateSession(ctx, sess)
	if err != nil {
		return session.Session{}, err
	}
	metrics.SessionTransitions.WithLabelValues(string(updated.Status)).Inc()
	return updated, nil
}

func (s *Service) reject(current session.Status, op string) error {
	metrics.TransitionRejections.WithLabelValues(op).Inc()
	return fmt.Errorf("%w: cannot %s in status %s", ErrInvalidTransition, op, current)
}

// withDerivedTags adds the tags computable from the session itself. Work
// checked in on a Saturday or Sunday earns the weekend bonus.
func withDerivedTags(tags []string, checkIn time.Time) []string {
	switch checkIn.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		for _, t := range tags {
			if t == "weekend" {
				return tags
			}
		}
		tags = append(tags, "weekend")
	}
	return tags
}

// ComputeCredit converts a worked duration into a dollar credit amount.
// Bonus tags stack multiplicatively; the result is rounded half-up to two
// decimals.
func ComputeCredit(durationHours, hourlyRate float64, bonusTags []string) float64 {
	amount := durationHours * hourlyRate
	for _, tag := range bonusTags {
		if m, ok := bonusMultipliers[tag]; ok {
			amount *= m
		}
	}
	return math.Round(amount*100) / 100
}
