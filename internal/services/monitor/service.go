// Package monitor watches active sessions for anomalies: missed check-ins,
// overtime and GPS drift. Anomalies raise alerts, notify the admin and flip
// the session to disputed through the state machine.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/RossBrod/CareCred/internal/domain/session"
	"github.com/RossBrod/CareCred/internal/geo"
	"github.com/RossBrod/CareCred/internal/identity"
	"github.com/RossBrod/CareCred/internal/metrics"
	"github.com/RossBrod/CareCred/internal/notify"
	"github.com/RossBrod/CareCred/internal/storage"
	"github.com/RossBrod/CareCred/pkg/logger"
)

// Disputer flips a session to disputed. Implemented by the sessions service.
type Disputer interface {
	Dispute(ctx context.Context, sessionID, cause string) (session.Session, error)
}

// Config holds the anomaly thresholds.
type Config struct {
	// OvertimeAfter is how far past the scheduled end a session may run.
	OvertimeAfter time.Duration
	// DriftThresholdM is the maximum distance a mid-session location
	// report may sit from the senior's registered address.
	DriftThresholdM float64
	// CheckInGrace is how long after the scheduled start a check-in may
	// lag before the session counts as missed.
	CheckInGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.OvertimeAfter <= 0 {
		c.OvertimeAfter = 30 * time.Minute
	}
	if c.DriftThresholdM <= 0 {
		c.DriftThresholdM = 100
	}
	if c.CheckInGrace <= 0 {
		c.CheckInGrace = 15 * time.Minute
	}
	return c
}

// Service is the session anomaly monitor.
type Service struct {
	store     storage.Store
	directory identity.Directory
	disputer  Disputer
	notifier  notify.Sender
	cfg       Config
	log       *logger.Logger
	now       func() time.Time
}

// New creates the monitor. disputer may be nil; alerts are then raised
// without a state transition.
func New(store storage.Store, directory identity.Directory, disputer Disputer, notifier notify.Sender, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("monitor")
	}
	return &Service{
		store:     store,
		directory: directory,
		disputer:  disputer,
		notifier:  notifier,
		cfg:       cfg.withDefaults(),
		log:       log,
		now:       time.Now,
	}
}

// Sweep scans scheduled and running sessions once. Each anomaly kind is
// raised at most once per session; repeat sweeps are no-ops for sessions
// already flagged.
func (s *Service) Sweep(ctx context.Context) error {
	sessions, err := s.store.ListSessionsByStatus(ctx, session.StatusScheduled, session.StatusInProgress)
	if err != nil {
		return fmt.Errorf("monitor: listing active sessions: %w", err)
	}

	now := s.now().UTC()
	for _, sess := range sessions {
		switch sess.Status {
		case session.StatusScheduled:
			if !sess.ScheduledStart.IsZero() && now.After(sess.ScheduledStart.Add(s.cfg.CheckInGrace)) {
				s.raise(ctx, sess, session.AlertNoCheckIn, session.SeverityMedium,
					fmt.Sprintf("no check-in %s after scheduled start", now.Sub(sess.ScheduledStart).Round(time.Minute)))
			}
		case session.StatusInProgress:
			if !sess.ScheduledEnd.IsZero() && now.After(sess.ScheduledEnd.Add(s.cfg.OvertimeAfter)) {
				s.raise(ctx, sess, session.AlertOvertime, session.SeverityHigh,
					fmt.Sprintf("session running %s past scheduled end", now.Sub(sess.ScheduledEnd).Round(time.Minute)))
			}
		}
	}
	return nil
}

// ReportLocation checks a mid-session location report against the senior's
// registered address. Reports beyond the drift threshold raise a gps_drift
// alert.
func (s *Service) ReportLocation(ctx context.Context, sessionID string, loc geo.Location) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != session.StatusInProgress {
		return fmt.Errorf("monitor: session %s is not in progress", sessionID)
	}

	senior, err := s.directory.Resolve(ctx, sess.SeniorID)
	if err != nil {
		return fmt.Errorf("resolve senior: %w", err)
	}

	distance := geo.Distance(loc, senior.RegisteredAddress)
	if distance > s.cfg.DriftThresholdM {
		s.raise(ctx, sess, session.AlertGPSDrift, session.SeverityHigh,
			fmt.Sprintf("reported location %.0fm from registered address", distance))
	}
	return nil
}

// Emergency raises a critical alert immediately, independent of thresholds.
func (s *Service) Emergency(ctx context.Context, sessionID, message string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	s.raise(ctx, sess, session.AlertEmergency, session.SeverityCritical, message)
	return nil
}

// raise records the alert once per kind per session, notifies the admin and
// disputes the session.
func (s *Service) raise(ctx context.Context, sess session.Session, kind session.AlertKind, severity session.Severity, message string) {
	existing, err := s.store.ListAlertsBySession(ctx, sess.ID)
	if err != nil {
		s.log.WithError(err).WithField("session_id", sess.ID).Error("listing alerts failed")
		return
	}
	for _, a := range existing {
		if a.Kind == kind {
			return
		}
	}

	if _, err := s.store.CreateAlert(ctx, session.Alert{
		SessionID: sess.ID,
		Kind:      kind,
		Severity:  severity,
		Message:   message,
	}); err != nil {
		s.log.WithError(err).WithField("session_id", sess.ID).Error("recording alert failed")
		return
	}
	metrics.AlertsRaised.WithLabelValues(string(kind)).Inc()

	s.log.WithField("session_id", sess.ID).WithField("kind", string(kind)).
		Warn(message)

	if s.notifier != nil {
		s.notifier.Send(ctx, notify.Notification{
			Kind:      notify.KindSessionAlert,
			SessionID: sess.ID,
			Message:   fmt.Sprintf("%s: %s", kind, message),
			CreatedAt: s.now().UTC(),
		})
	}

	if s.disputer != nil {
		if _, err := s.disputer.Dispute(ctx, sess.ID, fmt.Sprintf("%s: %s", kind, message)); err != nil {
			s.log.WithError(err).WithField("session_id", sess.ID).Warn("disputing session failed")
		}
	}
}

// Resolve closes an open alert after admin review.
func (s *Service) Resolve(ctx context.Context, alertID, adminID string) (session.Alert, error) {
	alerts, err := s.store.ListOpenAlerts(ctx)
	if err != nil {
		return session.Alert{}, err
	}
	for _, a := range alerts {
		if a.ID != alertID {
			continue
		}
		a.Resolved = true
		a.ResolvedAt = s.now().UTC()
		a.ResolvedBy = adminID
		return s.store.UpdateAlert(ctx, a)
	}
	return session.Alert{}, storage.ErrNotFound
}
