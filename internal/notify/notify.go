// Package notify dispatches fire-and-forget notifications to participants
// and admins. Delivery transport is an external collaborator; the async
// sender here decouples callers from delivery latency.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/RossBrod/CareCred/pkg/logger"
)

// Kind names a notification class.
type Kind string

const (
	KindSignatureRequested Kind = "signature_requested"
	KindSignatureExpired   Kind = "signature_expired"
	KindSessionAlert       Kind = "session_alert"
	KindCreditAwarded      Kind = "credit_awarded"
	KindAdminAlert         Kind = "admin_alert"
)

// Notification is one message for one recipient.
type Notification struct {
	Kind        Kind
	RecipientID string
	SessionID   string
	Message     string
	CreatedAt   time.Time
}

// Sender dispatches notifications. Implementations must not block callers
// on delivery; errors are delivery-side concerns.
type Sender interface {
	Send(ctx context.Context, n Notification)
}

// LogSender logs notifications instead of delivering them. It stands in for
// the platform's delivery pipeline in local and test wiring.
type LogSender struct {
	log *logger.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(log *logger.Logger) *LogSender {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &LogSender{log: log}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, n Notification) {
	s.log.WithField("kind", string(n.Kind)).
		WithField("recipient", n.RecipientID).
		WithField("session_id", n.SessionID).
		Info(n.Message)
}

// Recorder captures notifications for assertions in tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Send implements Sender.
func (r *Recorder) Send(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// Sent returns a copy of everything recorded.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// CountKind returns how many notifications of the kind were recorded.
func (r *Recorder) CountKind(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.sent {
		if item.Kind == kind {
			n++
		}
	}
	return n
}
