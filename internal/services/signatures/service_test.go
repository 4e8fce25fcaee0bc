package signatures

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RossBrod/CareCred/internal/domain/ledger"
	"github.com/RossBrod/CareCred/internal/domain/session"
	"github.com/RossBrod/CareCred/internal/geo"
	"github.com/RossBrod/CareCred/internal/identity"
	"github.com/RossBrod/CareCred/internal/notify"
	"github.com/RossBrod/CareCred/internal/privacy"
	"github.com/RossBrod/CareCred/internal/storage/memory"
)

type logCollector struct {
	mu   sync.Mutex
	logs []ledger.SessionLog
}

func (c *logCollector) Enqueue(log ledger.SessionLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, log)
	return nil
}

func (c *logCollector) all() []ledger.SessionLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ledger.SessionLog(nil), c.logs...)
}

type creditBlockRecorder struct {
	mu      sync.Mutex
	blocked map[string]string
}

func (r *creditBlockRecorder) BlockCredit(_ context.Context, sessionID, reason string) (session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blocked == nil {
		r.blocked = make(map[string]string)
	}
	r.blocked[sessionID] = reason
	return session.Session{ID: sessionID, CreditBlocked: true, BlockReason: reason}, nil
}

type fixture struct {
	svc        *Service
	store      *memory.Store
	committer  *logCollector
	blocker    *creditBlockRecorder
	recorder   *notify.Recorder
	studentKey ed25519.PrivateKey
	seniorKey  ed25519.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	studentPub, studentKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	seniorPub, seniorKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	directory := identity.NewMemoryDirectory()
	directory.Put(identity.Participant{ID: "student-1", Role: identity.RoleStudent, PublicKey: studentPub})
	directory.Put(identity.Participant{ID: "senior-1", Role: identity.RoleSenior, PublicKey: seniorPub})

	hasher, err := privacy.NewHasher([]byte("0123456789abcdef0123456789abcdef"), 3)
	require.NoError(t, err)

	f := &fixture{
		store:      memory.New(),
		committer:  &logCollector{},
		blocker:    &creditBlockRecorder{},
		recorder:   notify.NewRecorder(),
		studentKey: studentKey,
		seniorKey:  seniorKey,
	}
	f.svc = New(f.store, directory, hasher, f.committer, f.blocker, f.recorder, Config{}, nil)
	return f
}

func (f *fixture) completedSession(t *testing.T) session.Session {
	t.Helper()
	checkIn := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	sess, err := f.store.CreateSession(context.Background(), session.Session{
		StudentID:           "student-1",
		SeniorID:            "senior-1",
		Type:                session.TypeTechnologyHelp,
		Status:              session.StatusCompleted,
		CheckInTime:         checkIn,
		CheckOutTime:        checkIn.Add(2*time.Hour + 3*time.Minute),
		CheckInLocation:     geo.Location{Latitude: 40.7128, Longitude: -74.0060, AccuracyMeters: 5},
		ActualDurationHours: 2.05,
		HourlyRate:          15.00,
		CreditAmount:        30.75,
	})
	require.NoError(t, err)
	return sess
}

func sign(key ed25519.PrivateKey, dataHash string) string {
	return hex.EncodeToString(ed25519.Sign(key, []byte(dataHash)))
}

func TestCreateAndCollectBoth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.completedSession(t)

	req, err := f.svc.Create(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, ledger.SignaturePending, req.Status)
	assert.NotEmpty(t, req.DataHash)
	assert.Equal(t, 2, f.recorder.CountKind(notify.KindSignatureRequested))

	req, err = f.svc.Submit(ctx, req.ID, "student-1", sign(f.studentKey, req.DataHash))
	require.NoError(t, err)
	assert.Equal(t, ledger.SignaturePending, req.Status)

	complete, err := f.svc.IsComplete(ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, complete)

	req, err = f.svc.Submit(ctx, req.ID, "senior-1", sign(f.seniorKey, req.DataHash))
	require.NoError(t, err)
	assert.Equal(t, ledger.SignatureCollected, req.Status)
	assert.False(t, req.CompletedAt.IsZero())

	complete, err = f.svc.IsComplete(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, complete)

	logs := f.committer.all()
	require.Len(t, logs, 1)
	assert.Equal(t, sess.ID, logs[0].SessionID)
	assert.Equal(t, req.DataHash, logs[0].SessionHash)
	assert.Equal(t, 123, logs[0].DurationMinutes)
	assert.Equal(t, 30.75, logs[0].CreditAmount)
	// raw identifiers never appear in the ledger payload
	assert.NotEqual(t, "student-1", logs[0].StudentIDHash)
	assert.NotEqual(t, "senior-1", logs[0].SeniorIDHash)
}

func TestCreateRequiresCompletedSession(t *testing.T) {
	f := newFixture(t)
	sess := f.completedSession(t)
	sess.Status = session.StatusInProgress

	_, err := f.svc.Create(context.Background(), sess)
	assert.Error(t, err)
}

func TestCreateSecondRequestForSameSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.completedSession(t)

	_, err := f.svc.Create(ctx, sess)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, sess)
	assert.Error(t, err)
}

func TestSubmitRejectsOutsiders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.svc.Create(ctx, f.completedSession(t))
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, req.ID, "stranger", sign(f.studentKey, req.DataHash))
	assert.ErrorIs(t, err, ErrNotAParticipant)
}

func TestSubmitRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.svc.Create(ctx, f.completedSession(t))
	require.NoError(t, err)

	// senior key signing for the student does not verify
	_, err = f.svc.Submit(ctx, req.ID, "student-1", sign(f.seniorKey, req.DataHash))
	assert.ErrorIs(t, err, ErrBadSignature)

	// signature over different data does not verify
	_, err = f.svc.Submit(ctx, req.ID, "student-1", sign(f.studentKey, "other data"))
	assert.ErrorIs(t, err, ErrBadSignature)

	// garbage encoding
	_, err = f.svc.Submit(ctx, req.ID, "student-1", "not hex")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestSubmitIdempotentPerParty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.svc.Create(ctx, f.completedSession(t))
	require.NoError(t, err)

	first := sign(f.studentKey, req.DataHash)
	req, err = f.svc.Submit(ctx, req.ID, "student-1", first)
	require.NoError(t, err)

	req, err = f.svc.Submit(ctx, req.ID, "student-1", first)
	require.NoError(t, err)
	assert.Equal(t, first, req.StudentSignature)
	assert.Equal(t, ledger.SignaturePending, req.Status)
}

func TestSubmitAfterDeadlineExpiresRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.completedSession(t)
	req, err := f.svc.Create(ctx, sess)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return req.ExpiresAt.Add(time.Minute) }
	_, err = f.svc.Submit(ctx, req.ID, "student-1", sign(f.studentKey, req.DataHash))
	assert.ErrorIs(t, err, ErrAlreadyExpired)

	stored, err := f.store.GetSignatureRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.SignatureExpired, stored.Status)

	// the late submit carries the full expiry side effects
	assert.Equal(t, "signature window expired", f.blocker.blocked[sess.ID])
	assert.Equal(t, 2, f.recorder.CountKind(notify.KindSignatureExpired))
	assert.Equal(t, 1, f.recorder.CountKind(notify.KindAdminAlert))

	// a later sweep neither re-expires nor re-notifies
	expired, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)
	assert.Equal(t, 2, f.recorder.CountKind(notify.KindSignatureExpired))
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.completedSession(t)
	req, err := f.svc.Create(ctx, sess)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return req.ExpiresAt.Add(time.Hour) }

	expired, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{req.ID}, expired)

	// both parties plus admin notified exactly once
	assert.Equal(t, 2, f.recorder.CountKind(notify.KindSignatureExpired))
	assert.Equal(t, 1, f.recorder.CountKind(notify.KindAdminAlert))
	assert.Equal(t, "signature window expired", f.blocker.blocked[sess.ID])

	// second sweep finds nothing and re-notifies nobody
	expired, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)
	assert.Equal(t, 2, f.recorder.CountKind(notify.KindSignatureExpired))

	// late signature is refused
	_, err = f.svc.Submit(ctx, req.ID, "student-1", sign(f.studentKey, req.DataHash))
	assert.ErrorIs(t, err, ErrAlreadyExpired)
}

func TestReplayUncommittedRequeuesDroppedLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.completedSession(t)
	req, err := f.svc.Create(ctx, sess)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, req.ID, "student-1", sign(f.studentKey, req.DataHash))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, req.ID, "senior-1", sign(f.seniorKey, req.DataHash))
	require.NoError(t, err)

	// collected but no ledger transaction recorded: the replay re-drives it
	replayed, err := f.svc.ReplayUncommitted(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{sess.ID}, replayed)
	assert.Len(t, f.committer.all(), 2)

	// once a transaction exists the log is left alone
	_, err = f.store.CreateTransaction(ctx, ledger.Transaction{
		SessionID:   sess.ID,
		SessionHash: req.DataHash,
		Status:      ledger.TxPending,
	})
	require.NoError(t, err)

	replayed, err = f.svc.ReplayUncommitted(ctx)
	require.NoError(t, err)
	assert.Empty(t, replayed)
	assert.Len(t, f.committer.all(), 2)
}

func TestSubmitAfterCollected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.svc.Create(ctx, f.completedSession(t))
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, req.ID, "student-1", sign(f.studentKey, req.DataHash))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, req.ID, "senior-1", sign(f.seniorKey, req.DataHash))
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, req.ID, "student-1", sign(f.studentKey, req.DataHash))
	assert.ErrorIs(t, err, ErrAlreadyCollected)

	logs := f.committer.all()
	assert.Len(t, logs, 1)
}
