package verification

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RossBrod/CareCred/internal/chain"
	"github.com/RossBrod/CareCred/internal/domain/ledger"
	"github.com/RossBrod/CareCred/internal/domain/session"
	"github.com/RossBrod/CareCred/internal/geo"
	"github.com/RossBrod/CareCred/internal/identity"
	"github.com/RossBrod/CareCred/internal/privacy"
	"github.com/RossBrod/CareCred/internal/services/signatures"
	"github.com/RossBrod/CareCred/internal/storage/memory"
)

type fixture struct {
	svc        *Service
	store      *memory.Store
	ledger     *chain.MemoryLedger
	hasher     *privacy.Hasher
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
		ledger:     chain.NewMemoryLedger(),
		hasher:     hasher,
		studentKey: studentKey,
		seniorKey:  seniorKey,
	}
	f.svc = New(f.store, f.ledger, hasher, directory, Config{ConfirmationThreshold: 3}, nil)
	return f
}

// settle walks a completed session through signing and ledger commitment,
// leaving it with the given confirmation count.
func (f *fixture) settle(t *testing.T, confirmations int) session.Session {
	t.Helper()
	ctx := context.Background()

	checkIn := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	sess, err := f.store.CreateSession(ctx, session.Session{
		StudentID:           "student-1",
		SeniorID:            "senior-1",
		Type:                session.TypeTechnologyHelp,
		Status:              session.StatusCompleted,
		CheckInTime:         checkIn,
		CheckOutTime:        checkIn.Add(2 * time.Hour),
		CheckInLocation:     geo.Location{Latitude: 40.7128, Longitude: -74.0060, AccuracyMeters: 5},
		ActualDurationHours: 2,
		HourlyRate:          15.00,
		CreditAmount:        30.00,
	})
	require.NoError(t, err)

	dataHash := f.hasher.SessionHash(signatures.SessionDataFrom(sess))
	req, err := f.store.CreateSignatureRequest(ctx, ledger.SignatureRequest{
		SessionID:        sess.ID,
		StudentID:        "student-1",
		SeniorID:         "senior-1",
		DataHash:         dataHash,
		StudentSignature: hex.EncodeToString(ed25519.Sign(f.studentKey, []byte(dataHash))),
		SeniorSignature:  hex.EncodeToString(ed25519.Sign(f.seniorKey, []byte(dataHash))),
		Status:           ledger.SignatureCollected,
		ExpiresAt:        checkIn.Add(26 * time.Hour),
	})
	require.NoError(t, err)

	receipt, err := f.ledger.Submit(ctx, chain.Record{
		SessionHash:  dataHash,
		CreditAmount: sess.CreditAmount,
	})
	require.NoError(t, err)

	_, err = f.store.CreateTransaction(ctx, ledger.Transaction{
		SessionID:     sess.ID,
		SessionHash:   req.DataHash,
		TxID:          receipt.TxID,
		BlockNumber:   receipt.BlockNumber,
		Confirmations: confirmations,
		Status:        ledger.TxPending,
	})
	require.NoError(t, err)
	return sess
}

func TestVerifyAllChecksPass(t *testing.T) {
	f := newFixture(t)
	sess := f.settle(t, 3)

	result, err := f.svc.Verify(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.True(t, result.IntegrityCheck)
	assert.True(t, result.SignaturesOK)
	assert.True(t, result.CreditEligible)
	assert.True(t, result.OK())
	assert.Empty(t, result.Details)
	assert.Equal(t, 3, result.Confirmations)
}

func TestVerifyDetectsTamperedSession(t *testing.T) {
	f := newFixture(t)
	sess := f.settle(t, 3)
	ctx := context.Background()

	// inflate the credit amount after settlement
	stored, err := f.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	stored.CreditAmount = 300.00
	_, err = f.store.UpdateSession(ctx, stored)
	require.NoError(t, err)

	result, err := f.svc.Verify(ctx, sess.ID)
	require.NoError(t, err)

	assert.False(t, result.IntegrityCheck)
	assert.True(t, result.SignaturesOK)
	assert.NotEmpty(t, result.Details)
}

func TestVerifyDetectsBadSignature(t *testing.T) {
	f := newFixture(t)
	sess := f.settle(t, 3)
	ctx := context.Background()

	req, err := f.store.GetSignatureRequestBySession(ctx, sess.ID)
	require.NoError(t, err)
	req.SeniorSignature = hex.EncodeToString(ed25519.Sign(f.seniorKey, []byte("different data")))
	_, err = f.store.UpdateSignatureRequest(ctx, req)
	require.NoError(t, err)

	result, err := f.svc.Verify(ctx, sess.ID)
	require.NoError(t, err)

	assert.True(t, result.IntegrityCheck)
	assert.False(t, result.SignaturesOK)
	assert.Contains(t, result.Details, "senior signature does not verify")
}

func TestVerifyInsufficientConfirmations(t *testing.T) {
	f := newFixture(t)
	sess := f.settle(t, 1)

	result, err := f.svc.Verify(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.True(t, result.IntegrityCheck)
	assert.True(t, result.SignaturesOK)
	assert.False(t, result.CreditEligible)
	assert.False(t, result.OK())
}

func TestVerifyBlockedCredit(t *testing.T) {
	f := newFixture(t)
	sess := f.settle(t, 3)
	ctx := context.Background()

	stored, err := f.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	stored.CreditBlocked = true
	stored.BlockReason = "signature window expired"
	_, err = f.store.UpdateSession(ctx, stored)
	require.NoError(t, err)

	result, err := f.svc.Verify(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, result.CreditEligible)
}

func TestVerifyNoTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.store.CreateSession(ctx, session.Session{
		StudentID: "student-1",
		SeniorID:  "senior-1",
		Status:    session.StatusCompleted,
	})
	require.NoError(t, err)

	result, err := f.svc.Verify(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, result.OK())
	assert.Contains(t, result.Details, "no ledger transaction recorded for session")
}

func TestVerifyUnknownSessionIsError(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Verify(context.Background(), "missing")
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
}

func TestVerifyLedgerOutageIsError(t *testing.T) {
	f := newFixture(t)
	sess := f.settle(t, 3)

	f.ledger.Fail(1, &chain.Error{Op: "ledger_getRecord", Message: "node unreachable", Transient: true})

	_, err := f.svc.Verify(context.Background(), sess.ID)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, sess.ID, verr.SessionID)
	assert.True(t, chain.IsTransient(verr.Err))
}

func TestBatchVerifyRecordsLedgerOutage(t *testing.T) {
	f := newFixture(t)
	first := f.settle(t, 3)

	f.ledger.Fail(1, &chain.Error{Op: "ledger_getRecord", Message: "node unreachable", Transient: true})

	results := f.svc.BatchVerify(context.Background(), []string{first.ID, first.ID})
	require.Len(t, results, 2)

	assert.False(t, results[0].OK())
	require.NotEmpty(t, results[0].Details)
	assert.Contains(t, results[0].Details[0], "verification error")

	// outage over, the same session verifies clean
	assert.True(t, results[1].OK())
}

func TestBatchVerifyPreservesOrderAndSurvivesFailures(t *testing.T) {
	f := newFixture(t)
	first := f.settle(t, 3)

	results := f.svc.BatchVerify(context.Background(), []string{first.ID, "missing", first.ID})
	require.Len(t, results, 3)

	assert.Equal(t, first.ID, results[0].SessionID)
	assert.True(t, results[0].OK())

	assert.Equal(t, "missing", results[1].SessionID)
	assert.False(t, results[1].OK())
	require.NotEmpty(t, results[1].Details)
	assert.Contains(t, results[1].Details[0], "verification error")

	assert.True(t, results[2].OK())
}

func TestIsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dup, err := f.svc.IsDuplicate(ctx, "nothing-yet")
	require.NoError(t, err)
	assert.False(t, dup)

	sess := f.settle(t, 0)
	dup, err = f.svc.IsDuplicate(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, dup)
}
