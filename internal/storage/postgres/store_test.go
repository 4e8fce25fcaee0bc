package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/RossBrod/CareCred/internal/domain/credit"
	"github.com/RossBrod/CareCred/internal/domain/ledger"
	"github.com/RossBrod/CareCred/internal/domain/session"
	"github.com/RossBrod/CareCred/internal/geo"
	"github.com/RossBrod/CareCred/internal/storage"
)

// openTestStore connects to the database named by CARECRED_TEST_DATABASE_URL
// and applies the schema. Tests are skipped when the variable is unset so the
// suite stays runnable without a local postgres.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	_ = godotenv.Load("../../../.env")
	dsn := os.Getenv("CARECRED_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CARECRED_TEST_DATABASE_URL not set")
	}

	store, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	schema, err := os.ReadFile("schema.sql")
	require.NoError(t, err)
	_, err = store.db.ExecContext(context.Background(), string(schema))
	require.NoError(t, err)
	return store
}

func testSession() session.Session {
	start := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	return session.Session{
		StudentID:      uuid.NewString(),
		SeniorID:       uuid.NewString(),
		Type:           session.TypeGroceryShopping,
		Status:         session.StatusScheduled,
		Title:          "weekly groceries",
		ScheduledStart: start,
		ScheduledEnd:   start.Add(2 * time.Hour),
		HourlyRate:     15.00,
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.CreateSession(ctx, testSession())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, 1, created.Version)

	created.Status = session.StatusCheckedIn
	created.CheckInTime = time.Now().UTC().Truncate(time.Second)
	created.CheckInLocation = geo.Location{Latitude: 40.7128, Longitude: -74.0060, AccuracyMeters: 10}
	created.BonusTags = []string{"weekend"}
	updated, err := store.UpdateSession(ctx, created)
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version)

	got, err := store.GetSession(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusCheckedIn, got.Status)
	require.Equal(t, created.CheckInTime, got.CheckInTime.UTC())
	require.InDelta(t, 40.7128, got.CheckInLocation.Latitude, 1e-9)
	require.Equal(t, []string{"weekend"}, got.BonusTags)
}

func TestSessionVersionConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.CreateSession(ctx, testSession())
	require.NoError(t, err)

	first := created
	first.Title = "first writer"
	_, err = store.UpdateSession(ctx, first)
	require.NoError(t, err)

	second := created
	second.Title = "second writer"
	_, err = store.UpdateSession(ctx, second)
	require.ErrorIs(t, err, storage.ErrVersionConflict)
}

func TestGetSessionNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetSession(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListSessionsByStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sess := testSession()
	sess.Status = session.StatusDisputed
	created, err := store.CreateSession(ctx, sess)
	require.NoError(t, err)

	listed, err := store.ListSessionsByStatus(ctx, session.StatusDisputed)
	require.NoError(t, err)
	ids := make([]string, 0, len(listed))
	for _, s := range listed {
		require.Equal(t, session.StatusDisputed, s.Status)
		ids = append(ids, s.ID)
	}
	require.Contains(t, ids, created.ID)
}

func TestSignatureRequestPerSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, testSession())
	require.NoError(t, err)

	req := ledger.SignatureRequest{
		SessionID: sess.ID,
		StudentID: sess.StudentID,
		SeniorID:  sess.SeniorID,
		DataHash:  fmt.Sprintf("%064x", 1),
		Status:    ledger.SignaturePending,
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}
	created, err := store.CreateSignatureRequest(ctx, req)
	require.NoError(t, err)

	_, err = store.CreateSignatureRequest(ctx, req)
	require.ErrorIs(t, err, storage.ErrDuplicate)

	got, err := store.GetSignatureRequestBySession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, ledger.SignaturePending, got.Status)
}

func TestLedgerTransactionPerSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, testSession())
	require.NoError(t, err)

	tx := ledger.Transaction{
		SessionID:   sess.ID,
		SessionHash: fmt.Sprintf("%064x", 2),
		Status:      ledger.TxPending,
		Log:         ledger.SessionLog{SessionID: sess.ID, TaskType: string(sess.Type)},
	}
	_, err = store.CreateTransaction(ctx, tx)
	require.NoError(t, err)

	_, err = store.CreateTransaction(ctx, tx)
	require.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestEarnedCreditOncePerSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	acct, err := store.CreateCreditAccount(ctx, credit.Account{StudentID: uuid.NewString()})
	require.NoError(t, err)

	sessionID := uuid.NewString()
	tx := credit.Transaction{
		AccountID: acct.ID,
		StudentID: acct.StudentID,
		SessionID: sessionID,
		Type:      credit.TxEarned,
		Status:    credit.StatusCompleted,
		Amount:    30.75,
	}
	_, err = store.CreateCreditTransaction(ctx, tx)
	require.NoError(t, err)

	_, err = store.CreateCreditTransaction(ctx, tx)
	require.ErrorIs(t, err, storage.ErrDuplicate)

	// Adjustments on the same session are not capped.
	tx.Type = credit.TxAdjustment
	_, err = store.CreateCreditTransaction(ctx, tx)
	require.NoError(t, err)

	history, err := store.ListCreditTransactionsBySession(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestAlertLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, testSession())
	require.NoError(t, err)

	alert, err := store.CreateAlert(ctx, session.Alert{
		SessionID: sess.ID,
		Kind:      session.AlertOvertime,
		Severity:  session.SeverityHigh,
		Message:   "session running past scheduled end",
	})
	require.NoError(t, err)

	open, err := store.ListAlertsBySession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)

	alert.Resolved = true
	alert.ResolvedAt = time.Now().UTC()
	alert.ResolvedBy = "admin-1"
	_, err = store.UpdateAlert(ctx, alert)
	require.NoError(t, err)

	after, err := store.ListAlertsBySession(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, after[0].Resolved)
}
