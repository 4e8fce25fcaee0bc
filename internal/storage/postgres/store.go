// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/RossBrod/CareCred/internal/domain/credit"
	"github.com/RossBrod/CareCred/internal/domain/ledger"
	"github.com/RossBrod/CareCred/internal/domain/session"
	"github.com/RossBrod/CareCred/internal/geo"
	"github.com/RossBrod/CareCred/internal/storage"
)

// Store implements the storage interfaces over a database handle.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL with the given DSN.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return New(db), nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

// --- SessionStore -----------------------------------------------------------

const sessionColumns = `id, student_id, senior_id, session_type, status, title, description,
	scheduled_start, scheduled_end, check_in_time, check_out_time,
	check_in_location, check_out_location, actual_duration_hours, hourly_rate,
	credit_amount, bonus_tags, student_rating, senior_rating, student_review,
	senior_review, cancel_reason, cancelled_by, dispute_cause, transaction_id,
	block_number, confirmations, blockchain_verified, credit_blocked,
	block_reason, version, created_at, updated_at`

func (s *Store) CreateSession(ctx context.Context, sess session.Session) (session.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sess.Version = 1
	sess.CreatedAt = now
	sess.UpdatedAt = now

	checkIn, checkOut, bonusTags, err := marshalSessionJSON(sess)
	if err != nil {
		return session.Session{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27,
			$28, $29, $30, $31, $32, $33)
	`, sess.ID, sess.StudentID, sess.SeniorID, sess.Type, sess.Status, sess.Title,
		sess.Description, toNullTime(sess.ScheduledStart), toNullTime(sess.ScheduledEnd),
		toNullTime(sess.CheckInTime), toNullTime(sess.CheckOutTime), checkIn, checkOut,
		sess.ActualDurationHours, sess.HourlyRate, sess.CreditAmount, bonusTags,
		sess.StudentRating, sess.SeniorRating, sess.StudentReview, sess.SeniorReview,
		sess.CancelReason, sess.CancelledBy, sess.DisputeCause, sess.TransactionID,
		sess.BlockNumber, sess.Confirmations, sess.BlockchainVerified,
		sess.CreditBlocked, sess.BlockReason, sess.Version, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return session.Session{}, storage.ErrDuplicate
		}
		return session.Session{}, err
	}
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess session.Session) (session.Session, error) {
	checkIn, checkOut, bonusTags, err := marshalSessionJSON(sess)
	if err != nil {
		return session.Session{}, err
	}

	previous := sess.Version
	sess.Version++
	sess.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET session_type = $3, status = $4, title = $5, description = $6,
			scheduled_start = $7, scheduled_end = $8, check_in_time = $9,
			check_out_time = $10, check_in_location = $11, check_out_location = $12,
			actual_duration_hours = $13, hourly_rate = $14, credit_amount = $15,
			bonus_tags = $16, student_rating = $17, senior_rating = $18,
			student_review = $19, senior_review = $20, cancel_reason = $21,
			cancelled_by = $22, dispute_cause = $23, transaction_id = $24,
			block_number = $25, confirmations = $26, blockchain_verified = $27,
			credit_blocked = $28, block_reason = $29, version = $30, updated_at = $31
		WHERE id = $1 AND version = $2
	`, sess.ID, previous, sess.Type, sess.Status, sess.Title, sess.Description,
		toNullTime(sess.ScheduledStart), toNullTime(sess.ScheduledEnd),
		toNullTime(sess.CheckInTime), toNullTime(sess.CheckOutTime), checkIn, checkOut,
		sess.ActualDurationHours, sess.HourlyRate, sess.CreditAmount, bonusTags,
		sess.StudentRating, sess.SeniorRating, sess.StudentReview, sess.SeniorReview,
		sess.CancelReason, sess.CancelledBy, sess.DisputeCause, sess.TransactionID,
		sess.BlockNumber, sess.Confirmations, sess.BlockchainVerified,
		sess.CreditBlocked, sess.BlockReason, sess.Version, sess.UpdatedAt)
	if err != nil {
		return session.Session{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, getErr := s.GetSession(ctx, sess.ID); getErr != nil {
			return session.Session{}, getErr
		}
		return session.Session{}, storage.ErrVersionConflict
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err != nil {
		return session.Session{}, mapNotFound(err)
	}
	return sess, nil
}

func (s *Store) ListSessionsByStatus(ctx context.Context, statuses ...session.Status) ([]session.Session, error) {
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE cardinality($1::text[]) = 0 OR status = ANY($1)
		ORDER BY created_at
	`, pq.Array(values))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSessions(rows)
}

func (s *Store) ListSessionsByParticipant(ctx context.Context, participantID string, limit int) ([]session.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE student_id = $1 OR senior_id = $1
		ORDER BY created_at
		LIMIT $2
	`, participantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSessions(rows)
}

func marshalSessionJSON(sess session.Session) (checkIn, checkOut, bonusTags []byte, err error) {
	if !sess.CheckInLocation.IsZero() {
		if checkIn, err = json.Marshal(sess.CheckInLocation); err != nil {
			return nil, nil, nil, err
		}
	}
	if !sess.CheckOutLocation.IsZero() {
		if checkOut, err = json.Marshal(sess.CheckOutLocation); err != nil {
			return nil, nil, nil, err
		}
	}
	if len(sess.BonusTags) > 0 {
		if bonusTags, err = json.Marshal(sess.BonusTags); err != nil {
			return nil, nil, nil, err
		}
	}
	return checkIn, checkOut, bonusTags, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (session.Session, error) {
	var (
		sess                               session.Session
		scheduledStart, scheduledEnd       sql.NullTime
		checkInTime, checkOutTime          sql.NullTime
		checkInRaw, checkOutRaw, bonusTags []byte
	)
	err := row.Scan(&sess.ID, &sess.StudentID, &sess.SeniorID, &sess.Type,
		&sess.Status, &sess.Title, &sess.Description, &scheduledStart, &scheduledEnd,
		&checkInTime, &checkOutTime, &checkInRaw, &checkOutRaw,
		&sess.ActualDurationHours, &sess.HourlyRate, &sess.CreditAmount, &bonusTags,
		&sess.StudentRating, &sess.SeniorRating, &sess.StudentReview, &sess.SeniorReview,
		&sess.CancelReason, &sess.CancelledBy, &sess.DisputeCause, &sess.TransactionID,
		&sess.BlockNumber, &sess.Confirmations, &sess.BlockchainVerified,
		&sess.CreditBlocked, &sess.BlockReason, &sess.Version, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return session.Session{}, err
	}

	sess.ScheduledStart = fromNullTime(scheduledStart)
	sess.ScheduledEnd = fromNullTime(scheduledEnd)
	sess.CheckInTime = fromNullTime(checkInTime)
	sess.CheckOutTime = fromNullTime(checkOutTime)
	if len(checkInRaw) > 0 {
		var loc geo.Location
		if err := json.Unmarshal(checkInRaw, &loc); err == nil {
			sess.CheckInLocation = loc
		}
	}
	if len(checkOutRaw) > 0 {
		var loc geo.Location
		if err := json.Unmarshal(checkOutRaw, &loc); err == nil {
			sess.CheckOutLocation = loc
		}
	}
	if len(bonusTags) > 0 {
		_ = json.Unmarshal(bonusTags, &sess.BonusTags)
	}
	return sess, nil
}

func collectSessions(rows *sql.Rows) ([]session.Session, error) {
	var out []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// --- SignatureStore ---------------------------------------------------------

const signatureColumns = `id, session_id, student_id, senior_id, data_hash,
	student_signature, senior_signature, student_signed_at, senior_signed_at,
	status, expires_at, completed_at, notification_sent, version, created_at, updated_at`

func (s *Store) CreateSignatureRequest(ctx context.Context, r ledger.SignatureRequest) (ledger.SignatureRequest, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signature_requests (`+signatureColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, r.ID, r.SessionID, r.StudentID, r.SeniorID, r.DataHash,
		r.StudentSignature, r.SeniorSignature, toNullTime(r.StudentSignedAt),
		toNullTime(r.SeniorSignedAt), r.Status, r.ExpiresAt.UTC(),
		toNullTime(r.CompletedAt), r.NotificationSent, r.Version, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.SignatureRequest{}, storage.ErrDuplicate
		}
		return ledger.SignatureRequest{}, err
	}
	return r, nil
}

func (s *Store) UpdateSignatureRequest(ctx context.Context, r ledger.SignatureRequest) (ledger.SignatureRequest, error) {
	previous := r.Version
	r.Version++
	r.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE signature_requests
		SET student_signature = $3, senior_signature = $4, student_signed_at = $5,
			senior_signed_at = $6, status = $7, completed_at = $8,
			notification_sent = $9, version = $10, updated_at = $11
		WHERE id = $1 AND version = $2
	`, r.ID, previous, r.StudentSignature, r.SeniorSignature,
		toNullTime(r.StudentSignedAt), toNullTime(r.SeniorSignedAt), r.Status,
		toNullTime(r.CompletedAt), r.NotificationSent, r.Version, r.UpdatedAt)
	if err != nil {
		return ledger.SignatureRequest{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, getErr := s.GetSignatureRequest(ctx, r.ID); getErr != nil {
			return ledger.SignatureRequest{}, getErr
		}
		return ledger.SignatureRequest{}, storage.ErrVersionConflict
	}
	return r, nil
}

func (s *Store) GetSignatureRequest(ctx context.Context, id string) (ledger.SignatureRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+signatureColumns+` FROM signature_requests WHERE id = $1`, id)
	r, err := scanSignatureRequest(row)
	if err != nil {
		return ledger.SignatureRequest{}, mapNotFound(err)
	}
	return r, nil
}

func (s *Store) GetSignatureRequestBySession(ctx context.Context, sessionID string) (ledger.SignatureRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+signatureColumns+` FROM signature_requests WHERE session_id = $1`, sessionID)
	r, err := scanSignatureRequest(row)
	if err != nil {
		return ledger.SignatureRequest{}, mapNotFound(err)
	}
	return r, nil
}

func (s *Store) ListExpirablePending(ctx context.Context, deadline time.Time) ([]ledger.SignatureRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+signatureColumns+` FROM signature_requests
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at
	`, deadline.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.SignatureRequest
	for rows.Next() {
		r, err := scanSignatureRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListUncommittedCollected(ctx context.Context) ([]ledger.SignatureRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+signatureColumns+` FROM signature_requests
		WHERE status = 'collected'
			AND NOT EXISTS (
				SELECT 1 FROM ledger_transactions t
				WHERE t.session_id = signature_requests.session_id
			)
		ORDER BY completed_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.SignatureRequest
	for rows.Next() {
		r, err := scanSignatureRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanSignatureRequest(row rowScanner) (ledger.SignatureRequest, error) {
	var (
		r                             ledger.SignatureRequest
		studentSignedAt, seniorSigned sql.NullTime
		completedAt                   sql.NullTime
	)
	err := row.Scan(&r.ID, &r.SessionID, &r.StudentID, &r.SeniorID, &r.DataHash,
		&r.StudentSignature, &r.SeniorSignature, &studentSignedAt, &seniorSigned,
		&r.Status, &r.ExpiresAt, &completedAt, &r.NotificationSent, &r.Version,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return ledger.SignatureRequest{}, err
	}
	r.StudentSignedAt = fromNullTime(studentSignedAt)
	r.SeniorSignedAt = fromNullTime(seniorSigned)
	r.CompletedAt = fromNullTime(completedAt)
	r.ExpiresAt = r.ExpiresAt.UTC()
	return r, nil
}

// --- LedgerStore ------------------------------------------------------------

const ledgerTxColumns = `id, session_id, session_hash, tx_id, block_number,
	confirmations, status, retry_count, error_message, log, version,
	submitted_at, confirmed_at, created_at, updated_at`

func (s *Store) CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	tx.Version = 1
	tx.CreatedAt = now
	tx.UpdatedAt = now

	logJSON, err := json.Marshal(tx.Log)
	if err != nil {
		return ledger.Transaction{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_transactions (`+ledgerTxColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, tx.ID, tx.SessionID, tx.SessionHash, tx.TxID, tx.BlockNumber,
		tx.Confirmations, tx.Status, tx.RetryCount, tx.ErrorMessage, logJSON,
		tx.Version, toNullTime(tx.SubmittedAt), toNullTime(tx.ConfirmedAt),
		tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.Transaction{}, storage.ErrDuplicate
		}
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	previous := tx.Version
	tx.Version++
	tx.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE ledger_transactions
		SET tx_id = $3, block_number = $4, confirmations = $5, status = $6,
			retry_count = $7, error_message = $8, version = $9,
			submitted_at = $10, confirmed_at = $11, updated_at = $12
		WHERE id = $1 AND version = $2
	`, tx.ID, previous, tx.TxID, tx.BlockNumber, tx.Confirmations, tx.Status,
		tx.RetryCount, tx.ErrorMessage, tx.Version, toNullTime(tx.SubmittedAt),
		toNullTime(tx.ConfirmedAt), tx.UpdatedAt)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, getErr := s.GetTransaction(ctx, tx.ID); getErr != nil {
			return ledger.Transaction{}, getErr
		}
		return ledger.Transaction{}, storage.ErrVersionConflict
	}
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (ledger.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ledgerTxColumns+` FROM ledger_transactions WHERE id = $1`, id)
	tx, err := scanLedgerTransaction(row)
	if err != nil {
		return ledger.Transaction{}, mapNotFound(err)
	}
	return tx, nil
}

func (s *Store) GetTransactionBySession(ctx context.Context, sessionID string) (ledger.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ledgerTxColumns+` FROM ledger_transactions WHERE session_id = $1`, sessionID)
	tx, err := scanLedgerTransaction(row)
	if err != nil {
		return ledger.Transaction{}, mapNotFound(err)
	}
	return tx, nil
}

func (s *Store) ListPendingTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ledgerTxColumns+` FROM ledger_transactions
		WHERE status = 'pending'
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		tx, err := scanLedgerTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanLedgerTransaction(row rowScanner) (ledger.Transaction, error) {
	var (
		tx                       ledger.Transaction
		logRaw                   []byte
		submittedAt, confirmedAt sql.NullTime
	)
	err := row.Scan(&tx.ID, &tx.SessionID, &tx.SessionHash, &tx.TxID,
		&tx.BlockNumber, &tx.Confirmations, &tx.Status, &tx.RetryCount,
		&tx.ErrorMessage, &logRaw, &tx.Version, &submittedAt, &confirmedAt,
		&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if len(logRaw) > 0 {
		_ = json.Unmarshal(logRaw, &tx.Log)
	}
	tx.SubmittedAt = fromNullTime(submittedAt)
	tx.ConfirmedAt = fromNullTime(confirmedAt)
	return tx, nil
}

// --- CreditStore ------------------------------------------------------------

func (s *Store) CreateCreditAccount(ctx context.Context, acct credit.Account) (credit.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.Version = 1
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_accounts (id, student_id, total_earned, total_disbursed,
			pending, available, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, acct.ID, acct.StudentID, acct.TotalEarned, acct.TotalDisbursed,
		acct.Pending, acct.Available, acct.Version, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return credit.Account{}, storage.ErrDuplicate
		}
		return credit.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateCreditAccount(ctx context.Context, acct credit.Account) (credit.Account, error) {
	previous := acct.Version
	acct.Version++
	acct.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE credit_accounts
		SET total_earned = $3, total_disbursed = $4, pending = $5, available = $6,
			version = $7, updated_at = $8
		WHERE id = $1 AND version = $2
	`, acct.ID, previous, acct.TotalEarned, acct.TotalDisbursed, acct.Pending,
		acct.Available, acct.Version, acct.UpdatedAt)
	if err != nil {
		return credit.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return credit.Account{}, storage.ErrVersionConflict
	}
	return acct, nil
}

func (s *Store) GetCreditAccountByStudent(ctx context.Context, studentID string) (credit.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, total_earned, total_disbursed, pending, available,
			version, created_at, updated_at
		FROM credit_accounts WHERE student_id = $1
	`, studentID)

	var acct credit.Account
	err := row.Scan(&acct.ID, &acct.StudentID, &acct.TotalEarned,
		&acct.TotalDisbursed, &acct.Pending, &acct.Available, &acct.Version,
		&acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return credit.Account{}, mapNotFound(err)
	}
	return acct, nil
}

func (s *Store) CreateCreditTransaction(ctx context.Context, tx credit.Transaction) (credit.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, account_id, student_id, session_id,
			tx_type, status, amount, description, processed_by, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, tx.ID, tx.AccountID, tx.StudentID, tx.SessionID, tx.Type, tx.Status,
		tx.Amount, tx.Description, tx.ProcessedBy, tx.CreatedAt, toNullTime(tx.ProcessedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return credit.Transaction{}, storage.ErrDuplicate
		}
		return credit.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) ListCreditTransactions(ctx context.Context, accountID string, limit int) ([]credit.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, student_id, session_id, tx_type, status, amount,
			description, processed_by, created_at, processed_at
		FROM credit_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credit.Transaction
	for rows.Next() {
		var (
			tx          credit.Transaction
			processedAt sql.NullTime
		)
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.StudentID, &tx.SessionID,
			&tx.Type, &tx.Status, &tx.Amount, &tx.Description, &tx.ProcessedBy,
			&tx.CreatedAt, &processedAt); err != nil {
			return nil, err
		}
		tx.ProcessedAt = fromNullTime(processedAt)
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *Store) ListCreditTransactionsBySession(ctx context.Context, sessionID string) ([]credit.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, student_id, session_id, tx_type, status, amount,
			description, processed_by, created_at, processed_at
		FROM credit_transactions
		WHERE session_id = $1
		ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credit.Transaction
	for rows.Next() {
		var (
			tx          credit.Transaction
			processedAt sql.NullTime
		)
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.StudentID, &tx.SessionID,
			&tx.Type, &tx.Status, &tx.Amount, &tx.Description, &tx.ProcessedBy,
			&tx.CreatedAt, &processedAt); err != nil {
			return nil, err
		}
		tx.ProcessedAt = fromNullTime(processedAt)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// --- AlertStore -------------------------------------------------------------

func (s *Store) CreateAlert(ctx context.Context, a session.Alert) (session.Alert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_alerts (id, session_id, kind, severity, message,
			created_at, resolved, resolved_at, resolved_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.SessionID, a.Kind, a.Severity, a.Message, a.CreatedAt,
		a.Resolved, toNullTime(a.ResolvedAt), a.ResolvedBy)
	if err != nil {
		return session.Alert{}, err
	}
	return a, nil
}

func (s *Store) UpdateAlert(ctx context.Context, a session.Alert) (session.Alert, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE session_alerts
		SET severity = $2, message = $3, resolved = $4, resolved_at = $5, resolved_by = $6
		WHERE id = $1
	`, a.ID, a.Severity, a.Message, a.Resolved, toNullTime(a.ResolvedAt), a.ResolvedBy)
	if err != nil {
		return session.Alert{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return session.Alert{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListAlertsBySession(ctx context.Context, sessionID string) ([]session.Alert, error) {
	return s.queryAlerts(ctx, `
		SELECT id, session_id, kind, severity, message, created_at, resolved,
			resolved_at, resolved_by
		FROM session_alerts WHERE session_id = $1 ORDER BY created_at
	`, sessionID)
}

func (s *Store) ListOpenAlerts(ctx context.Context) ([]session.Alert, error) {
	return s.queryAlerts(ctx, `
		SELECT id, session_id, kind, severity, message, created_at, resolved,
			resolved_at, resolved_by
		FROM session_alerts WHERE NOT resolved ORDER BY created_at
	`)
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]session.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Alert
	for rows.Next() {
		var (
			a          session.Alert
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Kind, &a.Severity, &a.Message,
			&a.CreatedAt, &a.Resolved, &resolvedAt, &a.ResolvedBy); err != nil {
			return nil, err
		}
		a.ResolvedAt = fromNullTime(resolvedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
