package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/twistedwarden/esm-v3-sub005/internal/db"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
)

const paymentColumns = `id, application_id, attempt, method, reservation_id, amount, status,
		checkout_session_id, checkout_url, transaction_id, receipt_ref, disbursed_by, failure_reason,
		retry_count, superseded_by, created_at, updated_at, completed_at, version`

// SQLitePaymentRepo implements PaymentRepo using a SQLite database.
type SQLitePaymentRepo struct {
	db db.DBTX
}

func NewSQLitePaymentRepo(db db.DBTX) *SQLitePaymentRepo {
	return &SQLitePaymentRepo{db: db}
}

func (r *SQLitePaymentRepo) Create(ctx context.Context, p *domain.PaymentRecord) error {
	if p.Version == 0 {
		p.Version = 1
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO payment_records (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.ApplicationID,
		p.Attempt,
		string(p.Method),
		p.ReservationID,
		p.Amount,
		string(p.Status),
		p.CheckoutSessionID,
		p.CheckoutURL,
		p.TransactionID,
		p.ReceiptRef,
		p.DisbursedBy,
		p.FailureReason,
		p.RetryCount,
		p.SupersededBy,
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
		nullableTimeToString(p.CompletedAt),
		p.Version,
	)
	if err != nil {
		return fmt.Errorf("inserting payment record: %w", err)
	}
	return nil
}

func (r *SQLitePaymentRepo) GetByID(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	return r.getOne(ctx, "payment "+id, `WHERE id = ?`, id)
}

func (r *SQLitePaymentRepo) LatestByApplication(ctx context.Context, applicationID string) (*domain.PaymentRecord, error) {
	return r.getOne(ctx, "payment for application "+applicationID,
		`WHERE application_id = ? ORDER BY attempt DESC LIMIT 1`, applicationID)
}

func (r *SQLitePaymentRepo) GetBySessionID(ctx context.Context, sessionID string) (*domain.PaymentRecord, error) {
	return r.getOne(ctx, "payment for session "+sessionID,
		`WHERE checkout_session_id = ? AND checkout_session_id != '' ORDER BY attempt DESC LIMIT 1`, sessionID)
}

func (r *SQLitePaymentRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.PaymentRecord, error) {
	return r.getOne(ctx, "payment for transaction "+transactionID,
		`WHERE transaction_id = ? AND transaction_id != '' ORDER BY attempt DESC LIMIT 1`, transactionID)
}

func (r *SQLitePaymentRepo) GetByReservationID(ctx context.Context, reservationID string) (*domain.PaymentRecord, error) {
	return r.getOne(ctx, "payment for reservation "+reservationID,
		`WHERE reservation_id = ? ORDER BY attempt DESC LIMIT 1`, reservationID)
}

func (r *SQLitePaymentRepo) getOne(ctx context.Context, what, clause string, args ...any) (*domain.PaymentRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payment_records `+clause, args...)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFound(err, what)
	}
	return p, nil
}

// ListByApplication returns attempts in order.
func (r *SQLitePaymentRepo) ListByApplication(ctx context.Context, applicationID string) ([]*domain.PaymentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payment_records
		WHERE application_id = ? ORDER BY attempt`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("listing payment records: %w", err)
	}
	defer rows.Close()

	var out []*domain.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning payment record: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLitePaymentRepo) Update(ctx context.Context, p *domain.PaymentRecord) error {
	res, err := r.db.ExecContext(ctx, `UPDATE payment_records SET status = ?,
		checkout_session_id = ?, checkout_url = ?, transaction_id = ?, receipt_ref = ?,
		disbursed_by = ?, failure_reason = ?, retry_count = ?, superseded_by = ?,
		updated_at = ?, completed_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(p.Status),
		p.CheckoutSessionID,
		p.CheckoutURL,
		p.TransactionID,
		p.ReceiptRef,
		p.DisbursedBy,
		p.FailureReason,
		p.RetryCount,
		p.SupersededBy,
		formatTime(p.UpdatedAt),
		nullableTimeToString(p.CompletedAt),
		p.ID,
		p.Version,
	)
	if err != nil {
		return fmt.Errorf("updating payment record: %w", err)
	}
	if err := expectOneRow(res, "payment", p.ID); err != nil {
		return err
	}
	p.Version++
	return nil
}

func scanPayment(row rowScanner) (*domain.PaymentRecord, error) {
	var p domain.PaymentRecord
	var method, status, createdAt, updatedAt string
	var completedAt sql.NullString
	err := row.Scan(
		&p.ID, &p.ApplicationID, &p.Attempt, &method, &p.ReservationID, &p.Amount, &status,
		&p.CheckoutSessionID, &p.CheckoutURL, &p.TransactionID, &p.ReceiptRef, &p.DisbursedBy, &p.FailureReason,
		&p.RetryCount, &p.SupersededBy, &createdAt, &updatedAt, &completedAt, &p.Version,
	)
	if err != nil {
		return nil, err
	}
	p.Method = domain.PaymentMethod(method)
	p.Status = domain.PaymentStatus(status)
	p.CompletedAt = parseNullableTime(completedAt)
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}
