package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/twistedwarden/esm-v3-sub005/internal/db"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
)

const reservationColumns = `id, budget_type, school_year, application_id, amount, status, created_at, resolved_at`

// SQLiteReservationRepo implements ReservationRepo using a SQLite database.
type SQLiteReservationRepo struct {
	db db.DBTX
}

func NewSQLiteReservationRepo(db db.DBTX) *SQLiteReservationRepo {
	return &SQLiteReservationRepo{db: db}
}

func (r *SQLiteReservationRepo) Create(ctx context.Context, res *domain.Reservation) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO budget_reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.Bucket.BudgetType, res.Bucket.SchoolYear, res.ApplicationID, res.Amount,
		string(res.Status), formatTime(res.CreatedAt), nullableTimeToString(res.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting reservation: %w", err)
	}
	return nil
}

func (r *SQLiteReservationRepo) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM budget_reservations WHERE id = ?`, id)
	res, err := scanReservation(row)
	if err != nil {
		return nil, notFound(err, "reservation "+id)
	}
	return res, nil
}

// Resolve moves a held reservation to its final status. A row that is no
// longer held yields ErrConcurrentUpdate.
func (r *SQLiteReservationRepo) Resolve(ctx context.Context, res *domain.Reservation) error {
	result, err := r.db.ExecContext(ctx, `UPDATE budget_reservations SET status = ?, resolved_at = ?
		WHERE id = ? AND status = 'held'`,
		string(res.Status), nullableTimeToString(res.ResolvedAt), res.ID)
	if err != nil {
		return fmt.Errorf("resolving reservation: %w", err)
	}
	return expectOneRow(result, "reservation", res.ID)
}

func (r *SQLiteReservationRepo) ListHeldBefore(ctx context.Context, cutoff time.Time) ([]*domain.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+reservationColumns+` FROM budget_reservations
		WHERE status = 'held' AND created_at < ? ORDER BY created_at`, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("listing held reservations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func scanReservation(row rowScanner) (*domain.Reservation, error) {
	var res domain.Reservation
	var status, createdAt string
	var resolvedAt sql.NullString
	err := row.Scan(&res.ID, &res.Bucket.BudgetType, &res.Bucket.SchoolYear, &res.ApplicationID,
		&res.Amount, &status, &createdAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	res.Status = domain.ReservationStatus(status)
	res.ResolvedAt = parseNullableTime(resolvedAt)
	if res.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &res, nil
}
