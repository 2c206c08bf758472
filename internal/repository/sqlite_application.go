package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/twistedwarden/esm-v3-sub005/internal/db"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
)

// applicationColumns is the canonical SELECT column list for applications.
const applicationColumns = `id, student_id, program, school_year, type, requested_amount, approved_amount,
		status, held_from, review_cycle, revision_count,
		submitted_at, reviewed_at, approved_at, disbursed_at, closed_at, archived_at,
		created_at, updated_at, version`

// SQLiteApplicationRepo implements ApplicationRepo using a SQLite database.
type SQLiteApplicationRepo struct {
	db db.DBTX
}

// NewSQLiteApplicationRepo creates a new SQLiteApplicationRepo.
func NewSQLiteApplicationRepo(db db.DBTX) *SQLiteApplicationRepo {
	return &SQLiteApplicationRepo{db: db}
}

func (r *SQLiteApplicationRepo) Create(ctx context.Context, a *domain.Application) error {
	if a.Version == 0 {
		a.Version = 1
	}
	query := `INSERT INTO applications (` + applicationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.StudentID,
		a.Program,
		a.SchoolYear,
		string(a.Type),
		a.RequestedAmount,
		nullableInt64ToValue(a.ApprovedAmount),
		string(a.Status),
		heldFromValue(a.HeldFrom),
		a.ReviewCycle,
		a.RevisionCount,
		nullableTimeToString(a.SubmittedAt),
		nullableTimeToString(a.ReviewedAt),
		nullableTimeToString(a.ApprovedAt),
		nullableTimeToString(a.DisbursedAt),
		nullableTimeToString(a.ClosedAt),
		nullableTimeToString(a.ArchivedAt),
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
		a.Version,
	)
	if err != nil {
		return fmt.Errorf("inserting application: %w", err)
	}
	return nil
}

func (r *SQLiteApplicationRepo) GetByID(ctx context.Context, id string) (*domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = ?`
	a, err := scanApplication(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "application "+id)
	}
	return a, nil
}

func (r *SQLiteApplicationRepo) List(ctx context.Context, f ApplicationFilter) ([]*domain.Application, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.StudentID != "" {
		where = append(where, "student_id = ?")
		args = append(args, f.StudentID)
	}
	if f.Program != "" {
		where = append(where, "program = ?")
		args = append(args, f.Program)
	}
	if f.SchoolYear != "" {
		where = append(where, "school_year = ?")
		args = append(args, f.SchoolYear)
	}
	if !f.IncludeArchived {
		where = append(where, "archived_at IS NULL")
	}

	query := `SELECT ` + applicationColumns + ` FROM applications`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing applications: %w", err)
	}
	defer rows.Close()

	var apps []*domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning application: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// Update writes a only if the stored version still matches a.Version.
func (r *SQLiteApplicationRepo) Update(ctx context.Context, a *domain.Application) error {
	query := `UPDATE applications SET approved_amount = ?, status = ?, held_from = ?,
		review_cycle = ?, revision_count = ?,
		submitted_at = ?, reviewed_at = ?, approved_at = ?, disbursed_at = ?, closed_at = ?, archived_at = ?,
		updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`
	res, err := r.db.ExecContext(ctx, query,
		nullableInt64ToValue(a.ApprovedAmount),
		string(a.Status),
		heldFromValue(a.HeldFrom),
		a.ReviewCycle,
		a.RevisionCount,
		nullableTimeToString(a.SubmittedAt),
		nullableTimeToString(a.ReviewedAt),
		nullableTimeToString(a.ApprovedAt),
		nullableTimeToString(a.DisbursedAt),
		nullableTimeToString(a.ClosedAt),
		nullableTimeToString(a.ArchivedAt),
		formatTime(a.UpdatedAt),
		a.ID,
		a.Version,
	)
	if err != nil {
		return fmt.Errorf("updating application: %w", err)
	}
	if err := expectOneRow(res, "application", a.ID); err != nil {
		return err
	}
	a.Version++
	return nil
}

func heldFromValue(s *domain.ApplicationStatus) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func scanApplication(row rowScanner) (*domain.Application, error) {
	var a domain.Application
	var typ, status string
	var approved sql.NullInt64
	var heldFrom sql.NullString
	var submittedAt, reviewedAt, approvedAt, disbursedAt, closedAt, archivedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&a.ID, &a.StudentID, &a.Program, &a.SchoolYear, &typ, &a.RequestedAmount, &approved,
		&status, &heldFrom, &a.ReviewCycle, &a.RevisionCount,
		&submittedAt, &reviewedAt, &approvedAt, &disbursedAt, &closedAt, &archivedAt,
		&createdAt, &updatedAt, &a.Version,
	)
	if err != nil {
		return nil, err
	}

	a.Type = domain.ApplicationType(typ)
	a.Status = domain.ApplicationStatus(status)
	a.ApprovedAmount = parseNullableInt64(approved)
	if heldFrom.Valid && heldFrom.String != "" {
		h := domain.ApplicationStatus(heldFrom.String)
		a.HeldFrom = &h
	}
	a.SubmittedAt = parseNullableTime(submittedAt)
	a.ReviewedAt = parseNullableTime(reviewedAt)
	a.ApprovedAt = parseNullableTime(approvedAt)
	a.DisbursedAt = parseNullableTime(disbursedAt)
	a.ClosedAt = parseNullableTime(closedAt)
	a.ArchivedAt = parseNullableTime(archivedAt)

	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &a, nil
}
