package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/twistedwarden/esm-v3-sub005/internal/db"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
)

const reviewStageColumns = `id, application_id, stage, attempt, status, reviewer_id,
		recommended_amount, approved_amount, notes, created_at, completed_at`

// SQLiteReviewStageRepo implements ReviewStageRepo using a SQLite database.
type SQLiteReviewStageRepo struct {
	db db.DBTX
}

func NewSQLiteReviewStageRepo(db db.DBTX) *SQLiteReviewStageRepo {
	return &SQLiteReviewStageRepo{db: db}
}

func (r *SQLiteReviewStageRepo) Create(ctx context.Context, s *domain.ReviewStage) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO review_stages (`+reviewStageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.ApplicationID,
		string(s.Stage),
		s.Attempt,
		string(s.Status),
		s.ReviewerID,
		nullableInt64ToValue(s.RecommendedAmount),
		nullableInt64ToValue(s.ApprovedAmount),
		s.Notes,
		formatTime(s.CreatedAt),
		nullableTimeToString(s.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting review stage: %w", err)
	}
	return nil
}

func (r *SQLiteReviewStageRepo) ListByApplication(ctx context.Context, applicationID string) ([]*domain.ReviewStage, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+reviewStageColumns+`
		FROM review_stages WHERE application_id = ?
		ORDER BY created_at, rowid`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("listing review stages: %w", err)
	}
	defer rows.Close()

	var stages []*domain.ReviewStage
	for rows.Next() {
		s, err := scanReviewStage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning review stage: %w", err)
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func (r *SQLiteReviewStageRepo) Latest(ctx context.Context, applicationID string, stage domain.StageName) (*domain.ReviewStage, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reviewStageColumns+`
		FROM review_stages WHERE application_id = ? AND stage = ?
		ORDER BY attempt DESC, created_at DESC, rowid DESC LIMIT 1`, applicationID, string(stage))
	s, err := scanReviewStage(row)
	if err != nil {
		return nil, notFound(err, "review stage "+string(stage))
	}
	return s, nil
}

func (r *SQLiteReviewStageRepo) InCycle(ctx context.Context, applicationID string, stage domain.StageName, attempt int) (*domain.ReviewStage, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reviewStageColumns+`
		FROM review_stages WHERE application_id = ? AND stage = ? AND attempt = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, applicationID, string(stage), attempt)
	s, err := scanReviewStage(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("review stage %s in cycle %d", stage, attempt))
	}
	return s, nil
}

func scanReviewStage(row rowScanner) (*domain.ReviewStage, error) {
	var s domain.ReviewStage
	var stage, status, createdAt string
	var recommended, approved sql.NullInt64
	var completedAt sql.NullString

	err := row.Scan(&s.ID, &s.ApplicationID, &stage, &s.Attempt, &status, &s.ReviewerID,
		&recommended, &approved, &s.Notes, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}
	s.Stage = domain.StageName(stage)
	s.Status = domain.StageStatus(status)
	s.RecommendedAmount = parseNullableInt64(recommended)
	s.ApprovedAmount = parseNullableInt64(approved)
	s.CompletedAt = parseNullableTime(completedAt)
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &s, nil
}
