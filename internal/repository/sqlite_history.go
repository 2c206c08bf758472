package repository

import (
	"context"
	"fmt"

	"github.com/twistedwarden/esm-v3-sub005/internal/db"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
)

// SQLiteHistoryRepo implements HistoryRepo using a SQLite database.
type SQLiteHistoryRepo struct {
	db db.DBTX
}

func NewSQLiteHistoryRepo(db db.DBTX) *SQLiteHistoryRepo {
	return &SQLiteHistoryRepo{db: db}
}

func (r *SQLiteHistoryRepo) Append(ctx context.Context, c *domain.StatusChange) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO application_status_history
		(id, application_id, from_status, to_status, actor_id, actor_role, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ApplicationID, string(c.From), string(c.To),
		c.ActorID, c.ActorRole, c.Notes, formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting status change: %w", err)
	}
	return nil
}

// ListByApplication returns history oldest first.
func (r *SQLiteHistoryRepo) ListByApplication(ctx context.Context, applicationID string) ([]*domain.StatusChange, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, application_id, from_status, to_status,
		actor_id, actor_role, notes, created_at
		FROM application_status_history WHERE application_id = ?
		ORDER BY created_at, rowid`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("listing status history: %w", err)
	}
	defer rows.Close()

	var changes []*domain.StatusChange
	for rows.Next() {
		var c domain.StatusChange
		var from, to, createdAt string
		if err := rows.Scan(&c.ID, &c.ApplicationID, &from, &to,
			&c.ActorID, &c.ActorRole, &c.Notes, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning status change: %w", err)
		}
		c.From = domain.ApplicationStatus(from)
		c.To = domain.ApplicationStatus(to)
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		changes = append(changes, &c)
	}
	return changes, rows.Err()
}
