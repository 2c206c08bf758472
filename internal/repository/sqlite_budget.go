package repository

import (
	"context"
	"fmt"

	"github.com/twistedwarden/esm-v3-sub005/internal/db"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
)

const budgetColumns = `budget_type, school_year, total_budget, allocated_budget, disbursed_budget,
		updated_at, version`

// SQLiteBudgetRepo implements BudgetRepo using a SQLite database.
type SQLiteBudgetRepo struct {
	db db.DBTX
}

func NewSQLiteBudgetRepo(db db.DBTX) *SQLiteBudgetRepo {
	return &SQLiteBudgetRepo{db: db}
}

func (r *SQLiteBudgetRepo) Create(ctx context.Context, b *domain.BudgetAllocation) error {
	if b.Version == 0 {
		b.Version = 1
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO budget_allocations (`+budgetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.BudgetType, b.SchoolYear, b.TotalBudget, b.AllocatedBudget, b.DisbursedBudget,
		formatTime(b.UpdatedAt), b.Version,
	)
	if err != nil {
		return fmt.Errorf("inserting budget allocation: %w", err)
	}
	return nil
}

func (r *SQLiteBudgetRepo) Get(ctx context.Context, bucket domain.Bucket) (*domain.BudgetAllocation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budget_allocations
		WHERE budget_type = ? AND school_year = ?`, bucket.BudgetType, bucket.SchoolYear)
	b, err := scanBudget(row)
	if err != nil {
		return nil, notFound(err, "budget "+bucket.String())
	}
	return b, nil
}

func (r *SQLiteBudgetRepo) List(ctx context.Context) ([]*domain.BudgetAllocation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+budgetColumns+` FROM budget_allocations
		ORDER BY school_year, budget_type`)
	if err != nil {
		return nil, fmt.Errorf("listing budget allocations: %w", err)
	}
	defer rows.Close()

	var out []*domain.BudgetAllocation
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning budget allocation: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Update writes the new totals if the stored version still matches. The
// schema CHECK rejects any write that would break allocated + disbursed <= total.
func (r *SQLiteBudgetRepo) Update(ctx context.Context, b *domain.BudgetAllocation) error {
	res, err := r.db.ExecContext(ctx, `UPDATE budget_allocations
		SET total_budget = ?, allocated_budget = ?, disbursed_budget = ?, updated_at = ?, version = version + 1
		WHERE budget_type = ? AND school_year = ? AND version = ?`,
		b.TotalBudget, b.AllocatedBudget, b.DisbursedBudget, formatTime(b.UpdatedAt),
		b.BudgetType, b.SchoolYear, b.Version,
	)
	if err != nil {
		return fmt.Errorf("updating budget allocation: %w", err)
	}
	if err := expectOneRow(res, "budget", b.Bucket.String()); err != nil {
		return err
	}
	b.Version++
	return nil
}

func scanBudget(row rowScanner) (*domain.BudgetAllocation, error) {
	var b domain.BudgetAllocation
	var updatedAt string
	err := row.Scan(&b.BudgetType, &b.SchoolYear, &b.TotalBudget, &b.AllocatedBudget, &b.DisbursedBudget,
		&updatedAt, &b.Version)
	if err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &b, nil
}
