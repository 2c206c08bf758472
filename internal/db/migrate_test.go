package db

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ts = "2025-06-01T00:00:00Z"

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func insertApplication(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO applications (id, student_id, program, school_year, requested_amount, status, created_at, updated_at)
		VALUES (?, 'stu-1', 'merit', '2025-2026', 50000, 'approved', ?, ?)`, id, ts, ts)
	require.NoError(t, err)
}

func insertBucket(t *testing.T, db *sql.DB, total int64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO budget_allocations (budget_type, school_year, total_budget, updated_at)
		VALUES ('merit', '2025-2026', ?, ?)`, total, ts)
	require.NoError(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))
}

func TestMigrate_CreatesAllTables(t *testing.T) {
	db := openTestDB(t)

	expected := []string{
		"applications",
		"application_status_history",
		"review_stages",
		"budget_allocations",
		"budget_reservations",
		"payment_records",
	}
	for _, table := range expected {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_CreatesIndexes(t *testing.T) {
	db := openTestDB(t)

	expected := []string{
		"idx_applications_status",
		"idx_history_application",
		"idx_review_stages_application",
		"idx_reservations_status",
		"idx_payments_application",
		"idx_payments_active",
	}
	for _, idx := range expected {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='index' AND name=?`, idx).Scan(&name)
		require.NoError(t, err, "index %s should exist", idx)
	}
}

func TestMigrate_ApplicationStatusCheckConstraint(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Exec(`INSERT INTO applications (id, student_id, program, school_year, requested_amount, status, created_at, updated_at)
		VALUES ('a1', 's', 'merit', '2025-2026', 100, 'ssc_review', ?, ?)`, ts, ts)
	assert.Error(t, err, "composite phase name is not a stored status")
}

func TestMigrate_BudgetInvariantCheckConstraint(t *testing.T) {
	db := openTestDB(t)
	insertBucket(t, db, 1000)

	_, err := db.Exec(`UPDATE budget_allocations SET allocated_budget = 800, disbursed_budget = 300`)
	assert.Error(t, err, "allocated + disbursed above total must be rejected")

	_, err = db.Exec(`UPDATE budget_allocations SET allocated_budget = -1`)
	assert.Error(t, err)

	_, err = db.Exec(`UPDATE budget_allocations SET allocated_budget = 700, disbursed_budget = 300`)
	assert.NoError(t, err)
}

func TestMigrate_OneOpenPaymentPerApplication(t *testing.T) {
	db := openTestDB(t)
	insertApplication(t, db, "a1")
	insertBucket(t, db, 100000)
	_, err := db.Exec(`INSERT INTO budget_reservations (id, budget_type, school_year, application_id, amount, created_at)
		VALUES ('r1', 'merit', '2025-2026', 'a1', 50000, ?)`, ts)
	require.NoError(t, err)

	insertPayment := func(id string, attempt int, status string) error {
		_, err := db.Exec(`INSERT INTO payment_records (id, application_id, attempt, method, reservation_id, amount, status, created_at, updated_at)
			VALUES (?, 'a1', ?, 'provider', 'r1', 50000, ?, ?, ?)`, id, attempt, status, ts, ts)
		return err
	}

	require.NoError(t, insertPayment("p1", 1, "initiated"))
	assert.Error(t, insertPayment("p2", 2, "processing"), "second open attempt must be rejected")

	_, err = db.Exec(`UPDATE payment_records SET status = 'cancelled' WHERE id = 'p1'`)
	require.NoError(t, err)
	assert.NoError(t, insertPayment("p3", 2, "initiated"), "closed attempts do not block a retry")
}

func TestMigrate_ReservationRequiresBucket(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Exec(`INSERT INTO budget_reservations (id, budget_type, school_year, application_id, amount, created_at)
		VALUES ('r1', 'none', '2025-2026', 'a1', 10, ?)`, ts)
	assert.Error(t, err, "foreign key to budget_allocations should be enforced")
}

func TestOpenDB_FileDatabaseCreatesDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/dir/scholarship.db"
	db, err := OpenDB(path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}
