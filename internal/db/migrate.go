package db

import (
	"database/sql"
	"fmt"
)

// Migrate runs all schema migrations. Every statement is idempotent so the
// full list is replayed on each start.
func Migrate(db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS applications (
		id               TEXT PRIMARY KEY,
		student_id       TEXT NOT NULL,
		program          TEXT NOT NULL,
		school_year      TEXT NOT NULL,
		type             TEXT NOT NULL DEFAULT 'new'
		                 CHECK(type IN ('new','renewal')),
		requested_amount INTEGER NOT NULL CHECK(requested_amount > 0),
		approved_amount  INTEGER,
		status           TEXT NOT NULL
		                 CHECK(status IN ('draft','submitted','documents_reviewed','interview_scheduled',
		                                  'interview_completed','endorsed_to_ssc','ssc_financial_review',
		                                  'ssc_academic_review','ssc_final_approval','approved',
		                                  'grants_processing','grants_disbursed','rejected','on_hold','cancelled')),
		held_from        TEXT,
		review_cycle     INTEGER NOT NULL DEFAULT 1,
		revision_count   INTEGER NOT NULL DEFAULT 0,
		submitted_at     TEXT,
		reviewed_at      TEXT,
		approved_at      TEXT,
		disbursed_at     TEXT,
		closed_at        TEXT,
		archived_at      TEXT,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		version          INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status)`,
	`CREATE INDEX IF NOT EXISTS idx_applications_student ON applications(student_id)`,
	`CREATE INDEX IF NOT EXISTS idx_applications_bucket ON applications(program, school_year)`,
	`CREATE TABLE IF NOT EXISTS application_status_history (
		id             TEXT PRIMARY KEY,
		application_id TEXT NOT NULL REFERENCES applications(id),
		from_status    TEXT NOT NULL,
		to_status      TEXT NOT NULL,
		actor_id       TEXT NOT NULL DEFAULT '',
		actor_role     TEXT NOT NULL DEFAULT '',
		notes          TEXT NOT NULL DEFAULT '',
		created_at     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_application ON application_status_history(application_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS review_stages (
		id                 TEXT PRIMARY KEY,
		application_id     TEXT NOT NULL REFERENCES applications(id),
		stage              TEXT NOT NULL
		                   CHECK(stage IN ('document_verification','financial_review','academic_review','final_approval')),
		attempt            INTEGER NOT NULL CHECK(attempt > 0),
		status             TEXT NOT NULL
		                   CHECK(status IN ('pending','approved','rejected','needs_revision')),
		reviewer_id        TEXT NOT NULL DEFAULT '',
		recommended_amount INTEGER,
		approved_amount    INTEGER,
		notes              TEXT NOT NULL DEFAULT '',
		created_at         TEXT NOT NULL,
		completed_at       TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_review_stages_application ON review_stages(application_id, stage, attempt)`,
	`CREATE TABLE IF NOT EXISTS budget_allocations (
		budget_type      TEXT NOT NULL,
		school_year      TEXT NOT NULL,
		total_budget     INTEGER NOT NULL CHECK(total_budget >= 0),
		allocated_budget INTEGER NOT NULL DEFAULT 0,
		disbursed_budget INTEGER NOT NULL DEFAULT 0,
		updated_at       TEXT NOT NULL,
		version          INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (budget_type, school_year),
		CHECK(allocated_budget >= 0 AND disbursed_budget >= 0
		      AND allocated_budget + disbursed_budget <= total_budget)
	)`,
	`CREATE TABLE IF NOT EXISTS budget_reservations (
		id             TEXT PRIMARY KEY,
		budget_type    TEXT NOT NULL,
		school_year    TEXT NOT NULL,
		application_id TEXT NOT NULL,
		amount         INTEGER NOT NULL CHECK(amount > 0),
		status         TEXT NOT NULL DEFAULT 'held'
		               CHECK(status IN ('held','committed','released')),
		created_at     TEXT NOT NULL,
		resolved_at    TEXT,
		FOREIGN KEY (budget_type, school_year) REFERENCES budget_allocations(budget_type, school_year)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_status ON budget_reservations(status, created_at)`,
	`CREATE TABLE IF NOT EXISTS payment_records (
		id                  TEXT PRIMARY KEY,
		application_id      TEXT NOT NULL REFERENCES applications(id),
		attempt             INTEGER NOT NULL CHECK(attempt > 0),
		method              TEXT NOT NULL
		                    CHECK(method IN ('provider','bank_transfer','check','cash')),
		reservation_id      TEXT NOT NULL REFERENCES budget_reservations(id),
		amount              INTEGER NOT NULL CHECK(amount > 0),
		status              TEXT NOT NULL
		                    CHECK(status IN ('initiated','processing','completed','failed','cancelled')),
		checkout_session_id TEXT NOT NULL DEFAULT '',
		checkout_url        TEXT NOT NULL DEFAULT '',
		transaction_id      TEXT NOT NULL DEFAULT '',
		receipt_ref         TEXT NOT NULL DEFAULT '',
		disbursed_by        TEXT NOT NULL DEFAULT '',
		failure_reason      TEXT NOT NULL DEFAULT '',
		retry_count         INTEGER NOT NULL DEFAULT 0,
		superseded_by       TEXT NOT NULL DEFAULT '',
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL,
		completed_at        TEXT,
		version             INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_application ON payment_records(application_id, attempt)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_session ON payment_records(checkout_session_id) WHERE checkout_session_id != ''`,
	`CREATE INDEX IF NOT EXISTS idx_payments_transaction ON payment_records(transaction_id) WHERE transaction_id != ''`,
	// At most one open attempt per application.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_active ON payment_records(application_id)
		WHERE status IN ('initiated','processing')`,
}
