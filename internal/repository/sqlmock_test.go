package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
)

func TestBudgetRepo_DriverErrorsAreWrapped(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	boom := errors.New("disk I/O error")
	mock.ExpectQuery("SELECT budget_type").WillReturnError(boom)
	mock.ExpectExec("UPDATE budget_allocations").WillReturnError(boom)

	repo := NewSQLiteBudgetRepo(mockDB)
	ctx := context.Background()

	_, err = repo.Get(ctx, domain.Bucket{BudgetType: "merit", SchoolYear: "2025-2026"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)

	err = repo.Update(ctx, &domain.BudgetAllocation{Bucket: domain.Bucket{BudgetType: "merit", SchoolYear: "2025-2026"}, Version: 1})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepo_ZeroRowsAffectedIsConcurrentUpdate(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("UPDATE applications").WillReturnResult(sqlmock.NewResult(0, 0))

	app := &domain.Application{ID: "a1", Status: domain.StatusSubmitted, UpdatedAt: time.Now(), Version: 4}
	err = NewSQLiteApplicationRepo(mockDB).Update(context.Background(), app)
	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	assert.Equal(t, 4, app.Version, "version unchanged on failed swap")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepo_RowsAffectedErrorSurfaces(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("UPDATE payment_records").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("rows affected unsupported")))

	err = NewSQLitePaymentRepo(mockDB).Update(context.Background(), &domain.PaymentRecord{ID: "p1", Version: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rows affected unsupported")
	assert.NoError(t, mock.ExpectationsWereMet())
}
