package report

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasOpenDispute(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	open, err := NewPgStore(mock).HasOpenDispute(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, open)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileDisputeDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("INSERT INTO schedule_reports").
		WithArgs(pgxmock.AnyArg(), id, "learner@example.com", "tutor never joined").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = NewPgStore(mock).FileDispute(context.Background(), id, "learner@example.com", "  tutor never joined ")
	assert.ErrorIs(t, err, ErrDisputeExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileDisputeRequiresReason(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	err = NewPgStore(mock).FileDispute(context.Background(), uuid.New(), "learner@example.com", "   ")
	assert.ErrorIs(t, err, ErrEmptyReason)
}
