package freshness

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-service/internal/model"
)

func newMockCheckpoints(t *testing.T) (*CheckpointStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewCheckpointStore(mock), mock
}

func TestCheckpointStore_LastChecked(t *testing.T) {
	s, mock := newMockCheckpoints(t)
	checked := time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT checked_at FROM refresh_checkpoints WHERE source = \$1`).
		WithArgs("financial").
		WillReturnRows(pgxmock.NewRows([]string{"checked_at"}).AddRow(checked))

	got, err := s.LastChecked(context.Background(), model.SourceFinancial)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, checked, *got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointStore_LastChecked_NeverProcessed(t *testing.T) {
	s, mock := newMockCheckpoints(t)

	mock.ExpectQuery(`SELECT checked_at FROM refresh_checkpoints`).
		WithArgs("enrichment").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.LastChecked(context.Background(), model.SourceEnrichment)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointStore_Record_Upsert(t *testing.T) {
	s, mock := newMockCheckpoints(t)
	checked := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO refresh_checkpoints`).
		WithArgs("financial", checked).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Record(context.Background(), model.SourceFinancial, checked))
	assert.NoError(t, mock.ExpectationsWereMet())
}
