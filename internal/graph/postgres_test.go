package graph

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetConfig_Default(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT value FROM config WHERE key = \$1`).
		WithArgs("threshold").
		WillReturnError(pgx.ErrNoRows)

	v, err := s.GetConfig(context.Background(), "threshold", "60")
	require.NoError(t, err)
	assert.Equal(t, "60", v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddEntity_Dedup(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM entities WHERE name = \$1 AND locality = \$2`).
		WithArgs("Jane Film", "Austin").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("existing-id"))

	id, err := s.AddEntity(context.Background(), Entity{Name: "Jane Film", Locality: "Austin"})
	require.NoError(t, err)
	assert.Equal(t, "existing-id", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddEntity_Insert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM entities WHERE name = \$1 AND locality = \$2`).
		WithArgs("Jane Film", "Austin").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO entities`).
		WithArgs(pgxmock.AnyArg(), "Jane Film", "person", "", "Austin", "", "", "", 0,
			"", "", "found", "{}", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := s.AddEntity(context.Background(), Entity{Name: "Jane Film", Locality: "Austin"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateEntityStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE entities SET status = \$1`).
		WithArgs("validated", pgxmock.AnyArg(), "missing-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateEntityStatus(context.Background(), "missing-id", EntityValidated)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WasDone(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT 1 FROM logs WHERE action = \$1 AND key = \$2`).
		WithArgs("searched", "austin filmmakers").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	done, err := s.WasDone(context.Background(), "searched", "austin filmmakers")
	require.NoError(t, err)
	assert.True(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WasDone_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT 1 FROM logs`).
		WithArgs("searched", "never ran").
		WillReturnError(pgx.ErrNoRows)

	done, err := s.WasDone(context.Background(), "searched", "never ran")
	require.NoError(t, err)
	assert.False(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkDone_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(action, key\) DO NOTHING`).
		WithArgs("searched", "austin filmmakers", "wave 1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.MarkDone(context.Background(), "searched", "austin filmmakers", "wave 1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_NextTask_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE tasks SET status = 'running'`).
		WillReturnError(pgx.ErrNoRows)

	task, err := s.NextTask(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteTask_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE tasks SET status = \$1`).
		WithArgs("done", `{}`, "", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteTask(context.Background(), "missing", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetScore_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT target_id, total, max_possible, validated, threshold, details, computed_at`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	score, err := s.GetScore(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, score)
	assert.NoError(t, mock.ExpectationsWereMet())
}
