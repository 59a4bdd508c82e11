package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "audit_records", []string{"id", "run_id"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"audit_records"}, []string{"id", "run_id"}).WillReturnResult(2)

	rows := [][]any{{"a1", "run-1"}, {"a2", "run-1"}}
	n, err := CopyFrom(context.Background(), mock, "audit_records", []string{"id", "run_id"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"audit_records"}, []string{"id", "run_id"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "audit_records", []string{"id", "run_id"}, [][]any{{"a1", "r1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO audit_records")
	assert.NoError(t, mock.ExpectationsWereMet())
}
