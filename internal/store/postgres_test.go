package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "postgres")

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS events`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, Migrate(context.Background(), db))

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS events`).WillReturnError(errors.New("permission denied"))
	err = Migrate(context.Background(), db)
	assert.ErrorContains(t, err, "failed to apply schema")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaNotifiesOnLoanChanges(t *testing.T) {
	assert.Contains(t, schema, "pg_notify('"+ChangeChannel+"'")
	assert.Contains(t, schema, "borrowed_books_one_active_per_book")
}

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})
	serialization := fmt.Errorf("commit: %w", &pq.Error{Code: "40001"})

	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsUniqueViolation(serialization))
	assert.True(t, IsSerializationFailure(serialization))
	assert.False(t, IsSerializationFailure(errors.New("40001")))
}
