package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*EventStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewEventStore(sqlx.NewDb(mockDB, "postgres")), mock
}

func TestAppendEvents_WritesAtNextVersion(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	ev, err := NewEvent("BookAdded", map[string]string{"title": "Dune"}, "admin-1")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\)`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO events`).
		WithArgs(id, "book", "BookAdded", sqlmock.AnyArg(), sqlmock.AnyArg(), 1, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectCommit()

	require.NoError(t, store.AppendEvents(context.Background(), id, "book", 0, []Event{ev}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEvents_StaleVersionConflicts(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\)`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(3))
	mock.ExpectRollback()

	err := store.AppendEvents(context.Background(), id, "book", 2, []Event{{EventType: "BookUpdated", EventData: []byte(`{}`)}})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEvents_UniqueViolationIsConflict(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\)`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO events`).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := store.AppendEvents(context.Background(), id, "book", 0, []Event{{EventType: "BookAdded", EventData: []byte(`{}`)}})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestLoadEvents_DecodesMetadata(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "aggregate_id", "aggregate_type", "event_type", "event_data", "metadata", "version", "created_at"}).
		AddRow(int64(1), id.String(), "book", "BookAdded", []byte(`{"title":"Dune"}`), []byte(`{"actor":"admin-1"}`), 1, now).
		AddRow(int64(2), id.String(), "book", "BookBorrowed", []byte(`{}`), []byte(`null`), 2, now)
	mock.ExpectQuery(`FROM events\s+WHERE aggregate_id = \$1\s+AND version >= \$2\s+ORDER BY version ASC`).
		WithArgs(id, 0).
		WillReturnRows(rows)

	events, err := store.LoadEvents(context.Background(), id, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "admin-1", events[0].Metadata["actor"])
	assert.Equal(t, "BookBorrowed", events[1].EventType)
	assert.Nil(t, events[1].Metadata)
}

func TestStreamEvents_PagesByCursor(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`WHERE id > \$1`).
		WithArgs(int64(40), 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "aggregate_id", "aggregate_type", "event_type", "event_data", "metadata", "version", "created_at"}).
			AddRow(int64(41), uuid.NewString(), "borrow", "BookBorrowed", []byte(`{}`), nil, 1, time.Now()))

	events, err := store.StreamEvents(context.Background(), 40, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(41), events[0].ID)
}
