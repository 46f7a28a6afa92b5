package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readhub/internal/apperrors"
	"readhub/internal/eventstore"
	"readhub/internal/membership"
)

var bookCols = []string{"id", "title", "author", "isbn", "category", "availability", "version"}

type fakeIndex struct {
	mu      sync.Mutex
	ids     []string
	err     error
	calls   int
	indexed []uuid.UUID
}

func (f *fakeIndex) IndexBook(_ context.Context, b *Book) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, b.ID)
	return f.err
}

func (f *fakeIndex) RemoveBook(context.Context, uuid.UUID) error {
	return f.err
}

func (f *fakeIndex) SearchIDs(context.Context, string, int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.ids, f.err
}

func newTestService(t *testing.T, index Index) (*service, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "postgres")
	svc := NewService(eventstore.NewEventStore(db), NewRepository(db), index).(*service)
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }
	return svc, mock
}

func TestAddBook_Validation(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.AddBook(context.Background(), BookInput{Title: "  ", Author: ""}, "admin")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrorTypeValidation, appErr.Type)
	assert.Contains(t, appErr.Fields, "title")
	assert.Contains(t, appErr.Fields, "author")
}

func TestAddBook_StoresEventAndIndexes(t *testing.T) {
	index := &fakeIndex{}
	svc, mock := newTestService(t, index)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "books"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\)`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO events`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	book, err := svc.AddBook(context.Background(), BookInput{Title: " Dune ", Author: "Frank Herbert"}, "admin@readhub.com")
	require.NoError(t, err)

	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, AvailabilityAvailable, book.Availability)
	assert.Equal(t, 1, book.Version)
	assert.Equal(t, []uuid.UUID{book.ID}, index.indexed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddBook_IndexFailureDoesNotFail(t *testing.T) {
	svc, mock := newTestService(t, &fakeIndex{err: errors.New("typesense down")})

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "books"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COALESCE`).WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO events`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	_, err := svc.AddBook(context.Background(), BookInput{Title: "Dune", Author: "Frank Herbert"}, "admin")
	assert.NoError(t, err)
}

func TestSearch_KeepsIndexOrder(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	svc, mock := newTestService(t, &fakeIndex{ids: []string{second.String(), first.String()}})

	mock.ExpectQuery(`SELECT .* FROM "books" WHERE \("id" IN`).
		WillReturnRows(sqlmock.NewRows(bookCols).
			AddRow(first.String(), "Clean Code", "Robert C. Martin", "9780132350884", "academic", "available", 1).
			AddRow(second.String(), "Code Complete", "Steve McConnell", "9780735619678", "academic", "borrowed", 2))

	books, err := svc.Search(context.Background(), "code")
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, second, books[0].ID)
	assert.Equal(t, first, books[1].ID)
}

func TestSearch_FallsBackToDatabase(t *testing.T) {
	svc, mock := newTestService(t, &fakeIndex{err: errors.New("connection refused")})

	mock.ExpectQuery(`ILIKE`).
		WillReturnRows(sqlmock.NewRows(bookCols).
			AddRow(uuid.New().String(), "Dune", "Frank Herbert", "9780441013593", "fiction", "available", 1))

	books, err := svc.Search(context.Background(), "dune")
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Dune", books[0].Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearch_RequiresQuery(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.Search(context.Background(), "")
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeValidation))
}

func TestDeleteBook_RejectsBorrowed(t *testing.T) {
	svc, mock := newTestService(t, nil)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM "books"`).
		WillReturnRows(sqlmock.NewRows(bookCols).AddRow(id.String(), "Dune", "Frank Herbert", "", "fiction", "borrowed", 2))

	err := svc.DeleteBook(context.Background(), id, "admin")
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeConflict))
}

func TestGetBook_NotFound(t *testing.T) {
	svc, mock := newTestService(t, nil)
	mock.ExpectQuery(`SELECT .* FROM "books"`).WillReturnRows(sqlmock.NewRows(bookCols))

	_, err := svc.GetBook(context.Background(), uuid.New())
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeNotFound))
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	inner := &fakeIndex{err: errors.New("timeout")}
	index := WithCircuitBreaker(inner)

	for i := 0; i < 3; i++ {
		_, err := index.SearchIDs(context.Background(), "dune", 5)
		require.Error(t, err)
		assert.False(t, IsCircuitOpen(err))
	}

	_, err := index.SearchIDs(context.Background(), "dune", 5)
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, 3, inner.calls)
}

func withSession(sess *membership.Session) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(membership.WithSession(r.Context(), sess)))
		})
	}
}

func TestHandler_ListReturnsEmptyArray(t *testing.T) {
	svc, mock := newTestService(t, nil)
	mock.ExpectQuery(`SELECT .* FROM "books"`).WillReturnRows(sqlmock.NewRows(bookCols))

	routes := NewHandler(svc).Routes(withSession(&membership.Session{UserID: uuid.New(), Role: membership.RoleUser}))
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books?availability=available", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandler_AddBookRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t, nil)

	routes := NewHandler(svc).Routes(withSession(&membership.Session{UserID: uuid.New(), Role: membership.RoleUser}))
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/books", strings.NewReader(`{"title":"Dune","author":"Frank Herbert"}`)))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_InvalidBookID(t *testing.T) {
	svc, _ := newTestService(t, nil)

	routes := NewHandler(svc).Routes(withSession(&membership.Session{UserID: uuid.New(), Role: membership.RoleUser}))
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
