package circulation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readhub/internal/apperrors"
	"readhub/internal/catalog"
	"readhub/internal/config"
	"readhub/internal/eventstore"
	"readhub/internal/membership"
)

var (
	bookCols   = []string{"id", "title", "author", "isbn", "availability", "version"}
	recordCols = []string{
		"id", "book_id", "borrower_id", "borrower_name", "borrower_email",
		"book_title", "book_author", "book_isbn", "borrow_date", "due_date",
		"return_date", "status", "renewals", "version", "created_at",
	}
	fixedNow = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T) (*service, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "postgres")
	svc := NewService(eventstore.NewEventStore(db), NewRepository(db), nil, config.Default().Borrowing, nil).(*service)
	svc.now = func() time.Time { return fixedNow }
	return svc, mock
}

func reader() *membership.Session {
	return &membership.Session{UserID: uuid.New(), Role: membership.RoleUser, Email: "reader@readhub.com"}
}

func expectBook(mock sqlmock.Sqlmock, id uuid.UUID, availability string, version int) {
	mock.ExpectQuery(`SELECT .* FROM "books" .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(bookCols).AddRow(id.String(), "Dune", "Frank Herbert", "9780441013593", availability, version))
}

func expectCount(mock sqlmock.Sqlmock, n int) {
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "borrowed_books"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
}

func expectRecord(mock sqlmock.Sqlmock, id, bookID, borrowerID uuid.UUID, status string) {
	mock.ExpectQuery(`SELECT .* FROM "borrowed_books" .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(recordCols).AddRow(
			id.String(), bookID.String(), borrowerID.String(), "Test Reader", "reader@readhub.com",
			"Dune", "Frank Herbert", "9780441013593", fixedNow.AddDate(0, 0, -3), fixedNow.AddDate(0, 0, 11),
			nil, status, 0, 1, fixedNow.AddDate(0, 0, -3),
		))
}

func expectEvent(mock sqlmock.Sqlmock, current int) {
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\)`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(current))
	mock.ExpectQuery(`INSERT INTO events`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
}

func TestBorrow_CreatesRecordAndFlipsAvailability(t *testing.T) {
	svc, mock := newTestService(t)
	bookID := uuid.New()
	by := reader()

	mock.ExpectBegin()
	expectBook(mock, bookID, catalog.AvailabilityAvailable, 1)
	expectCount(mock, 0)
	expectCount(mock, 2)
	mock.ExpectQuery(`SELECT .* FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"full_name", "email", "status"}).AddRow("Test Reader", "reader@readhub.com", "active"))
	mock.ExpectExec(`INSERT INTO "borrowed_books"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "books"`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectEvent(mock, 1)
	mock.ExpectCommit()

	rec, err := svc.Borrow(context.Background(), bookID, by)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, "Dune", rec.BookTitle)
	assert.Equal(t, "Test Reader", rec.BorrowerName)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), rec.BorrowDate)
	assert.Equal(t, time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC), rec.DueDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrow_RejectsSecondCopyForSameReader(t *testing.T) {
	svc, mock := newTestService(t)
	bookID := uuid.New()

	mock.ExpectBegin()
	expectBook(mock, bookID, catalog.AvailabilityBorrowed, 2)
	expectCount(mock, 1)
	mock.ExpectRollback()

	_, err := svc.Borrow(context.Background(), bookID, reader())
	assert.ErrorIs(t, err, errAlreadyBorrowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrow_RejectsBookOnLoan(t *testing.T) {
	svc, mock := newTestService(t)
	bookID := uuid.New()

	mock.ExpectBegin()
	expectBook(mock, bookID, catalog.AvailabilityBorrowed, 2)
	expectCount(mock, 0)
	mock.ExpectRollback()

	_, err := svc.Borrow(context.Background(), bookID, reader())
	assert.ErrorIs(t, err, ErrBookUnavailable)
	assert.Equal(t, http.StatusConflict, apperrors.StatusCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrow_RejectsAtLimit(t *testing.T) {
	svc, mock := newTestService(t)
	bookID := uuid.New()

	mock.ExpectBegin()
	expectBook(mock, bookID, catalog.AvailabilityAvailable, 1)
	expectCount(mock, 0)
	expectCount(mock, svc.rules.MaxBooksPerUser)
	mock.ExpectRollback()

	_, err := svc.Borrow(context.Background(), bookID, reader())
	assert.ErrorIs(t, err, errLimitReached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrow_RejectsInactiveReader(t *testing.T) {
	svc, mock := newTestService(t)
	bookID := uuid.New()

	mock.ExpectBegin()
	expectBook(mock, bookID, catalog.AvailabilityAvailable, 1)
	expectCount(mock, 0)
	expectCount(mock, 0)
	mock.ExpectQuery(`SELECT .* FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"full_name", "email", "status"}).AddRow("Test Reader", "reader@readhub.com", "pending"))
	mock.ExpectRollback()

	_, err := svc.Borrow(context.Background(), bookID, reader())
	assert.ErrorIs(t, err, errInactiveReader)
	assert.Equal(t, http.StatusForbidden, apperrors.StatusCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBorrow_UnknownBook(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "books"`).WillReturnRows(sqlmock.NewRows(bookCols))
	mock.ExpectRollback()

	_, err := svc.Borrow(context.Background(), uuid.New(), reader())
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeNotFound))
}

func TestBorrow_LostRaceIsConflict(t *testing.T) {
	svc, mock := newTestService(t)
	bookID := uuid.New()

	mock.ExpectBegin()
	expectBook(mock, bookID, catalog.AvailabilityAvailable, 1)
	expectCount(mock, 0)
	expectCount(mock, 0)
	mock.ExpectQuery(`SELECT .* FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"full_name", "email", "status"}).AddRow("Test Reader", "reader@readhub.com", "active"))
	mock.ExpectExec(`INSERT INTO "borrowed_books"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "books"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\)`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(2))
	mock.ExpectRollback()

	_, err := svc.Borrow(context.Background(), bookID, reader())
	assert.ErrorIs(t, err, errLostRace)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturn_OwnRecord(t *testing.T) {
	svc, mock := newTestService(t)
	by := reader()
	recordID, bookID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	expectRecord(mock, recordID, bookID, by.UserID, StatusActive)
	expectBook(mock, bookID, catalog.AvailabilityBorrowed, 3)
	mock.ExpectExec(`UPDATE "borrowed_books"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "books"`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectEvent(mock, 3)
	mock.ExpectCommit()

	rec, err := svc.Return(context.Background(), recordID, by)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, rec.Status)
	require.NotNil(t, rec.ReturnDate)
	assert.Equal(t, dateOf(fixedNow), *rec.ReturnDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturn_SomeoneElsesRecordIsForbidden(t *testing.T) {
	svc, mock := newTestService(t)
	recordID := uuid.New()

	mock.ExpectBegin()
	expectRecord(mock, recordID, uuid.New(), uuid.New(), StatusActive)
	mock.ExpectRollback()

	_, err := svc.Return(context.Background(), recordID, reader())
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeForbidden))
}

func TestReturn_AlreadyReturned(t *testing.T) {
	svc, mock := newTestService(t)
	by := reader()
	recordID := uuid.New()

	mock.ExpectBegin()
	expectRecord(mock, recordID, uuid.New(), by.UserID, StatusReturned)
	mock.ExpectRollback()

	_, err := svc.Return(context.Background(), recordID, by)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeConflict))
}

func TestExtend_StopsAtRenewalLimit(t *testing.T) {
	svc, mock := newTestService(t)
	recordID, bookID, borrowerID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "borrowed_books"`).
		WillReturnRows(sqlmock.NewRows(recordCols).AddRow(
			recordID.String(), bookID.String(), borrowerID.String(), "", "", "", "", "",
			fixedNow, fixedNow, nil, StatusActive, svc.rules.MaxRenewals, 1, fixedNow,
		))
	mock.ExpectRollback()

	_, err := svc.Extend(context.Background(), recordID, "admin-1")
	assert.ErrorIs(t, err, errRenewalLimit)
}

func TestEffectiveStatus(t *testing.T) {
	active := &BorrowRecord{Status: StatusActive, DueDate: time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC)}
	assert.Equal(t, StatusOverdue, active.EffectiveStatus(fixedNow))
	assert.Equal(t, 1, active.DaysOverdue(fixedNow))

	dueToday := &BorrowRecord{Status: StatusActive, DueDate: fixedNow.Add(-time.Hour)}
	assert.Equal(t, StatusActive, dueToday.EffectiveStatus(fixedNow))

	returned := &BorrowRecord{Status: StatusReturned, DueDate: fixedNow.AddDate(0, 0, -10)}
	assert.Equal(t, StatusReturned, returned.EffectiveStatus(fixedNow))
}

func TestComputeStats(t *testing.T) {
	records := []*BorrowRecord{
		{Status: StatusActive, DueDate: fixedNow.AddDate(0, 0, 2)},
		{Status: StatusActive, DueDate: fixedNow.AddDate(0, 0, 10)},
		{Status: StatusActive, DueDate: fixedNow.AddDate(0, 0, -1)},
		{Status: StatusReturned, DueDate: fixedNow.AddDate(0, 0, -20)},
	}
	stats := ComputeStats(records, fixedNow)
	assert.Equal(t, &BorrowerStats{CurrentBorrowed: 3, DueSoon: 1, Overdue: 1, TotalBorrowed: 4}, stats)
}

func TestApplyFilter(t *testing.T) {
	records := []*EnrichedRecord{
		{BorrowRecord: BorrowRecord{BookTitle: "Dune", Status: StatusActive, DueDate: fixedNow.AddDate(0, 0, -2)},
			MemberDetails: &MemberDetails{StudentID: "S-100", Department: "Physics"}},
		{BorrowRecord: BorrowRecord{BookTitle: "Emma", BorrowerName: "Jane Doe", Status: StatusReturned, DueDate: fixedNow},
			MemberDetails: &MemberDetails{StudentID: "S-200"}},
		{BorrowRecord: BorrowRecord{BookTitle: "Ulysses", Status: StatusActive, DueDate: fixedNow.AddDate(0, 0, 5)}},
	}

	overdue := ApplyFilter(records, Filter{Status: StatusOverdue}, fixedNow)
	require.Len(t, overdue, 1)
	assert.Equal(t, "Dune", overdue[0].BookTitle)

	bySearch := ApplyFilter(records, Filter{Search: "physics"}, fixedNow)
	require.Len(t, bySearch, 1)
	assert.Equal(t, "Dune", bySearch[0].BookTitle)

	byStudent := ApplyFilter(records, Filter{StudentID: "s-2"}, fixedNow)
	require.Len(t, byStudent, 1)
	assert.Equal(t, "Emma", byStudent[0].BookTitle)

	assert.Len(t, ApplyFilter(records, Filter{}, fixedNow), 3)
}

type fakeBooks struct {
	books []*catalog.Book
	err   error
	calls int
}

func (f *fakeBooks) GetByIDs(_ context.Context, ids []string) ([]*catalog.Book, error) {
	f.calls++
	return f.books, f.err
}

type fakeBorrowers struct {
	users   []*membership.User
	members []*membership.Member
}

func (f *fakeBorrowers) GetUsersByIDs(context.Context, []string) ([]*membership.User, error) {
	return f.users, nil
}

func (f *fakeBorrowers) GetMembersByUserIDs(context.Context, []string) ([]*membership.Member, error) {
	return f.members, nil
}

func TestEnrich_JoinsBooksAndMembers(t *testing.T) {
	bookID, userID := uuid.New(), uuid.New()
	books := &fakeBooks{books: []*catalog.Book{{ID: bookID, Title: "Dune", Author: "Frank Herbert", ISBN: "123", Category: "Sci-Fi", Location: "A1"}}}
	borrowers := &fakeBorrowers{
		users:   []*membership.User{{ID: userID, FullName: "Jane Doe", Email: "jane@readhub.com"}},
		members: []*membership.Member{{ID: uuid.New(), UserID: userID, StudentID: "S-1", Department: "Physics"}},
	}
	e := NewEnricher(books, borrowers)
	e.now = func() time.Time { return fixedNow }

	older := &BorrowRecord{ID: uuid.New(), BookID: bookID, BorrowerID: userID, Status: StatusActive,
		BorrowDate: fixedNow.AddDate(0, 0, -30), DueDate: fixedNow.AddDate(0, 0, -16)}
	newer := &BorrowRecord{ID: uuid.New(), BookID: bookID, BorrowerID: userID, Status: StatusActive,
		BookTitle: "Dune (2nd ed.)", BorrowDate: fixedNow, DueDate: fixedNow.AddDate(0, 0, 14)}

	out := e.Enrich(context.Background(), []*BorrowRecord{older, newer, older})
	require.Len(t, out, 2)
	assert.Equal(t, 1, books.calls)

	assert.Equal(t, newer.ID, out[0].ID)
	assert.Equal(t, "Dune (2nd ed.)", out[0].BookTitle)
	assert.Equal(t, StatusActive, out[0].EffectiveStatus)

	assert.Equal(t, "Dune", out[1].BookTitle)
	assert.Equal(t, "Jane Doe", out[1].BorrowerName)
	assert.Equal(t, "Sci-Fi", out[1].Category)
	assert.Equal(t, StatusOverdue, out[1].EffectiveStatus)
	require.NotNil(t, out[1].MemberDetails)
	assert.Equal(t, "Physics", out[1].MemberDetails.Department)
	assert.Equal(t, "Not provided", out[1].MemberDetails.Phone)
	assert.Equal(t, "Not specified", out[1].MemberDetails.Gender)
	assert.Equal(t, membership.DefaultMembershipType, out[1].MemberDetails.MembershipType)
}

func TestEnrich_FailedLookupsKeepRecordWithPlaceholders(t *testing.T) {
	e := NewEnricher(&fakeBooks{err: errors.New("db down")}, &fakeBorrowers{})
	rec := &BorrowRecord{ID: uuid.New(), BookID: uuid.New(), BorrowerID: uuid.New(), Status: StatusReturned}

	out := e.Enrich(context.Background(), []*BorrowRecord{rec})
	require.Len(t, out, 1)
	assert.Equal(t, "Unknown", out[0].BookTitle)
	assert.Equal(t, "Unknown Author", out[0].BookAuthor)
	assert.Equal(t, "No ISBN", out[0].BookISBN)
	assert.Equal(t, "Unknown", out[0].BorrowerName)
	assert.Nil(t, out[0].MemberDetails)
}

func TestEnrich_Empty(t *testing.T) {
	e := NewEnricher(&fakeBooks{}, &fakeBorrowers{})
	assert.Empty(t, e.Enrich(context.Background(), nil))
}

type fakeService struct {
	Service
	borrowErr error
}

func (f *fakeService) Borrow(_ context.Context, bookID uuid.UUID, by *membership.Session) (*BorrowRecord, error) {
	if f.borrowErr != nil {
		return nil, f.borrowErr
	}
	return &BorrowRecord{ID: uuid.New(), BookID: bookID, BorrowerID: by.UserID, Status: StatusActive}, nil
}

func withSession(sess *membership.Session) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(membership.WithSession(r.Context(), sess)))
		})
	}
}

func TestHandler_Borrow(t *testing.T) {
	svc := &fakeService{}
	routes := NewHandler(svc, nil).Routes(withSession(reader()))

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/borrow/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/borrow/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusCreated, rec.Code)

	svc.borrowErr = ErrBookUnavailable
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/borrow/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "book is not available")
}

func TestHandler_AdminViewsRequireAdmin(t *testing.T) {
	routes := NewHandler(&fakeService{}, nil).Routes(withSession(reader()))

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/borrowed", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

type fakeStream struct {
	snapshot []*EnrichedRecord
	updates  chan []*EnrichedRecord
}

func (f *fakeStream) Snapshot() ([]*EnrichedRecord, bool) { return f.snapshot, f.snapshot != nil }

func (f *fakeStream) Subscribe() (<-chan []*EnrichedRecord, func()) { return f.updates, func() {} }

func TestHandler_StreamSendsCurrentSnapshot(t *testing.T) {
	stream := &fakeStream{
		snapshot: []*EnrichedRecord{{BorrowRecord: BorrowRecord{BookTitle: "Dune"}, EffectiveStatus: StatusActive}},
		updates:  make(chan []*EnrichedRecord),
	}
	admin := &membership.Session{UserID: uuid.New(), Role: membership.RoleAdmin}
	routes := NewHandler(&fakeService{}, stream).Routes(withSession(admin))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/borrowed/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: borrowed\ndata: "))
	assert.Contains(t, body, `"bookTitle":"Dune"`)
}

func TestHandler_StreamDisabled(t *testing.T) {
	admin := &membership.Session{UserID: uuid.New(), Role: membership.RoleAdmin}
	routes := NewHandler(&fakeService{}, nil).Routes(withSession(admin))

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/borrowed/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
