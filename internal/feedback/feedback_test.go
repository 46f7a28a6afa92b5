package feedback

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readhub/internal/apperrors"
	"readhub/internal/membership"
)

type memoryStore struct {
	mu     sync.Mutex
	down   bool
	byKey  map[string]*Feedback
	status map[uuid.UUID]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{byKey: map[string]*Feedback{}, status: map[uuid.UUID]string{}}
}

func (m *memoryStore) Insert(_ context.Context, f *Feedback) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return false, errors.New("connection refused")
	}
	if _, ok := m.byKey[f.IdempotencyKey]; ok {
		return false, nil
	}
	m.byKey[f.IdempotencyKey] = f
	return true, nil
}

func (m *memoryStore) Get(_ context.Context, id uuid.UUID) (*Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.byKey {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, apperrors.NewNotFoundError("not found")
}

func (m *memoryStore) List(context.Context, Filter) ([]*Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]*Feedback, 0, len(m.byKey))
	for _, f := range m.byKey {
		items = append(items, f)
	}
	return items, nil
}

func (m *memoryStore) update(_ context.Context, id uuid.UUID, set goqu.Record, actor string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.byKey {
		if f.ID == id {
			if s, ok := set["status"].(string); ok {
				f.Status = s
			}
			if p, ok := set["priority"].(string); ok {
				f.Priority = p
			}
			if r, ok := set["admin_response"].(string); ok {
				f.AdminResponse = r
			}
			f.UpdatedAt = &now
			f.UpdatedBy = actor
			return nil
		}
	}
	return apperrors.NewNotFoundError("not found")
}

func (m *memoryStore) delete(context.Context, uuid.UUID) error { return nil }

func (m *memoryStore) countByStatus(context.Context) ([]statusCount, error) {
	return []statusCount{{Status: StatusNew, Count: 4}, {Status: StatusResolved, Count: 2}, {Status: "archived", Count: 1}}, nil
}

func (m *memoryStore) setDown(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

func openTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	o, err := OpenOutbox(filepath.Join(t.TempDir(), "outbox", "pending_feedback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

func validForm() ContactForm {
	return ContactForm{
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "Jane@Example.com",
		Subject:   "Broken search",
		Message:   "The search page shows an error for every query.",
	}
}

func TestValidateContact(t *testing.T) {
	assert.NoError(t, validateContact(validForm()))

	err := validateContact(ContactForm{FirstName: "J", LastName: " ", Email: "nope", Subject: "Hey", Message: "short"})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	for _, field := range []string{"firstName", "lastName", "email", "subject", "message"} {
		assert.Contains(t, appErr.Fields, field)
	}

	long := validForm()
	long.Message = string(bytes.Repeat([]byte("a"), maxMessageLength+1))
	require.ErrorAs(t, validateContact(long), &appErr)
	assert.Contains(t, appErr.Fields, "message")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		subject, message, want string
	}{
		{"Login problem", "I cannot sign in", TypeBugReport},
		{"Idea", "I suggest longer opening hours", TypeSuggestion},
		{"Staff", "I am very disappointed with the desk", TypeComplaint},
		{"Thanks", "The librarians are amazing", TypeCompliment},
		{"Wish", "Please add an e-book section", TypeFeatureRequest},
		{"Hours", "When do you open on Sunday?", TypeGeneral},
		// earlier types win
		{"Bug", "thank you for fixing it", TypeBugReport},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.subject, tc.message), tc.subject)
	}
}

func TestSubmit_StoresFeedback(t *testing.T) {
	st := newMemoryStore()
	svc := newService(st, openTestOutbox(t), nil)

	res, err := svc.Submit(context.Background(), validForm())
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.Equal(t, StatusNew, res.Feedback.Status)
	assert.Equal(t, PriorityMedium, res.Feedback.Priority)
	assert.Equal(t, TypeBugReport, res.Feedback.Type)
	assert.Equal(t, "Jane Doe", res.Feedback.UserName)
	assert.Equal(t, "jane@example.com", res.Feedback.UserEmail)
	assert.NotEmpty(t, res.Feedback.IdempotencyKey)
	assert.Len(t, st.byKey, 1)
}

func TestSubmit_QueuesWhenStoreIsDown(t *testing.T) {
	st := newMemoryStore()
	st.setDown(true)
	outbox := openTestOutbox(t)
	svc := newService(st, outbox, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		res, err := svc.Submit(ctx, validForm())
		require.NoError(t, err)
		assert.True(t, res.Queued)
	}
	n, err := outbox.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Empty(t, st.byKey)
}

func TestSubmit_WithoutOutboxReportsFailure(t *testing.T) {
	st := newMemoryStore()
	st.setDown(true)
	svc := newService(st, nil, nil)

	_, err := svc.Submit(context.Background(), validForm())
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeExternal))
}

func TestFlush_ReplaysQueuedItemsOnce(t *testing.T) {
	st := newMemoryStore()
	outbox := openTestOutbox(t)
	svc := newService(st, outbox, nil)
	ctx := context.Background()

	queued := &Feedback{ID: uuid.New(), IdempotencyKey: "k-1", Subject: "Queued", Status: StatusNew}
	require.NoError(t, outbox.Enqueue(ctx, queued))
	require.NoError(t, outbox.Enqueue(ctx, queued))
	landed := &Feedback{ID: uuid.New(), IdempotencyKey: "k-2", Subject: "Already stored", Status: StatusNew}
	_, err := st.Insert(ctx, landed)
	require.NoError(t, err)
	require.NoError(t, outbox.Enqueue(ctx, landed))

	res, err := svc.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, &FlushResult{Flushed: 2}, res)
	assert.Len(t, st.byKey, 2)

	n, err := outbox.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFlush_FailedItemsStayQueued(t *testing.T) {
	st := newMemoryStore()
	st.setDown(true)
	outbox := openTestOutbox(t)
	svc := newService(st, outbox, nil)
	ctx := context.Background()

	require.NoError(t, outbox.Enqueue(ctx, &Feedback{ID: uuid.New(), IdempotencyKey: "k-1"}))

	res, err := svc.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Remaining)

	st.setDown(false)
	res, err = svc.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Flushed)
}

func TestFlush_SkipsWhileAnotherFlushRuns(t *testing.T) {
	svc := newService(newMemoryStore(), openTestOutbox(t), nil)
	svc.flushing.Lock()
	defer svc.flushing.Unlock()

	res, err := svc.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, res.InProgress)
}

func TestRespond(t *testing.T) {
	st := newMemoryStore()
	svc := newService(st, nil, nil)
	ctx := context.Background()

	res, err := svc.Submit(ctx, validForm())
	require.NoError(t, err)

	_, err = svc.Respond(ctx, res.Feedback.ID, ResponseInput{Status: "done", Priority: "meh"}, "admin-1")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Len(t, appErr.Fields, 3)

	f, err := svc.Respond(ctx, res.Feedback.ID, ResponseInput{Status: StatusResolved, Priority: PriorityHigh, AdminResponse: " Fixed, thanks! "}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, f.Status)
	assert.Equal(t, PriorityHigh, f.Priority)
	assert.Equal(t, "Fixed, thanks!", f.AdminResponse)
	assert.Equal(t, "admin-1", f.UpdatedBy)
}

func TestStats(t *testing.T) {
	svc := newService(newMemoryStore(), nil, nil)
	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Stats{Total: 7, New: 4, Resolved: 2}, stats)
}

func TestRepositoryInsert_IgnoresReplays(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	repo := NewRepository(sqlx.NewDb(mockDB, "postgres"))

	mock.ExpectExec(`INSERT INTO feedback .* ON CONFLICT \(idempotency_key\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.Insert(context.Background(), &Feedback{ID: uuid.New(), IdempotencyKey: "k-1"})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_SubmitQueuedIsAccepted(t *testing.T) {
	st := newMemoryStore()
	st.setDown(true)
	svc := newService(st, openTestOutbox(t), nil)
	routes := NewHandler(svc).Routes(func(next http.Handler) http.Handler { return next })

	body := `{"firstName":"Jane","lastName":"Doe","email":"jane@example.com","subject":"Opening hours","message":"When do you open on Sunday?"}`
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/contact", bytes.NewBufferString(body)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"queued":true`)

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/contact", bytes.NewBufferString(`{"firstName":"J"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func asAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := &membership.Session{UserID: uuid.New(), Role: membership.RoleAdmin}
		next.ServeHTTP(w, r.WithContext(membership.WithSession(r.Context(), sess)))
	})
}

func TestHandler_ListFlushesQueuedFeedbackFirst(t *testing.T) {
	st := newMemoryStore()
	st.setDown(true)
	outbox := openTestOutbox(t)
	svc := newService(st, outbox, nil)
	ctx := context.Background()

	res, err := svc.Submit(ctx, validForm())
	require.NoError(t, err)
	require.True(t, res.Queued)
	st.setDown(false)

	routes := NewHandler(svc).Routes(asAdmin)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feedback", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Broken search")
	n, err := outbox.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFlushPending_FailureDoesNotFailRequest(t *testing.T) {
	outbox := openTestOutbox(t)
	svc := newService(newMemoryStore(), outbox, nil)
	require.NoError(t, outbox.Close())

	var served bool
	h := FlushPending(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served = true
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/", nil))

	assert.True(t, served)
	assert.Equal(t, http.StatusOK, rec.Code)
}
