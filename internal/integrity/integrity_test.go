package integrity

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(v float64) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) { return v, nil }
}

func TestEvaluateThreshold(t *testing.T) {
	cases := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 2, true},
		{"<", 2, false},
		{">=", 1, true},
		{"<=", 1, true},
		{"==", 1, true},
		{"==", 0, false},
		{"!=", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.op, func(t *testing.T) {
			assert.Equal(t, tc.want, evaluateThreshold(tc.value, Threshold{Operator: tc.op, Value: 1}))
		})
	}
}

func TestRun_RecordsViolation(t *testing.T) {
	e := NewEngine()
	r := e.Run(context.Background(), Check{
		Name:    "loans",
		Metrics: []Metric{zero("orphans", constant(3)), zero("dupes", constant(0))},
	})

	assert.False(t, r.HypothesisHeld)
	assert.True(t, r.Failed())
	require.Len(t, r.Violations, 1)
	assert.Equal(t, "orphans", r.Violations[0].Metric)
	assert.Equal(t, float64(3), r.Violations[0].Actual)
	assert.Equal(t, map[string]float64{"orphans": 3, "dupes": 0}, r.Observations)
	assert.Len(t, e.Results(), 1)
}

func TestRun_QueryErrorRejectsHypothesis(t *testing.T) {
	e := NewEngine()
	r := e.Run(context.Background(), Check{
		Name: "broken",
		Metrics: []Metric{{
			Name:      "count",
			Query:     func(context.Context) (float64, error) { return 0, errors.New("relation does not exist") },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
	})

	assert.False(t, r.HypothesisHeld)
	assert.Empty(t, r.Violations)
	require.Len(t, r.ErrorEvents, 1)
	assert.Contains(t, r.ErrorEvents[0].Error, "relation does not exist")
}

func TestRun_ReportOnlyNeverFails(t *testing.T) {
	e := NewEngine()
	r := e.Run(context.Background(), Check{
		Name:       "past-due",
		Metrics:    []Metric{zero("overdue", constant(7))},
		ReportOnly: true,
	})

	assert.False(t, r.HypothesisHeld)
	assert.False(t, r.Failed())
	assert.Equal(t, "0 held, 0 failed, 1 reported", Summary([]*Result{r}))
}

func TestLibraryChecks(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "postgres")

	counts := func(n int) *sqlmock.Rows { return sqlmock.NewRows([]string{"count"}).AddRow(n) }
	mock.ExpectQuery(`FROM books b\s+WHERE b.availability = 'borrowed'`).WillReturnRows(counts(0))
	mock.ExpectQuery(`FROM books b\s+WHERE b.availability = 'available'`).WillReturnRows(counts(1))
	mock.ExpectQuery(`GROUP BY book_id HAVING COUNT\(\*\) > 1`).WillReturnRows(counts(0))
	mock.ExpectQuery(`status = 'returned' AND return_date IS NULL`).WillReturnRows(counts(0))
	mock.ExpectQuery(`HAVING COUNT\(\*\) > \$1`).WithArgs(5).WillReturnRows(counts(0))
	mock.ExpectQuery(`due_date < CURRENT_DATE`).WillReturnRows(counts(4))
	mock.ExpectQuery(`FROM users u`).WillReturnRows(counts(0))

	e := NewEngine()
	e.Register(LibraryChecks(db, 5)...)
	results, ok := e.RunAll(context.Background())

	assert.False(t, ok)
	require.Len(t, results, 7)
	assert.True(t, results[0].HypothesisHeld)
	assert.True(t, results[1].Failed())
	assert.False(t, results[5].HypothesisHeld)
	assert.False(t, results[5].Failed())
	assert.Equal(t, "5 held, 1 failed, 1 reported", Summary(results))
	assert.Contains(t, e.Checks()[4].Hypothesis, "more than 5")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunAll_StopsWhenCanceled(t *testing.T) {
	e := NewEngine()
	e.Register(Check{Name: "a", Metrics: []Metric{zero("n", constant(0))}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, ok := e.RunAll(ctx)
	assert.False(t, ok)
	assert.Empty(t, results)
}
