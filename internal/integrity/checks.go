// internal/integrity/checks.go
package integrity

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const (
	borrowedWithoutLoanQuery = `SELECT COUNT(*) FROM books b
WHERE b.availability = 'borrowed'
AND NOT EXISTS (SELECT 1 FROM borrowed_books r WHERE r.book_id = b.id AND r.status = 'active')`

	availableWithLoanQuery = `SELECT COUNT(*) FROM books b
WHERE b.availability = 'available'
AND EXISTS (SELECT 1 FROM borrowed_books r WHERE r.book_id = b.id AND r.status = 'active')`

	multipleLoansQuery = `SELECT COUNT(*) FROM (
SELECT book_id FROM borrowed_books WHERE status = 'active'
GROUP BY book_id HAVING COUNT(*) > 1) doubled`

	returnedWithoutDateQuery = `SELECT COUNT(*) FROM borrowed_books
WHERE status = 'returned' AND return_date IS NULL`

	overLimitQuery = `SELECT COUNT(*) FROM (
SELECT borrower_id FROM borrowed_books WHERE status = 'active'
GROUP BY borrower_id HAVING COUNT(*) > $1) over_limit`

	pastDueQuery = `SELECT COUNT(*) FROM borrowed_books
WHERE status = 'active' AND due_date < CURRENT_DATE`

	missingProfileQuery = `SELECT COUNT(*) FROM users u
WHERE u.role = 'user'
AND NOT EXISTS (SELECT 1 FROM members m WHERE m.user_id = u.id)`
)

// count returns a metric query for a single COUNT(*) statement.
func count(db *sqlx.DB, query string, args ...interface{}) func(context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		var n int64
		if err := db.GetContext(ctx, &n, query, args...); err != nil {
			return 0, fmt.Errorf("failed to run count query: %w", err)
		}
		return float64(n), nil
	}
}

func zero(name string, query func(context.Context) (float64, error)) Metric {
	return Metric{Name: name, Query: query, Threshold: Threshold{Operator: "==", Value: 0}}
}

// LibraryChecks returns the consistency checks over books, loans and
// members. maxBooks is the per-reader loan limit.
func LibraryChecks(db *sqlx.DB, maxBooks int) []Check {
	return []Check{
		{
			Name:       "borrowed-books-have-loan",
			Hypothesis: "Every book marked borrowed has exactly one active loan",
			Metrics: []Metric{
				zero("borrowed_without_active_loan", count(db, borrowedWithoutLoanQuery)),
			},
		},
		{
			Name:       "available-books-are-free",
			Hypothesis: "No book marked available is held by an active loan",
			Metrics: []Metric{
				zero("available_with_active_loan", count(db, availableWithLoanQuery)),
			},
		},
		{
			Name:       "one-loan-per-book",
			Hypothesis: "No book is held by more than one active loan",
			Metrics: []Metric{
				zero("books_with_multiple_loans", count(db, multipleLoansQuery)),
			},
		},
		{
			Name:       "returned-loans-are-dated",
			Hypothesis: "Every returned loan records its return date",
			Metrics: []Metric{
				zero("returned_without_date", count(db, returnedWithoutDateQuery)),
			},
		},
		{
			Name:       "borrowers-within-limit",
			Hypothesis: fmt.Sprintf("No reader holds more than %d active loans", maxBooks),
			Metrics: []Metric{
				zero("borrowers_over_limit", count(db, overLimitQuery, maxBooks)),
			},
		},
		{
			Name:       "loans-past-due",
			Hypothesis: "Active loans are returned by their due date",
			Metrics: []Metric{
				zero("active_loans_past_due", count(db, pastDueQuery)),
			},
			ReportOnly: true,
		},
		{
			Name:       "readers-have-profile",
			Hypothesis: "Every reader account has a member profile",
			Metrics: []Metric{
				zero("readers_without_profile", count(db, missingProfileQuery)),
			},
			ReportOnly: true,
		},
	}
}
