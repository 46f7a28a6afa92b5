// internal/reports/aggregate.go
package reports

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"readhub/internal/apperrors"
	"readhub/internal/catalog"
	"readhub/internal/circulation"
	"readhub/internal/membership"
)

const (
	// RangeAll reaches back to the start of the library's records.
	RangeAll     = "all"
	DefaultRange = "30"

	dayLayout       = "2006-01-02"
	unknownLabel    = "Unknown"
	popularLimit    = 10
	criticalOverdue = 30
	warningOverdue  = 7
)

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// DateRangeStart returns the cutoff for a range key: a number of days back
// from now, or RangeAll.
func DateRangeStart(rangeKey string, now time.Time) (time.Time, error) {
	switch rangeKey {
	case "":
		rangeKey = DefaultRange
	case RangeAll:
		return epoch, nil
	}
	days, err := strconv.Atoi(rangeKey)
	if err != nil || days <= 0 {
		return time.Time{}, apperrors.NewValidationError(fmt.Sprintf("invalid date range %q", rangeKey))
	}
	return now.UTC().AddDate(0, 0, -days), nil
}

// Build computes the report for records borrowed on or after the range
// cutoff. Totals for books, users and open loans cover the whole dataset.
func Build(ds Dataset, rangeKey string, now time.Time) (*Report, error) {
	start, err := DateRangeStart(rangeKey, now)
	if err != nil {
		return nil, err
	}
	if rangeKey == "" {
		rangeKey = DefaultRange
	}

	inWindow := make([]*circulation.BorrowRecord, 0, len(ds.Records))
	rep := &Report{
		GeneratedAt: now.UTC(),
		DateRange:   rangeKey,
		StartDate:   start,
		TotalBooks:  len(ds.Books),
		TotalUsers:  len(ds.Users),
	}
	for _, r := range ds.Records {
		if r.IsActive() {
			rep.ActiveBorrowings++
			if r.EffectiveStatus(now) == circulation.StatusOverdue {
				rep.OverdueBooks++
			}
		}
		if !r.BorrowDate.Before(start) {
			inWindow = append(inWindow, r)
		}
	}
	for _, u := range ds.Users {
		if !u.JoinedDate.Before(start) {
			rep.NewUsers++
		}
	}

	rep.TotalBorrowings = len(inWindow)
	rep.PopularBooks = PopularBooks(inWindow)
	rep.DepartmentStats = DepartmentStats(ds.Members)
	rep.BorrowingTrends = BorrowingTrends(inWindow, start, now)
	rep.OverdueAnalysis = AnalyzeOverdue(ds.Records, now)
	rep.UserActivity = Activity(inWindow)
	return rep, nil
}

// PopularBooks counts loans per title and returns the top titles, most
// borrowed first. Equal counts keep the order titles were first seen in.
func PopularBooks(records []*circulation.BorrowRecord) []PopularBook {
	index := map[string]int{}
	books := []PopularBook{}
	for _, r := range records {
		if i, ok := index[r.BookTitle]; ok {
			books[i].Count++
			continue
		}
		author := r.BookAuthor
		if author == "" {
			author = unknownLabel
		}
		index[r.BookTitle] = len(books)
		books = append(books, PopularBook{Title: r.BookTitle, Author: author, Count: 1})
	}

	sort.SliceStable(books, func(i, j int) bool { return books[i].Count > books[j].Count })
	if len(books) > popularLimit {
		books = books[:popularLimit]
	}
	return books
}

// DepartmentStats counts members per department. Members without one are
// counted under "Unknown".
func DepartmentStats(members []*membership.Member) []NamedCount {
	return countBy(len(members), func(i int) string { return members[i].Department })
}

// BorrowingTrends counts loans per day from start to now. Every day in the
// window is present, days without loans at zero.
func BorrowingTrends(records []*circulation.BorrowRecord, start, now time.Time) map[string]int {
	trends := map[string]int{}
	last := truncateDay(now)
	for d := truncateDay(start); !d.After(last); d = d.AddDate(0, 0, 1) {
		trends[d.Format(dayLayout)] = 0
	}
	for _, r := range records {
		key := r.BorrowDate.UTC().Format(dayLayout)
		if _, ok := trends[key]; ok {
			trends[key]++
		}
	}
	return trends
}

// AnalyzeOverdue buckets loans that are still out by days past due. Loans
// due today or later fall in no bucket.
func AnalyzeOverdue(records []*circulation.BorrowRecord, now time.Time) OverdueAnalysis {
	var a OverdueAnalysis
	for _, r := range records {
		if !r.IsActive() {
			continue
		}
		switch days := r.DaysOverdue(now); {
		case days > criticalOverdue:
			a.Critical++
		case days > warningOverdue:
			a.Warning++
		case days > 0:
			a.Minor++
		}
	}
	return a
}

// Activity counts distinct borrowers and the mean loan length in days over
// returned loans.
func Activity(records []*circulation.BorrowRecord) UserActivity {
	borrowers := map[string]struct{}{}
	var total float64
	var returned int
	for _, r := range records {
		borrowers[r.BorrowerID.String()] = struct{}{}
		if r.ReturnDate != nil {
			total += r.ReturnDate.Sub(r.BorrowDate).Hours() / 24
			returned++
		}
	}

	act := UserActivity{ActiveUsers: len(borrowers)}
	if returned > 0 {
		act.AvgBorrowTime = int(math.Round(total / float64(returned)))
	}
	return act
}

// BuildInventory summarizes the collection by availability, category and
// condition.
func BuildInventory(books []*catalog.Book, start time.Time) *Inventory {
	inv := &Inventory{
		TotalBooks:  len(books),
		ByCategory:  countBy(len(books), func(i int) string { return books[i].Category }),
		ByCondition: countBy(len(books), func(i int) string { return books[i].Condition }),
	}
	for _, b := range books {
		if b.IsAvailable() {
			inv.Available++
		} else {
			inv.Borrowed++
		}
		if !b.AddedDate.Before(start) {
			inv.AddedInWindow++
		}
	}
	return inv
}

// countBy groups n items by label, most common first, ties in encounter
// order.
func countBy(n int, label func(i int) string) []NamedCount {
	index := map[string]int{}
	counts := []NamedCount{}
	for i := 0; i < n; i++ {
		name := strings.TrimSpace(label(i))
		if name == "" {
			name = unknownLabel
		}
		if j, ok := index[name]; ok {
			counts[j].Count++
			continue
		}
		index[name] = len(counts)
		counts = append(counts, NamedCount{Name: name, Count: 1})
	}
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	return counts
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	dayLayout,
}

// FormatDate renders an ISO-8601 date or timestamp as M/D/YYYY in UTC.
// Anything it cannot parse renders as "Invalid Date".
func FormatDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return fmt.Sprintf("%d/%d/%d", int(t.Month()), t.Day(), t.Year())
		}
	}
	return "Invalid Date"
}
