// internal/circulation/enrich.go
package circulation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/graph-gophers/dataloader/v7"

	"readhub/internal/catalog"
	"readhub/internal/membership"
	"readhub/internal/observability"
)

// Placeholders shown for fields neither the record nor the joined rows carry.
const (
	placeholderUnknown      = "Unknown"
	placeholderAuthor       = "Unknown Author"
	placeholderISBN         = "No ISBN"
	placeholderNotProvided  = "Not provided"
	placeholderNotSpecified = "Not specified"
	placeholderNotAssigned  = "Not assigned"
)

// BookLookup fetches books by id in one round trip.
type BookLookup interface {
	GetByIDs(ctx context.Context, ids []string) ([]*catalog.Book, error)
}

// BorrowerLookup fetches users and their member profiles by user id in one
// round trip each.
type BorrowerLookup interface {
	GetUsersByIDs(ctx context.Context, ids []string) ([]*membership.User, error)
	GetMembersByUserIDs(ctx context.Context, userIDs []string) ([]*membership.Member, error)
}

// Enricher joins borrow records with their books and borrowers.
type Enricher struct {
	books     BookLookup
	borrowers BorrowerLookup
	now       func() time.Time
}

// NewEnricher creates an Enricher over the given lookups.
func NewEnricher(books BookLookup, borrowers BorrowerLookup) *Enricher {
	return &Enricher{books: books, borrowers: borrowers, now: time.Now}
}

// loaders are built per Enrich call so every pass reads current rows.
type loaders struct {
	books   *dataloader.Loader[string, *catalog.Book]
	users   *dataloader.Loader[string, *membership.User]
	members *dataloader.Loader[string, *membership.Member]
}

func (e *Enricher) newLoaders() *loaders {
	return &loaders{
		books: dataloader.NewBatchedLoader(batchBy(e.books.GetByIDs, func(b *catalog.Book) string {
			return b.ID.String()
		})),
		users: dataloader.NewBatchedLoader(batchBy(e.borrowers.GetUsersByIDs, func(u *membership.User) string {
			return u.ID.String()
		})),
		members: dataloader.NewBatchedLoader(batchBy(e.borrowers.GetMembersByUserIDs, func(m *membership.Member) string {
			return m.UserID.String()
		})),
	}
}

// batchBy adapts a multi-get into a dataloader batch function. Keys with no
// matching row resolve to a not-found error.
func batchBy[V any](fetch func(context.Context, []string) ([]V, error), keyOf func(V) string) dataloader.BatchFunc[string, V] {
	return func(ctx context.Context, keys []string) []*dataloader.Result[V] {
		results := make([]*dataloader.Result[V], len(keys))
		rows, err := fetch(ctx, keys)

		byKey := make(map[string]V, len(rows))
		if err == nil {
			for _, row := range rows {
				byKey[keyOf(row)] = row
			}
		}

		for i, key := range keys {
			if err != nil {
				results[i] = &dataloader.Result[V]{Error: err}
			} else if row, ok := byKey[key]; ok {
				results[i] = &dataloader.Result[V]{Data: row}
			} else {
				results[i] = &dataloader.Result[V]{Error: fmt.Errorf("%s not found", key)}
			}
		}
		return results
	}
}

// Enrich joins every record with its book and borrower, drops duplicate
// record ids and sorts by borrow date, newest first. A failed lookup leaves
// the record with placeholders; it is never dropped.
func (e *Enricher) Enrich(ctx context.Context, records []*BorrowRecord) []*EnrichedRecord {
	records = dedupe(records)
	if len(records) == 0 {
		return []*EnrichedRecord{}
	}

	bookIDs := make([]string, len(records))
	borrowerIDs := make([]string, len(records))
	for i, r := range records {
		bookIDs[i] = r.BookID.String()
		borrowerIDs[i] = r.BorrowerID.String()
	}

	l := e.newLoaders()
	booksThunk := l.books.LoadMany(ctx, bookIDs)
	usersThunk := l.users.LoadMany(ctx, borrowerIDs)
	membersThunk := l.members.LoadMany(ctx, borrowerIDs)

	books, bookErrs := booksThunk()
	users, userErrs := usersThunk()
	members, memberErrs := membersThunk()

	now := e.now()
	logger := observability.LoggerFromContext(ctx)
	out := make([]*EnrichedRecord, len(records))
	for i, r := range records {
		var (
			book   *catalog.Book
			user   *membership.User
			member *membership.Member
		)
		if failed(bookErrs, i) {
			logger.Debug().Err(bookErrs[i]).Str("book_id", bookIDs[i]).Msg("book lookup failed")
		} else {
			book = books[i]
		}
		if !failed(userErrs, i) {
			user = users[i]
		}
		if failed(memberErrs, i) {
			logger.Debug().Err(memberErrs[i]).Str("borrower_id", borrowerIDs[i]).Msg("member lookup failed")
		} else {
			member = members[i]
		}
		out[i] = merge(r, book, user, member)
		out[i].EffectiveStatus = r.EffectiveStatus(now)
	}

	sortNewestFirst(out)
	return out
}

func failed(errs []error, i int) bool {
	return i < len(errs) && errs[i] != nil
}

func dedupe(records []*BorrowRecord) []*BorrowRecord {
	seen := make(map[string]bool, len(records))
	out := make([]*BorrowRecord, 0, len(records))
	for _, r := range records {
		key := r.ID.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func sortNewestFirst(records []*EnrichedRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].BorrowDate.After(records[j].BorrowDate)
	})
}

// merge prefers values copied onto the record, then the joined rows, then
// the field's placeholder.
func merge(r *BorrowRecord, book *catalog.Book, user *membership.User, member *membership.Member) *EnrichedRecord {
	rec := *r
	out := &EnrichedRecord{BorrowRecord: rec}

	var bookTitle, bookAuthor, bookISBN string
	if book != nil {
		bookTitle, bookAuthor, bookISBN = book.Title, book.Author, book.ISBN
		out.Category = book.Category
		out.Location = book.Location
	}
	var userName, userEmail string
	if user != nil {
		userName, userEmail = user.FullName, user.Email
	}

	out.BookTitle = firstOf(placeholderUnknown, r.BookTitle, bookTitle)
	out.BookAuthor = firstOf(placeholderAuthor, r.BookAuthor, bookAuthor)
	out.BookISBN = firstOf(placeholderISBN, r.BookISBN, bookISBN)
	out.BorrowerName = firstOf(placeholderUnknown, r.BorrowerName, userName)
	out.BorrowerEmail = firstOf(placeholderUnknown, r.BorrowerEmail, userEmail)

	if member != nil {
		out.MemberDetails = memberDetails(member)
	}
	return out
}

func memberDetails(m *membership.Member) *MemberDetails {
	enrolled := ""
	if m.EnrollmentDate != nil {
		enrolled = m.EnrollmentDate.Format("2006-01-02")
	}
	return &MemberDetails{
		ID:                m.ID.String(),
		UserID:            m.UserID.String(),
		Phone:             firstOf(placeholderNotProvided, m.Phone),
		StudentID:         firstOf(placeholderNotProvided, m.StudentID),
		Department:        firstOf(placeholderNotProvided, m.Department),
		Year:              firstOf(placeholderNotProvided, m.Year),
		Address:           firstOf(placeholderNotProvided, m.Address),
		EmergencyContact:  firstOf(placeholderNotProvided, m.EmergencyContact),
		Gender:            firstOf(placeholderNotSpecified, m.Gender),
		DateOfBirth:       firstOf(placeholderNotProvided, m.DateOfBirth),
		MembershipType:    firstOf(membership.DefaultMembershipType, m.MembershipType),
		MembershipStatus:  firstOf(membership.DefaultMembershipStatus, m.MembershipStatus),
		LibraryCardNumber: firstOf(placeholderNotAssigned, m.LibraryCardNumber),
		AcademicYear:      firstOf(placeholderNotSpecified, m.AcademicYear),
		Semester:          firstOf(placeholderNotSpecified, m.Semester),
		EnrollmentDate:    firstOf(placeholderNotProvided, enrolled),
		Notes:             m.Notes,
	}
}

// firstOf returns the first non-empty value, or def.
func firstOf(def string, values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return def
}
