// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"
)

// Persisted record states. StatusOverdue is never stored; it is derived from
// the due date of an active record.
const (
	StatusActive   = "active"
	StatusReturned = "returned"
	StatusOverdue  = "overdue"
)

// BorrowRecord tracks one loan of one book to one borrower. Borrower and
// book fields are copied at borrow time.
type BorrowRecord struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	BookID        uuid.UUID  `json:"bookId" db:"book_id"`
	BorrowerID    uuid.UUID  `json:"borrowerId" db:"borrower_id"`
	BorrowerName  string     `json:"borrowerName" db:"borrower_name"`
	BorrowerEmail string     `json:"borrowerEmail" db:"borrower_email"`
	BookTitle     string     `json:"bookTitle" db:"book_title"`
	BookAuthor    string     `json:"author" db:"book_author"`
	BookISBN      string     `json:"isbn" db:"book_isbn"`
	BorrowDate    time.Time  `json:"borrowDate" db:"borrow_date"`
	DueDate       time.Time  `json:"dueDate" db:"due_date"`
	ReturnDate    *time.Time `json:"returnDate,omitempty" db:"return_date"`
	Status        string     `json:"status" db:"status"`
	Renewals      int        `json:"renewals" db:"renewals"`
	Version       int        `json:"version" db:"version"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
}

// IsActive reports whether the book is still out.
func (r *BorrowRecord) IsActive() bool {
	return r.Status == StatusActive
}

// DaysOverdue is the number of whole days the due date lies before now.
// It is zero or negative for records that are not late.
func (r *BorrowRecord) DaysOverdue(now time.Time) int {
	return int(dateOf(now).Sub(dateOf(r.DueDate)).Hours() / 24)
}

// EffectiveStatus is the status shown to people: active records past their
// due date are overdue.
func (r *BorrowRecord) EffectiveStatus(now time.Time) string {
	if r.IsActive() && r.DaysOverdue(now) > 0 {
		return StatusOverdue
	}
	return r.Status
}

// dateOf truncates t to midnight UTC of its calendar day.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MemberDetails is the borrower profile shown next to a loan. Missing
// values carry their placeholder.
type MemberDetails struct {
	ID                string `json:"id"`
	UserID            string `json:"userId"`
	Phone             string `json:"phone"`
	StudentID         string `json:"studentId"`
	Department        string `json:"department"`
	Year              string `json:"year"`
	Address           string `json:"address"`
	EmergencyContact  string `json:"emergencyContact"`
	Gender            string `json:"gender"`
	DateOfBirth       string `json:"dateOfBirth"`
	MembershipType    string `json:"membershipType"`
	MembershipStatus  string `json:"membershipStatus"`
	LibraryCardNumber string `json:"libraryCardNumber"`
	AcademicYear      string `json:"academicYear"`
	Semester          string `json:"semester"`
	EnrollmentDate    string `json:"enrollmentDate"`
	Notes             string `json:"notes"`
}

// EnrichedRecord is a BorrowRecord joined with its book and borrower.
type EnrichedRecord struct {
	BorrowRecord
	EffectiveStatus string         `json:"effectiveStatus"`
	Category        string         `json:"category,omitempty"`
	Location        string         `json:"location,omitempty"`
	MemberDetails   *MemberDetails `json:"memberDetails"`
}

// Filter narrows record listings. Empty fields match everything.
type Filter struct {
	Search    string
	StudentID string
	Status    string
}

// BorrowerStats feeds the reader dashboard.
type BorrowerStats struct {
	CurrentBorrowed int  `json:"currentBorrowed"`
	DueSoon         int  `json:"dueSoon"`
	Overdue         int  `json:"overdue"`
	TotalBorrowed   int  `json:"totalBorrowed"`
	CanBorrow       bool `json:"canBorrow"`
}

// BorrowerSummary is the admin view of one borrower's loans.
type BorrowerSummary struct {
	BorrowerID    uuid.UUID         `json:"borrowerId"`
	BorrowerName  string            `json:"borrowerName"`
	BorrowerEmail string            `json:"borrowerEmail"`
	MemberDetails *MemberDetails    `json:"memberDetails"`
	Active        int               `json:"activeCount"`
	Overdue       int               `json:"overdueCount"`
	Records       []*EnrichedRecord `json:"records"`
}

// BookBorrowedEvent is appended to the book's history on borrow.
type BookBorrowedEvent struct {
	RecordID   uuid.UUID `json:"recordId"`
	BookID     uuid.UUID `json:"bookId"`
	BorrowerID uuid.UUID `json:"borrowerId"`
	DueDate    time.Time `json:"dueDate"`
}

// BookReturnedEvent is appended to the book's history on return.
type BookReturnedEvent struct {
	RecordID   uuid.UUID `json:"recordId"`
	BookID     uuid.UUID `json:"bookId"`
	BorrowerID uuid.UUID `json:"borrowerId"`
	ReturnDate time.Time `json:"returnDate"`
}

// DueDateExtendedEvent is appended to the book's history when an admin
// extends a loan.
type DueDateExtendedEvent struct {
	RecordID   uuid.UUID `json:"recordId"`
	BookID     uuid.UUID `json:"bookId"`
	NewDueDate time.Time `json:"newDueDate"`
	Renewals   int       `json:"renewals"`
}
