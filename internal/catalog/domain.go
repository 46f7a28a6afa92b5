// internal/catalog/domain.go
package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"readhub/internal/apperrors"
)

const (
	AvailabilityAvailable = "available"
	AvailabilityBorrowed  = "borrowed"
)

// Book is one title on the library shelves. Availability flips between
// available and borrowed only inside the circulation transactions.
type Book struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Title         string     `json:"title" db:"title"`
	Author        string     `json:"author" db:"author"`
	ISBN          string     `json:"isbn" db:"isbn"`
	Category      string     `json:"category" db:"category"`
	Availability  string     `json:"availability" db:"availability"`
	Condition     string     `json:"condition" db:"condition"`
	Description   string     `json:"description" db:"description"`
	Location      string     `json:"location" db:"location"`
	PublishedYear int        `json:"publishedYear" db:"published_year"`
	AddedDate     time.Time  `json:"addedDate" db:"added_date"`
	AddedBy       string     `json:"addedBy" db:"added_by"`
	UpdatedDate   *time.Time `json:"updatedDate,omitempty" db:"updated_date"`
	UpdatedBy     string     `json:"updatedBy,omitempty" db:"updated_by"`
	Version       int        `json:"version" db:"version"`
}

// IsAvailable reports whether the book can be borrowed.
func (b *Book) IsAvailable() bool {
	return b.Availability == AvailabilityAvailable
}

// BookInput carries the editable fields of a book.
type BookInput struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	ISBN          string `json:"isbn"`
	Category      string `json:"category"`
	Condition     string `json:"condition"`
	Description   string `json:"description"`
	Location      string `json:"location"`
	PublishedYear int    `json:"publishedYear"`
}

// Normalize trims whitespace from every text field.
func (in *BookInput) Normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.Category = strings.TrimSpace(in.Category)
	in.Condition = strings.TrimSpace(in.Condition)
	in.Description = strings.TrimSpace(in.Description)
	in.Location = strings.TrimSpace(in.Location)
}

// Validate reports missing or malformed fields.
func (in BookInput) Validate() error {
	fields := map[string]string{}
	if in.Title == "" {
		fields["title"] = "Title is required"
	}
	if in.Author == "" {
		fields["author"] = "Author is required"
	}
	if in.PublishedYear < 0 || in.PublishedYear > time.Now().Year()+1 {
		fields["publishedYear"] = "Published year is out of range"
	}
	if len(fields) > 0 {
		return apperrors.NewFieldErrors(fields)
	}
	return nil
}

// ListFilter narrows a catalog listing. Empty fields match everything.
type ListFilter struct {
	Search       string
	Availability string
	Category     string
}

// BookAddedEvent is recorded when a book joins the catalog.
type BookAddedEvent struct {
	ID     uuid.UUID `json:"id"`
	Title  string    `json:"title"`
	Author string    `json:"author"`
	ISBN   string    `json:"isbn"`
}

// BookUpdatedEvent is recorded when an admin edits a book.
type BookUpdatedEvent struct {
	ID    uuid.UUID `json:"id"`
	Input BookInput `json:"input"`
}

// BookRemovedEvent is recorded when a book is deleted.
type BookRemovedEvent struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}
