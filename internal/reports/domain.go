// internal/reports/domain.go
package reports

import (
	"time"

	"readhub/internal/catalog"
	"readhub/internal/circulation"
	"readhub/internal/membership"
)

// Dataset is everything a report is computed from.
type Dataset struct {
	Books   []*catalog.Book
	Users   []*membership.User
	Members []*membership.Member
	Records []*circulation.BorrowRecord
}

// PopularBook is one row of the most-borrowed list.
type PopularBook struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Count  int    `json:"count"`
}

// NamedCount is a label with the number of items carrying it.
type NamedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// OverdueAnalysis buckets late loans by how late they are.
type OverdueAnalysis struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Minor    int `json:"minor"`
}

// UserActivity describes borrowers active in the window.
type UserActivity struct {
	ActiveUsers   int `json:"activeUsers"`
	AvgBorrowTime int `json:"avgBorrowTime"`
}

// Report is the admin dashboard summary for one date range.
type Report struct {
	GeneratedAt      time.Time       `json:"generatedAt"`
	DateRange        string          `json:"dateRange"`
	StartDate        time.Time       `json:"startDate"`
	TotalBooks       int             `json:"totalBooks"`
	TotalUsers       int             `json:"totalUsers"`
	ActiveBorrowings int             `json:"activeBorrowings"`
	OverdueBooks     int             `json:"overdueBooks"`
	TotalBorrowings  int             `json:"totalBorrowings"`
	NewUsers         int             `json:"newUsers"`
	PopularBooks     []PopularBook   `json:"popularBooks"`
	DepartmentStats  []NamedCount    `json:"departmentStats"`
	BorrowingTrends  map[string]int  `json:"borrowingTrends"`
	OverdueAnalysis  OverdueAnalysis `json:"overdueAnalysis"`
	UserActivity     UserActivity    `json:"userActivity"`
}

// Inventory describes the state of the collection.
type Inventory struct {
	TotalBooks    int          `json:"totalBooks"`
	Available     int          `json:"available"`
	Borrowed      int          `json:"borrowed"`
	AddedInWindow int          `json:"addedInWindow"`
	ByCategory    []NamedCount `json:"byCategory"`
	ByCondition   []NamedCount `json:"byCondition"`
}
