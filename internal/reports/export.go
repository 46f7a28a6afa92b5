// internal/reports/export.go
package reports

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"readhub/internal/apperrors"
)

// Export sections, in the order they are written.
const (
	SectionOverview    = "overview"
	SectionBorrowing   = "borrowing"
	SectionPopular     = "popular"
	SectionUsers       = "users"
	SectionOverdue     = "overdue"
	SectionDepartments = "departments"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// AllSections lists every export section.
var AllSections = []string{
	SectionOverview, SectionBorrowing, SectionPopular,
	SectionUsers, SectionOverdue, SectionDepartments,
}

// Overview is the headline counters section.
type Overview struct {
	TotalBooks       int `json:"totalBooks"`
	TotalUsers       int `json:"totalUsers"`
	ActiveBorrowings int `json:"activeBorrowings"`
	OverdueBooks     int `json:"overdueBooks"`
}

// Borrowing is the loan volume section.
type Borrowing struct {
	TotalBorrowings     int            `json:"totalBorrowings"`
	AvgBorrowingsPerDay int            `json:"avgBorrowingsPerDay"`
	Trends              map[string]int `json:"trends"`
}

// UserSection is the reader activity section.
type UserSection struct {
	NewUsers      int `json:"newUsers"`
	ActiveUsers   int `json:"activeUsers"`
	AvgBorrowTime int `json:"avgBorrowTime"`
}

// Sections holds the selected parts of a report. Unselected parts are nil.
type Sections struct {
	Overview        *Overview        `json:"overview,omitempty"`
	Borrowing       *Borrowing       `json:"borrowing,omitempty"`
	PopularBooks    []PopularBook    `json:"popularBooks,omitempty"`
	UserActivity    *UserSection     `json:"userActivity,omitempty"`
	OverdueAnalysis *OverdueAnalysis `json:"overdueAnalysis,omitempty"`
	DepartmentStats []NamedCount     `json:"departmentStats,omitempty"`
}

// Document is an exportable report.
type Document struct {
	ExportDate string   `json:"exportDate"`
	DateRange  string   `json:"dateRange"`
	Sections   Sections `json:"sections"`

	order []string
}

// ParseSections splits a comma-separated section list. An empty list selects
// every section.
func ParseSections(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return AllSections, nil
	}
	var sections []string
	seen := map[string]bool{}
	for _, s := range strings.Split(raw, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		if !knownSection(s) {
			return nil, apperrors.NewValidationError(fmt.Sprintf("unknown report section %q", s))
		}
		seen[s] = true
		sections = append(sections, s)
	}
	if len(sections) == 0 {
		return nil, apperrors.NewValidationError("Please select at least one report section to export.")
	}
	return sections, nil
}

func knownSection(s string) bool {
	for _, known := range AllSections {
		if s == known {
			return true
		}
	}
	return false
}

// NewDocument selects sections from rep. The average borrowings per day is
// taken over the days in the report window.
func NewDocument(rep *Report, sections []string, exportedAt time.Time) *Document {
	doc := &Document{
		ExportDate: exportedAt.UTC().Format(time.RFC3339Nano),
		DateRange:  rep.DateRange,
		order:      sections,
	}
	for _, s := range sections {
		switch s {
		case SectionOverview:
			doc.Sections.Overview = &Overview{
				TotalBooks:       rep.TotalBooks,
				TotalUsers:       rep.TotalUsers,
				ActiveBorrowings: rep.ActiveBorrowings,
				OverdueBooks:     rep.OverdueBooks,
			}
		case SectionBorrowing:
			days := len(rep.BorrowingTrends)
			if days == 0 {
				days = 1
			}
			doc.Sections.Borrowing = &Borrowing{
				TotalBorrowings:     rep.TotalBorrowings,
				AvgBorrowingsPerDay: int(math.Round(float64(rep.TotalBorrowings) / float64(days))),
				Trends:              rep.BorrowingTrends,
			}
		case SectionPopular:
			doc.Sections.PopularBooks = nonNil(rep.PopularBooks)
		case SectionUsers:
			doc.Sections.UserActivity = &UserSection{
				NewUsers:      rep.NewUsers,
				ActiveUsers:   rep.UserActivity.ActiveUsers,
				AvgBorrowTime: rep.UserActivity.AvgBorrowTime,
			}
		case SectionOverdue:
			a := rep.OverdueAnalysis
			doc.Sections.OverdueAnalysis = &a
		case SectionDepartments:
			doc.Sections.DepartmentStats = nonNil(rep.DepartmentStats)
		}
	}
	return doc
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// WriteJSON writes doc as indented JSON.
func (doc *Document) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteCSV writes a header block followed by one block per section.
func (doc *Document) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	blank := func() error {
		cw.Flush()
		_, err := io.WriteString(w, "\n")
		return err
	}
	rows := func(rs ...[]string) error {
		return cw.WriteAll(rs)
	}

	exported, _ := time.Parse(time.RFC3339Nano, doc.ExportDate)
	if err := rows(
		[]string{"ReadHub Library Management System - Report Export"},
		[]string{"Generated on: " + exported.Format("1/2/2006 3:04:05 PM")},
		[]string{"Date Range: " + rangeLabel(doc.DateRange)},
	); err != nil {
		return err
	}

	s := doc.Sections
	for _, section := range doc.order {
		if err := blank(); err != nil {
			return err
		}
		if err := rows([]string{"=== " + strings.ToUpper(section) + " REPORT ==="}); err != nil {
			return err
		}

		var err error
		switch section {
		case SectionOverview:
			err = rows(
				[]string{"Metric", "Value"},
				[]string{"Total Books", itoa(s.Overview.TotalBooks)},
				[]string{"Total Users", itoa(s.Overview.TotalUsers)},
				[]string{"Active Borrowings", itoa(s.Overview.ActiveBorrowings)},
				[]string{"Overdue Books", itoa(s.Overview.OverdueBooks)},
			)
		case SectionBorrowing:
			err = rows(
				[]string{"Metric", "Value"},
				[]string{"Total Borrowings", itoa(s.Borrowing.TotalBorrowings)},
				[]string{"Average per Day", itoa(s.Borrowing.AvgBorrowingsPerDay)},
			)
			if err == nil {
				err = blank()
			}
			if err == nil {
				out := [][]string{{"Date", "Borrowings"}}
				for _, day := range sortedKeys(s.Borrowing.Trends) {
					out = append(out, []string{day, itoa(s.Borrowing.Trends[day])})
				}
				err = rows(out...)
			}
		case SectionPopular:
			out := [][]string{{"Rank", "Title", "Author", "Borrow Count"}}
			for i, b := range s.PopularBooks {
				out = append(out, []string{itoa(i + 1), b.Title, b.Author, itoa(b.Count)})
			}
			err = rows(out...)
		case SectionUsers:
			err = rows(
				[]string{"Metric", "Value"},
				[]string{"New Users", itoa(s.UserActivity.NewUsers)},
				[]string{"Active Users", itoa(s.UserActivity.ActiveUsers)},
				[]string{"Average Borrow Time (days)", itoa(s.UserActivity.AvgBorrowTime)},
			)
		case SectionOverdue:
			err = rows(
				[]string{"Category", "Count"},
				[]string{"Critical (>30 days)", itoa(s.OverdueAnalysis.Critical)},
				[]string{"Warning (7-30 days)", itoa(s.OverdueAnalysis.Warning)},
				[]string{"Minor (1-7 days)", itoa(s.OverdueAnalysis.Minor)},
			)
		case SectionDepartments:
			out := [][]string{{"Department", "User Count"}}
			for _, d := range s.DepartmentStats {
				out = append(out, []string{d.Name, itoa(d.Count)})
			}
			err = rows(out...)
		}
		if err != nil {
			return fmt.Errorf("failed to write %s section: %w", section, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func rangeLabel(r string) string {
	if r == RangeAll {
		return "All time"
	}
	return "Last " + r + " days"
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
