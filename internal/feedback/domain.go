// internal/feedback/domain.go
package feedback

import (
	"time"

	"github.com/google/uuid"
)

// Feedback statuses.
const (
	StatusNew        = "new"
	StatusInProgress = "in-progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

// Feedback priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Feedback types, assigned by Classify.
const (
	TypeBugReport      = "bug-report"
	TypeSuggestion     = "suggestion"
	TypeComplaint      = "complaint"
	TypeCompliment     = "compliment"
	TypeFeatureRequest = "feature-request"
	TypeGeneral        = "general"
)

// Feedback is one contact-form submission and its triage state.
type Feedback struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	IdempotencyKey string     `json:"idempotencyKey" db:"idempotency_key"`
	Subject        string     `json:"subject" db:"subject"`
	Message        string     `json:"message" db:"message"`
	Type           string     `json:"type" db:"type"`
	Status         string     `json:"status" db:"status"`
	Priority       string     `json:"priority" db:"priority"`
	UserName       string     `json:"userName" db:"user_name"`
	UserEmail      string     `json:"userEmail" db:"user_email"`
	UserPhone      string     `json:"userPhone" db:"user_phone"`
	AdminResponse  string     `json:"adminResponse" db:"admin_response"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt      *time.Time `json:"updatedAt" db:"updated_at"`
	UpdatedBy      string     `json:"updatedBy" db:"updated_by"`
}

// ContactForm is the public contact form.
type ContactForm struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
}

// SubmitResult tells the caller whether the submission reached the store or
// is waiting in the local outbox.
type SubmitResult struct {
	Feedback *Feedback `json:"feedback"`
	Queued   bool      `json:"queued"`
}

// FlushResult summarizes one outbox flush.
type FlushResult struct {
	Flushed    int  `json:"flushed"`
	Failed     int  `json:"failed"`
	Remaining  int  `json:"remaining"`
	InProgress bool `json:"inProgress,omitempty"`
}

// Filter narrows the admin feedback list. Empty fields match everything.
type Filter struct {
	Status   string
	Type     string
	Priority string
	Search   string
}

// ResponseInput is an admin's reply to a submission.
type ResponseInput struct {
	Status        string `json:"status"`
	Priority      string `json:"priority"`
	AdminResponse string `json:"adminResponse"`
}

// Stats counts submissions per status.
type Stats struct {
	Total      int `json:"total"`
	New        int `json:"new"`
	InProgress int `json:"inProgress"`
	Resolved   int `json:"resolved"`
	Closed     int `json:"closed"`
}
