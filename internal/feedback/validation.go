// internal/feedback/validation.go
package feedback

import (
	"strconv"
	"strings"

	"readhub/internal/apperrors"
	"readhub/internal/membership"
)

const (
	minNameLength    = 2
	minSubjectLength = 5
	minMessageLength = 10
	maxMessageLength = 1000
)

func validateContact(f ContactForm) error {
	fields := map[string]string{}

	if len(strings.TrimSpace(f.FirstName)) < minNameLength {
		fields["firstName"] = "First name must be at least " + strconv.Itoa(minNameLength) + " characters long"
	}
	if len(strings.TrimSpace(f.LastName)) < minNameLength {
		fields["lastName"] = "Last name must be at least " + strconv.Itoa(minNameLength) + " characters long"
	}
	if !membership.ValidEmail(strings.TrimSpace(f.Email)) {
		fields["email"] = "Please enter a valid email address"
	}
	if len(strings.TrimSpace(f.Subject)) < minSubjectLength {
		fields["subject"] = "Subject must be at least " + strconv.Itoa(minSubjectLength) + " characters long"
	}
	msg := strings.TrimSpace(f.Message)
	switch {
	case len(msg) < minMessageLength:
		fields["message"] = "Message must be at least " + strconv.Itoa(minMessageLength) + " characters long"
	case len([]rune(msg)) > maxMessageLength:
		fields["message"] = "Message must be at most " + strconv.Itoa(maxMessageLength) + " characters long"
	}

	if len(fields) > 0 {
		return apperrors.NewFieldErrors(fields)
	}
	return nil
}

// classifiers are checked in order; the first type with a matching keyword
// wins.
var classifiers = []struct {
	kind     string
	keywords []string
}{
	{TypeBugReport, []string{"bug", "error", "problem", "issue"}},
	{TypeSuggestion, []string{"suggest", "recommend", "improve", "enhance"}},
	{TypeComplaint, []string{"complaint", "angry", "disappointed", "frustrated"}},
	{TypeCompliment, []string{"thank", "great", "excellent", "love", "amazing"}},
	{TypeFeatureRequest, []string{"feature", "request", "add", "new functionality"}},
}

// Classify assigns a feedback type from keywords in the subject and message.
func Classify(subject, message string) string {
	content := strings.ToLower(subject + " " + message)
	for _, c := range classifiers {
		for _, kw := range c.keywords {
			if strings.Contains(content, kw) {
				return c.kind
			}
		}
	}
	return TypeGeneral
}

func validStatus(s string) bool {
	switch s {
	case StatusNew, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

func validPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
