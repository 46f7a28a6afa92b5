// internal/membership/profile.go
package membership

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Profile defaults applied to every member created by an administrator.
const (
	DefaultMembershipType   = "student"
	DefaultMembershipStatus = "active"
	DefaultSemester         = "Fall"
)

// DefaultPreferences returns the notification settings new members start with.
func DefaultPreferences() Preferences {
	return Preferences{
		Notifications:      true,
		EmailNotifications: true,
		SMSNotifications:   false,
		PreferredLanguage:  "en",
	}
}

// DefaultContactMethods returns the contact channels new members start with.
func DefaultContactMethods() ContactMethods {
	return ContactMethods{Email: true}
}

// newMember builds the profile for userID from the admin form.
func newMember(userID uuid.UUID, in ProfileInput, actor string, now time.Time) (*Member, error) {
	card, err := libraryCardNumber(now)
	if err != nil {
		return nil, err
	}
	enrolled := now
	return &Member{
		ID:                uuid.New(),
		UserID:            userID,
		Phone:             in.Phone,
		StudentID:         in.StudentID,
		Department:        in.Department,
		Year:              in.Year,
		Address:           in.Address,
		EmergencyContact:  in.EmergencyContact,
		Gender:            in.Gender,
		DateOfBirth:       in.DateOfBirth,
		Notes:             in.Notes,
		MembershipType:    DefaultMembershipType,
		MembershipStatus:  DefaultMembershipStatus,
		LibraryCardNumber: card,
		AcademicYear:      in.Year,
		Semester:          DefaultSemester,
		EnrollmentDate:    &enrolled,
		Preferences:       DefaultPreferences(),
		ContactMethods:    DefaultContactMethods(),
		CreatedBy:         actor,
		CreatedAt:         now,
	}, nil
}

// libraryCardNumber is "LIB" followed by the last eight digits of the
// millisecond clock and three random digits.
func libraryCardNumber(now time.Time) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return "", fmt.Errorf("failed to generate card number: %w", err)
	}
	ms := fmt.Sprintf("%d", now.UnixMilli())
	if len(ms) > 8 {
		ms = ms[len(ms)-8:]
	}
	return fmt.Sprintf("LIB%s%03d", ms, n.Int64()), nil
}

func (p Preferences) Value() (driver.Value, error) {
	return valueJSON(p)
}

func (p *Preferences) Scan(src interface{}) error {
	return scanJSON(src, p)
}

func (c ContactMethods) Value() (driver.Value, error) {
	return valueJSON(c)
}

func (c *ContactMethods) Scan(src interface{}) error {
	return scanJSON(src, c)
}

func valueJSON(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported jsonb source %T", src)
	}
}
