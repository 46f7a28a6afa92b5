// internal/membership/domain.go
package membership

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	StatusPending  = "pending"
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// User is an account that can sign in.
type User struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	FullName     string     `json:"fullName" db:"full_name"`
	Role         string     `json:"role" db:"role"`
	Status       string     `json:"status" db:"status"`
	JoinedDate   time.Time  `json:"joinedDate" db:"joined_date"`
	LastLogin    *time.Time `json:"lastLogin,omitempty" db:"last_login"`
	ApprovedDate *time.Time `json:"approvedDate,omitempty" db:"approved_date"`
	ApprovedBy   string     `json:"approvedBy,omitempty" db:"approved_by"`
	Version      int        `json:"version" db:"version"`
}

// Credential represents a user's login credentials.
type Credential struct {
	UserID       uuid.UUID `json:"-" db:"user_id"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Salt         string    `json:"-" db:"salt"`
}

// Preferences are the notification settings stored on a member profile.
type Preferences struct {
	Notifications      bool   `json:"notifications"`
	EmailNotifications bool   `json:"emailNotifications"`
	SMSNotifications   bool   `json:"smsNotifications"`
	PreferredLanguage  string `json:"preferredLanguage"`
}

// ContactMethods lists the channels a member agreed to be reached on.
type ContactMethods struct {
	Email bool `json:"email"`
	Phone bool `json:"phone"`
	SMS   bool `json:"sms"`
}

// Member is the extended library profile of a user, one per user.
type Member struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	UserID            uuid.UUID      `json:"userId" db:"user_id"`
	Phone             string         `json:"phone" db:"phone"`
	StudentID         string         `json:"studentId" db:"student_id"`
	Department        string         `json:"department" db:"department"`
	Year              string         `json:"year" db:"year"`
	Address           string         `json:"address" db:"address"`
	EmergencyContact  string         `json:"emergencyContact" db:"emergency_contact"`
	Gender            string         `json:"gender" db:"gender"`
	DateOfBirth       string         `json:"dateOfBirth" db:"date_of_birth"`
	MembershipType    string         `json:"membershipType" db:"membership_type"`
	MembershipStatus  string         `json:"membershipStatus" db:"membership_status"`
	LibraryCardNumber string         `json:"libraryCardNumber" db:"library_card_number"`
	AcademicYear      string         `json:"academicYear" db:"academic_year"`
	Semester          string         `json:"semester" db:"semester"`
	EnrollmentDate    *time.Time     `json:"enrollmentDate,omitempty" db:"enrollment_date"`
	Notes             string         `json:"notes" db:"notes"`
	Preferences       Preferences    `json:"preferences" db:"preferences"`
	ContactMethods    ContactMethods `json:"contactMethods" db:"contact_methods"`
	CreatedBy         string         `json:"createdBy" db:"created_by"`
	CreatedAt         time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt         *time.Time     `json:"updatedAt,omitempty" db:"updated_at"`
	UpdatedBy         string         `json:"updatedBy,omitempty" db:"updated_by"`
}

// UserWithMember pairs an account with its profile for admin listings.
type UserWithMember struct {
	User
	Member *Member `json:"member,omitempty"`
}

// Session is the signed-in state handed back to clients as an opaque token.
type Session struct {
	Token       string    `json:"token"`
	UserID      uuid.UUID `json:"uid"`
	Email       string    `json:"email"`
	Role        string    `json:"userType"`
	DisplayName string    `json:"fullName"`
	LoginTime   time.Time `json:"loginTime"`
	RememberMe  bool      `json:"rememberMe"`
}

// IsAdmin reports whether the session belongs to an administrator.
func (s *Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// RegisterRequest is the self-service sign-up form.
type RegisterRequest struct {
	UserType        string `json:"userType"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	FullName        string `json:"fullName"`
}

// SignInRequest is the login form. UserType must match the account's role.
type SignInRequest struct {
	UserType   string `json:"userType"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// SignInResult tells the client where to go after a successful login.
type SignInResult struct {
	Session  *Session `json:"session"`
	Redirect string   `json:"redirect"`
}

// ProfileInput carries the member profile fields an admin may set.
type ProfileInput struct {
	Phone            string `json:"phone"`
	StudentID        string `json:"studentId"`
	Department       string `json:"department"`
	Year             string `json:"year"`
	Address          string `json:"address"`
	EmergencyContact string `json:"emergencyContact"`
	Gender           string `json:"gender"`
	DateOfBirth      string `json:"dateOfBirth"`
	Notes            string `json:"notes"`
}

// AddUserRequest is the admin form that creates an account and its profile.
type AddUserRequest struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Password string `json:"password"`
	Status   string `json:"status"`
	ProfileInput
}

// UpdateUserRequest is the admin edit form.
type UpdateUserRequest struct {
	FullName string `json:"fullName"`
	Status   string `json:"status"`
	ProfileInput
}

// UserRegisteredEvent is recorded when an account is created.
type UserRegisteredEvent struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Role  string    `json:"role"`
}

// UserUpdatedEvent is recorded when an admin edits an account.
type UserUpdatedEvent struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"fullName"`
	Status   string    `json:"status"`
}

// UserApprovedEvent is recorded when a pending account is activated.
type UserApprovedEvent struct {
	ID         uuid.UUID `json:"id"`
	ApprovedBy string    `json:"approvedBy"`
}

// UserDeletedEvent is recorded when an account and its profile are removed.
type UserDeletedEvent struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}
