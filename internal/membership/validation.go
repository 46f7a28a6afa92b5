// internal/membership/validation.go
package membership

import (
	"regexp"
	"strconv"
	"strings"

	"readhub/internal/apperrors"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

func validUserType(t string) bool {
	return t == RoleAdmin || t == RoleUser
}

func validStatus(s string) bool {
	return s == StatusPending || s == StatusActive || s == StatusDisabled
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validateRegister(req RegisterRequest, minPassword int) error {
	fields := map[string]string{}
	if !validUserType(req.UserType) {
		fields["userType"] = "Please select an account type"
	}
	if !ValidEmail(req.Email) {
		fields["email"] = "Please enter a valid email address"
	}
	if len(req.Password) < minPassword {
		fields["password"] = "Password must be at least " + strconv.Itoa(minPassword) + " characters"
	}
	if req.Password != req.ConfirmPassword {
		fields["confirmPassword"] = "Passwords do not match"
	}
	if len(strings.TrimSpace(req.FullName)) < 2 {
		fields["fullName"] = "Please enter your full name"
	}
	if len(fields) > 0 {
		return apperrors.NewFieldErrors(fields)
	}
	return nil
}

func validateSignIn(req SignInRequest) error {
	fields := map[string]string{}
	if !validUserType(req.UserType) {
		fields["userType"] = "Please select an account type"
	}
	if !ValidEmail(req.Email) {
		fields["email"] = "Please enter a valid email address"
	}
	if req.Password == "" {
		fields["password"] = "Password is required"
	}
	if len(fields) > 0 {
		return apperrors.NewFieldErrors(fields)
	}
	return nil
}

func validateAddUser(req AddUserRequest, minPassword int) error {
	fields := map[string]string{}
	if !ValidEmail(req.Email) {
		fields["email"] = "Please enter a valid email address"
	}
	if len(strings.TrimSpace(req.FullName)) < 2 {
		fields["fullName"] = "Please enter the full name"
	}
	if len(req.Password) < minPassword {
		fields["password"] = "Password must be at least " + strconv.Itoa(minPassword) + " characters"
	}
	if req.Status != "" && !validStatus(req.Status) {
		fields["status"] = "Unknown status"
	}
	if len(fields) > 0 {
		return apperrors.NewFieldErrors(fields)
	}
	return nil
}

func validateUpdateUser(req UpdateUserRequest) error {
	fields := map[string]string{}
	if len(strings.TrimSpace(req.FullName)) < 2 {
		fields["fullName"] = "Please enter the full name"
	}
	if req.Status != "" && !validStatus(req.Status) {
		fields["status"] = "Unknown status"
	}
	if len(fields) > 0 {
		return apperrors.NewFieldErrors(fields)
	}
	return nil
}
