package apperrors

// Authentication reason codes returned by the membership service.
const (
	CodeUserNotFound       = "auth/user-not-found"
	CodeWrongPassword      = "auth/wrong-password"
	CodeEmailInUse         = "auth/email-already-in-use"
	CodeWeakPassword       = "auth/weak-password"
	CodeInvalidEmail       = "auth/invalid-email"
	CodeUserDisabled       = "auth/user-disabled"
	CodeTooManyRequests    = "auth/too-many-requests"
	CodeNetworkFailed      = "auth/network-request-failed"
	CodeInvalidAccountType = "auth/invalid-account-type"
	CodeAccountPending     = "auth/account-pending"
)

var authMessages = map[string]string{
	CodeUserNotFound:       "No account found with this email address.",
	CodeWrongPassword:      "Incorrect password. Please try again.",
	CodeEmailInUse:         "An account with this email already exists.",
	CodeWeakPassword:       "Password is too weak. Please choose a stronger password.",
	CodeInvalidEmail:       "Invalid email address.",
	CodeUserDisabled:       "This account has been disabled.",
	CodeTooManyRequests:    "Too many failed attempts. Please try again later.",
	CodeNetworkFailed:      "Network error. Please check your connection.",
	CodeInvalidAccountType: "Invalid account type. Please select the correct account type.",
	CodeAccountPending:     "Your account is awaiting administrator approval.",
}

const genericAuthMessage = "An error occurred. Please try again."

// AuthMessage maps an authentication code to its user-facing message.
// Unknown codes fall through to a generic message.
func AuthMessage(code string) string {
	if msg, ok := authMessages[code]; ok {
		return msg
	}
	return genericAuthMessage
}

// NewAuthError builds an error for an authentication code with its mapped
// message. Codes that describe a bad request rather than bad credentials are
// reported as validation or conflict errors.
func NewAuthError(code string) *AppError {
	t := ErrorTypeUnauthorized
	switch code {
	case CodeEmailInUse:
		t = ErrorTypeConflict
	case CodeWeakPassword, CodeInvalidEmail:
		t = ErrorTypeValidation
	case CodeNetworkFailed:
		t = ErrorTypeExternal
	}
	return &AppError{Type: t, Code: code, Message: AuthMessage(code)}
}
