package oauth

import "fmt"

// OAuth2 error codes used across the authorization and token endpoints.
const (
	ErrCodeInvalidRequest       = "invalid_request"
	ErrCodeInvalidClient        = "invalid_client"
	ErrCodeInvalidGrant         = "invalid_grant"
	ErrCodeInvalidScope         = "invalid_scope"
	ErrCodeUnauthorizedClient   = "unauthorized_client"
	ErrCodeUnsupportedGrant     = "unsupported_grant_type"
	ErrCodeUnsupportedResponse  = "unsupported_response_type"
	ErrCodeAccessDenied         = "access_denied"
	ErrCodeServerError          = "server_error"
	ErrCodeTemporarilyUnavail   = "temporarily_unavailable"
)

// Error standardizes OAuth compliant errors.
type Error struct {
	Code        string
	Description string
	Status      int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError builds an OAuth error with the given wire code and HTTP status.
func NewError(code, desc string, status int) *Error {
	return &Error{Code: code, Description: desc, Status: status}
}
