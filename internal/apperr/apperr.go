package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure kind that is stable across the API surface.
// Handlers map codes to HTTP statuses; clients match on the string.
type Code string

const (
	// Validation
	CodeMissingField     Code = "MISSING_FIELD"
	CodeInvalidDateRange Code = "INVALID_DATE_RANGE"
	CodeInvalidBudget    Code = "INVALID_BUDGET"
	CodeInvalidEmail     Code = "INVALID_EMAIL"
	CodeInvalidRole      Code = "INVALID_ROLE"
	CodeCommentsRequired Code = "COMMENTS_REQUIRED"

	// Approver assignment
	CodeCannotSelfApprove Code = "CANNOT_SELF_APPROVE"
	CodeApproverNotFound  Code = "APPROVER_NOT_FOUND"
	CodeApproverInactive  Code = "APPROVER_INACTIVE"
	CodeNotAnApprover     Code = "NOT_AN_APPROVER"

	// Authentication / authorization
	CodeInvalidCredentials   Code = "INVALID_CREDENTIALS"
	CodeForbidden            Code = "FORBIDDEN"
	CodeCannotDeactivateSelf Code = "CANNOT_DEACTIVATE_SELF"
	CodeCannotDeleteSelf     Code = "CANNOT_DELETE_SELF"

	// Not found
	CodeRequestNotFound Code = "REQUEST_NOT_FOUND"
	CodeUserNotFound    Code = "USER_NOT_FOUND"

	// State conflicts — the resource was not in the state the transition requires
	CodeCannotUpdateSubmitted Code = "CANNOT_UPDATE_SUBMITTED"
	CodeCannotSubmit          Code = "CANNOT_SUBMIT"
	CodeCannotApprove         Code = "CANNOT_APPROVE"
	CodeCannotReject          Code = "CANNOT_REJECT"
	CodeCannotCancel          Code = "CANNOT_CANCEL"
	CodeCannotDelete          Code = "CANNOT_DELETE"

	// Uniqueness / referential conflicts
	CodeEmailExists     Code = "EMAIL_EXISTS"
	CodeUserHasRequests Code = "USER_HAS_REQUESTS"

	CodeInternal Code = "INTERNAL"
)

// Error carries a machine-readable code alongside the human message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New returns an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err, unwrapping as needed.
// Non-apperr errors report CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a code to the HTTP status the API responds with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeMissingField, CodeInvalidDateRange, CodeInvalidBudget,
		CodeInvalidEmail, CodeInvalidRole, CodeCommentsRequired,
		CodeCannotSelfApprove, CodeNotAnApprover, CodeApproverInactive:
		return http.StatusBadRequest
	case CodeInvalidCredentials:
		return http.StatusUnauthorized
	case CodeForbidden, CodeCannotDeactivateSelf, CodeCannotDeleteSelf:
		return http.StatusForbidden
	case CodeRequestNotFound, CodeUserNotFound, CodeApproverNotFound:
		return http.StatusNotFound
	case CodeCannotUpdateSubmitted, CodeCannotSubmit, CodeCannotApprove,
		CodeCannotReject, CodeCannotCancel, CodeCannotDelete,
		CodeEmailExists, CodeUserHasRequests:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
