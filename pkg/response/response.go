package response

import "travelapi/internal/apperr"

// Response represents a standard API response format
type Response struct {
	Status     string      `json:"status"`      // "success" or "error"
	StatusCode int         `json:"status_code"` // HTTP status code
	Data       interface{} `json:"data,omitempty"`
	Code       string      `json:"code,omitempty"` // machine-readable error kind
	Error      string      `json:"error,omitempty"`
}

// Success returns a standard success response wrapping the data
func Success(statusCode int, data interface{}) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// Error returns a standard error response with a machine code and message
func Error(statusCode int, code, err string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Code:       code,
		Error:      err,
	}
}

// FromError maps a service error to its HTTP status and response body.
// Unrecognized errors become opaque 500s — internals stay internal.
func FromError(err error) (int, Response) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	message := err.Error()
	if code == apperr.CodeInternal {
		message = "internal server error"
	}
	return status, Error(status, string(code), message)
}
