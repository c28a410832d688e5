package hostfuncs

import (
	"encoding/json"
)

// ErrorResponse is the structured error a host function returns to the guest
// instead of trapping it.
type ErrorResponse struct {
	// Error is a machine-readable identifier, e.g. "FORBIDDEN".
	Error string `json:"error"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Code is an HTTP-like status code.
	Code int `json:"code"`
}

// ToJSON serializes the response.
func (e ErrorResponse) ToJSON() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}

// NewValidationError reports a malformed request.
func NewValidationError(message string) ErrorResponse {
	return ErrorResponse{Error: "VALIDATION_ERROR", Message: message, Code: 400}
}

// NewForbiddenError reports a request outside the granted resources.
func NewForbiddenError(message string) ErrorResponse {
	return ErrorResponse{Error: "FORBIDDEN", Message: message, Code: 403}
}

// NewNotFoundError reports an unknown host function.
func NewNotFoundError(name string) ErrorResponse {
	return ErrorResponse{Error: "NOT_FOUND", Message: "unknown host function: " + name, Code: 404}
}

// NewInternalError reports an unexpected host failure.
func NewInternalError(message string) ErrorResponse {
	return ErrorResponse{Error: "INTERNAL_ERROR", Message: message, Code: 500}
}

// NewPanicError reports a recovered panic.
func NewPanicError(panicValue any) ErrorResponse {
	msg := "panic recovered"
	switch v := panicValue.(type) {
	case error:
		msg = v.Error()
	case string:
		msg = v
	}
	return ErrorResponse{Error: "INTERNAL_ERROR", Message: "panic: " + msg, Code: 500}
}
