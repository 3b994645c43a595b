package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// notFound is the single outcome for both "does not exist" and "exists
// but belongs to someone else", so resource ids never leak.
func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func validationError(fields ...string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid payload", map[string]any{"fields": fields})
}
