package app

import (
	"errors"
	"fmt"
	"net/http"

	"graphdesk/api/internal/auth"
	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/workspace"
)

// DomainError is an error that carries its own HTTP status and code.
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

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

// mapError translates service and repository errors into the response
// envelope. Unknown errors are 500s.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, workspace.ErrWorkspaceNotFound) {
		return http.StatusNotFound, "WORKSPACE_NOT_FOUND", "Workspace not found", nil
	}
	if errors.Is(err, workspace.ErrAccessDenied) {
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	}
	if errors.Is(err, graph.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
