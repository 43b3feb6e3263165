package app

import (
	"net/http"

	"graphdesk/api/internal/rbac"
)

// requirePrivilege checks a system-wide privilege carried by the token.
// Workspace access is checked by the workspace repository.
func requirePrivilege(session Session, p rbac.Privilege) error {
	if session.User.HasPrivilege(p) {
		return nil
	}
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", map[string]any{"privilege": string(p)})
}
