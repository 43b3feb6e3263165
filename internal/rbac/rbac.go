package rbac

import "strings"

// Access is a user's standing on one workspace.
type Access string

// Privilege is a system-wide capability carried by the user's token.
type Privilege string

const (
	AccessNone    Access = "NONE"
	AccessRead    Access = "READ"
	AccessComment Access = "COMMENT"
	AccessWrite   Access = "WRITE"
)

const (
	PrivilegeRead    Privilege = "READ"
	PrivilegeEdit    Privilege = "EDIT"
	PrivilegePublish Privilege = "PUBLISH"
	PrivilegeAdmin   Privilege = "ADMIN"
)

type User struct {
	ID             string
	Name           string
	Privileges     []Privilege
	Authorizations []string
}

// HasPrivilege treats ADMIN as holding every privilege.
func (u User) HasPrivilege(p Privilege) bool {
	for _, held := range u.Privileges {
		if held == p || held == PrivilegeAdmin {
			return true
		}
	}
	return false
}

func rank(a Access) int {
	switch a {
	case AccessRead:
		return 1
	case AccessComment:
		return 2
	case AccessWrite:
		return 3
	default:
		return 0
	}
}

// Allows reports whether granted access covers required.
func Allows(granted, required Access) bool {
	if required == AccessNone {
		return true
	}
	return rank(granted) >= rank(required)
}

func NormalizeAccess(access string) Access {
	switch a := Access(strings.ToUpper(strings.TrimSpace(access))); a {
	case AccessRead, AccessComment, AccessWrite:
		return a
	default:
		return AccessNone
	}
}

// NormalizePrivileges drops unknown names and duplicates.
func NormalizePrivileges(names []string) []Privilege {
	seen := make(map[Privilege]struct{}, len(names))
	var out []Privilege
	for _, name := range names {
		p := Privilege(strings.ToUpper(strings.TrimSpace(name)))
		switch p {
		case PrivilegeRead, PrivilegeEdit, PrivilegePublish, PrivilegeAdmin:
		default:
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
