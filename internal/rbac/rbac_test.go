package rbac

import (
	"reflect"
	"testing"
)

func TestAllows(t *testing.T) {
	cases := []struct {
		name     string
		granted  Access
		required Access
		allow    bool
	}{
		{name: "read read", granted: AccessRead, required: AccessRead, allow: true},
		{name: "read write", granted: AccessRead, required: AccessWrite, allow: false},
		{name: "comment read", granted: AccessComment, required: AccessRead, allow: true},
		{name: "comment write", granted: AccessComment, required: AccessWrite, allow: false},
		{name: "write write", granted: AccessWrite, required: AccessWrite, allow: true},
		{name: "none read", granted: AccessNone, required: AccessRead, allow: false},
		{name: "none none", granted: AccessNone, required: AccessNone, allow: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Allows(tc.granted, tc.required); got != tc.allow {
				t.Fatalf("Allows(%q, %q) = %v, want %v", tc.granted, tc.required, got, tc.allow)
			}
		})
	}
}

func TestNormalizeAccess(t *testing.T) {
	if got := NormalizeAccess(" write "); got != AccessWrite {
		t.Fatalf("NormalizeAccess = %q", got)
	}
	if got := NormalizeAccess("owner"); got != AccessNone {
		t.Fatalf("unknown access should normalize to NONE, got %q", got)
	}
}

func TestPrivileges(t *testing.T) {
	got := NormalizePrivileges([]string{"read", "PUBLISH", "bogus", "read"})
	want := []Privilege{PrivilegeRead, PrivilegePublish}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizePrivileges = %v, want %v", got, want)
	}

	u := User{ID: "u1", Privileges: got}
	if !u.HasPrivilege(PrivilegePublish) || u.HasPrivilege(PrivilegeEdit) {
		t.Fatalf("unexpected privileges for %+v", u)
	}
	admin := User{ID: "a", Privileges: []Privilege{PrivilegeAdmin}}
	if !admin.HasPrivilege(PrivilegePublish) {
		t.Fatal("admin should hold every privilege")
	}
}
