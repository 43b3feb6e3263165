package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	a := NewID("")
	if len(a) != 32 || strings.Contains(a, "-") {
		t.Fatalf("unexpected id %q", a)
	}
	b := NewID("WORKSPACE")
	if !strings.HasPrefix(b, "WORKSPACE_") || len(b) != len("WORKSPACE_")+32 {
		t.Fatalf("unexpected prefixed id %q", b)
	}
	if NewID("x") == NewID("x") {
		t.Fatal("ids should differ")
	}
}
