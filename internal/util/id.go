package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random id, prefixed with prefix and an underscore when a
// prefix is given.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
