package visibility

import (
	"sort"
	"strings"
)

// Authorizations is an immutable set of terms a reader holds.
type Authorizations struct {
	terms map[string]struct{}
}

func NewAuthorizations(terms ...string) Authorizations {
	set := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		set[term] = struct{}{}
	}
	return Authorizations{terms: set}
}

func (a Authorizations) Contains(term string) bool {
	_, ok := a.terms[term]
	return ok
}

// With returns a copy extended by terms.
func (a Authorizations) With(terms ...string) Authorizations {
	return NewAuthorizations(append(a.Terms(), terms...)...)
}

// Terms returns the terms in sorted order.
func (a Authorizations) Terms() []string {
	out := make([]string, 0, len(a.terms))
	for term := range a.terms {
		out = append(out, term)
	}
	sort.Strings(out)
	return out
}

func (a Authorizations) String() string {
	return strings.Join(a.Terms(), ",")
}
