package visibility

import "strings"

// Translator turns visibility metadata into the storage-level expression.
type Translator interface {
	ToVisibility(vj VisibilityJSON) Visibility
	DefaultVisibility() Visibility
}

// DirectTranslator requires the source expression and every workspace term.
type DirectTranslator struct{}

func (DirectTranslator) ToVisibility(vj VisibilityJSON) Visibility {
	var required []string
	if source := strings.TrimSpace(vj.Source); source != "" {
		required = append(required, wrap(source))
	}
	required = append(required, normalize(vj.Workspaces)...)
	return Visibility(strings.Join(required, "&"))
}

func (DirectTranslator) DefaultVisibility() Visibility {
	return ""
}
