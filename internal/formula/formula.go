// Package formula computes display titles for vertices.
package formula

import (
	"fmt"
	"strings"

	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/ontology"
)

const maxTitleRunes = 256

// PropertyTitle titles a vertex by its first readable title property,
// falling back to its concept's display name and then its id.
type PropertyTitle struct {
	ontology *ontology.Registry
}

func NewPropertyTitle(reg *ontology.Registry) *PropertyTitle {
	return &PropertyTitle{ontology: reg}
}

// Title ignores locale and timeZone; titles are stored text.
func (f *PropertyTitle) Title(v *graph.Vertex, locale, timeZone string) string {
	for _, p := range v.PropertiesNamed(ontology.Title) {
		if p.Value == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(p.Value)); s != "" {
			return truncate(s)
		}
	}
	if concept, ok := v.PropertyValue(ontology.ConceptType).(string); ok && concept != "" {
		if c, found := f.ontology.ConceptByIRI(concept); found && c.DisplayName != "" {
			return truncate(c.DisplayName + " " + v.ID)
		}
	}
	return truncate(v.ID)
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxTitleRunes {
		return s
	}
	return string(runes[:maxTitleRunes-1]) + "…"
}
