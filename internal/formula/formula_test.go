package formula

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/ontology"
)

func vertex(id string, props ...*graph.Property) *graph.Vertex {
	return &graph.Vertex{Element: graph.Element{ID: id, Properties: props}}
}

func TestTitle(t *testing.T) {
	f := NewPropertyTitle(ontology.NewDefaultRegistry())

	tests := []struct {
		name string
		v    *graph.Vertex
		want string
	}{
		{"title property", vertex("v1", &graph.Property{Name: ontology.Title, Value: "Alice"}), "Alice"},
		{"blank title skipped", vertex("v1",
			&graph.Property{Key: "a", Name: ontology.Title, Value: "  "},
			&graph.Property{Key: "b", Name: ontology.Title, Value: "Bob"}), "Bob"},
		{"concept fallback", vertex("v1", &graph.Property{Name: ontology.ConceptType, Value: "http://graphdesk.io#thing"}), "Thing v1"},
		{"unknown concept", vertex("v1", &graph.Property{Name: ontology.ConceptType, Value: "http://x#y"}), "v1"},
		{"id fallback", vertex("v1"), "v1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Title(tt.v, "en", "UTC"))
		})
	}
}

func TestTitleTruncates(t *testing.T) {
	f := NewPropertyTitle(ontology.NewDefaultRegistry())
	long := strings.Repeat("é", 300)
	got := f.Title(vertex("v1", &graph.Property{Name: ontology.Title, Value: long}), "", "")
	assert.Equal(t, maxTitleRunes, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
}
