package graph

import (
	"sort"

	"graphdesk/api/internal/visibility"
)

type ElementType string

const (
	ElementTypeVertex ElementType = "VERTEX"
	ElementTypeEdge   ElementType = "EDGE"
)

type ElementRef struct {
	Type ElementType
	ID   string
}

type FetchHint int

const (
	FetchDefault FetchHint = iota
	FetchIncludeHidden
)

type Direction int

const (
	DirectionBoth Direction = iota
	DirectionOut
	DirectionIn
)

// Metadata holds string annotations on a property, e.g. its VisibilityJSON.
type Metadata map[string]string

func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Property is identified on its element by (Key, Name, Visibility).
type Property struct {
	Key                string                  `json:"key"`
	Name               string                  `json:"name"`
	Value              any                     `json:"value"`
	Visibility         visibility.Visibility   `json:"visibility"`
	Metadata           Metadata                `json:"metadata,omitempty"`
	HiddenVisibilities []visibility.Visibility `json:"hiddenVisibilities,omitempty"`
}

func (p *Property) IsHidden(auths visibility.Authorizations) bool {
	return hiddenFor(p.HiddenVisibilities, auths)
}

func (p *Property) MetadataValue(key string) (string, bool) {
	if p.Metadata == nil {
		return "", false
	}
	v, ok := p.Metadata[key]
	return v, ok
}

func (p *Property) matches(key, name string) bool {
	return p.Key == key && p.Name == name
}

func (p *Property) clone() *Property {
	out := *p
	out.Metadata = p.Metadata.Clone()
	out.HiddenVisibilities = append([]visibility.Visibility(nil), p.HiddenVisibilities...)
	return &out
}

// Element is the state shared by vertices and edges.
type Element struct {
	ID                 string                  `json:"id"`
	Visibility         visibility.Visibility   `json:"visibility"`
	HiddenVisibilities []visibility.Visibility `json:"hiddenVisibilities,omitempty"`
	Properties         []*Property             `json:"properties"`

	kind ElementType
}

func (e *Element) Ref() ElementRef {
	return ElementRef{Type: e.kind, ID: e.ID}
}

func (e *Element) Type() ElementType {
	return e.kind
}

func (e *Element) IsHidden(auths visibility.Authorizations) bool {
	return hiddenFor(e.HiddenVisibilities, auths)
}

// PropertiesFor returns every copy of (key, name).
func (e *Element) PropertiesFor(key, name string) []*Property {
	var out []*Property
	for _, p := range e.Properties {
		if p.matches(key, name) {
			out = append(out, p)
		}
	}
	return out
}

// PropertiesNamed returns every property with name, across keys.
func (e *Element) PropertiesNamed(name string) []*Property {
	var out []*Property
	for _, p := range e.Properties {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

func (e *Element) Property(key, name string) *Property {
	for _, p := range e.Properties {
		if p.matches(key, name) {
			return p
		}
	}
	return nil
}

func (e *Element) PropertyValue(name string) any {
	for _, p := range e.Properties {
		if p.Name == name {
			return p.Value
		}
	}
	return nil
}

func (e *Element) findProperty(key, name string, vis visibility.Visibility) int {
	for i, p := range e.Properties {
		if p.matches(key, name) && p.Visibility == vis {
			return i
		}
	}
	return -1
}

func (e *Element) cloneElement() Element {
	out := Element{
		ID:                 e.ID,
		Visibility:         e.Visibility,
		HiddenVisibilities: append([]visibility.Visibility(nil), e.HiddenVisibilities...),
		Properties:         make([]*Property, 0, len(e.Properties)),
		kind:               e.kind,
	}
	for _, p := range e.Properties {
		out.Properties = append(out.Properties, p.clone())
	}
	return out
}

// view filters the element for a reader: unreadable properties are dropped,
// and hidden ones too unless the hint includes them.
func (e *Element) view(hint FetchHint, auths visibility.Authorizations) Element {
	out := e.cloneElement()
	kept := out.Properties[:0]
	for _, p := range out.Properties {
		if !p.Visibility.CanRead(auths) {
			continue
		}
		if hint != FetchIncludeHidden && p.IsHidden(auths) {
			continue
		}
		kept = append(kept, p)
	}
	out.Properties = kept
	sortProperties(out.Properties)
	return out
}

func (e *Element) readable(hint FetchHint, auths visibility.Authorizations) bool {
	if !e.Visibility.CanRead(auths) {
		return false
	}
	return hint == FetchIncludeHidden || !e.IsHidden(auths)
}

type Vertex struct {
	Element
}

func (v *Vertex) clone() *Vertex {
	return &Vertex{Element: v.cloneElement()}
}

type Edge struct {
	Element
	Label       string `json:"label"`
	OutVertexID string `json:"outVertexId"`
	InVertexID  string `json:"inVertexId"`
}

func (e *Edge) clone() *Edge {
	return &Edge{Element: e.cloneElement(), Label: e.Label, OutVertexID: e.OutVertexID, InVertexID: e.InVertexID}
}

// OtherVertexID returns the endpoint opposite vertexID.
func (e *Edge) OtherVertexID(vertexID string) string {
	if e.OutVertexID == vertexID {
		return e.InVertexID
	}
	return e.OutVertexID
}

func hiddenFor(hidden []visibility.Visibility, auths visibility.Authorizations) bool {
	for _, v := range hidden {
		if v.CanRead(auths) {
			return true
		}
	}
	return false
}

func addHidden(hidden []visibility.Visibility, vis visibility.Visibility) []visibility.Visibility {
	for _, v := range hidden {
		if v == vis {
			return hidden
		}
	}
	return append(hidden, vis)
}

func removeHidden(hidden []visibility.Visibility, vis visibility.Visibility) []visibility.Visibility {
	out := hidden[:0]
	for _, v := range hidden {
		if v != vis {
			out = append(out, v)
		}
	}
	return out
}

func sortProperties(props []*Property) {
	sort.SliceStable(props, func(i, j int) bool {
		a, b := props[i], props[j]
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Visibility < b.Visibility
	})
}
