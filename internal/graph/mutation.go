package graph

import (
	"context"
	"errors"
	"fmt"

	"graphdesk/api/internal/visibility"
)

type mutationOp func(el *Element, auths visibility.Authorizations) error

// Mutation stages a sequence of changes to one existing element. The
// changes apply in order, all or nothing, when Save is called.
type Mutation struct {
	g   *Graph
	ref ElementRef
	ops []mutationOp
}

func (g *Graph) Mutate(ref ElementRef) *Mutation {
	return &Mutation{g: g, ref: ref}
}

func (m *Mutation) Ref() ElementRef {
	return m.ref
}

func (m *Mutation) Empty() bool {
	return len(m.ops) == 0
}

func (m *Mutation) AlterElementVisibility(vis visibility.Visibility) *Mutation {
	m.ops = append(m.ops, func(el *Element, _ visibility.Authorizations) error {
		el.Visibility = vis
		return nil
	})
	return m
}

// AlterPropertyVisibility moves the (key, name, from) copy to to, replacing
// any copy already stored at to.
func (m *Mutation) AlterPropertyVisibility(key, name string, from, to visibility.Visibility) *Mutation {
	m.ops = append(m.ops, func(el *Element, auths visibility.Authorizations) error {
		idx := el.findProperty(key, name, from)
		if idx < 0 || !el.Properties[idx].Visibility.CanRead(auths) {
			return fmt.Errorf("alter visibility of %s/%s on %s: %w", key, name, el.ID, ErrNotFound)
		}
		if from == to {
			return nil
		}
		moving := el.Properties[idx]
		if existing := el.findProperty(key, name, to); existing >= 0 {
			el.Properties = append(el.Properties[:existing], el.Properties[existing+1:]...)
		}
		moving.Visibility = to
		return nil
	})
	return m
}

func (m *Mutation) SetPropertyMetadata(key, name string, vis visibility.Visibility, metadataKey, value string) *Mutation {
	m.ops = append(m.ops, func(el *Element, _ visibility.Authorizations) error {
		idx := el.findProperty(key, name, vis)
		if idx < 0 {
			return fmt.Errorf("set metadata on %s/%s of %s: %w", key, name, el.ID, ErrNotFound)
		}
		p := el.Properties[idx]
		if p.Metadata == nil {
			p.Metadata = Metadata{}
		}
		p.Metadata[metadataKey] = value
		return nil
	})
	return m
}

// AddPropertyValue sets the value of the (key, name, vis) copy, creating it
// when absent. Hidden markers on an existing copy are kept.
func (m *Mutation) AddPropertyValue(key, name string, value any, md Metadata, vis visibility.Visibility) *Mutation {
	m.ops = append(m.ops, func(el *Element, _ visibility.Authorizations) error {
		upsertProperty(el, &Property{Key: key, Name: name, Value: value, Metadata: md.Clone(), Visibility: vis})
		return nil
	})
	return m
}

func (m *Mutation) SoftDeleteProperty(key, name string, vis visibility.Visibility) *Mutation {
	m.ops = append(m.ops, func(el *Element, _ visibility.Authorizations) error {
		if idx := el.findProperty(key, name, vis); idx >= 0 {
			el.Properties = append(el.Properties[:idx], el.Properties[idx+1:]...)
		}
		return nil
	})
	return m
}

func (m *Mutation) SoftDeleteProperties(key, name string) *Mutation {
	m.ops = append(m.ops, func(el *Element, auths visibility.Authorizations) error {
		kept := el.Properties[:0]
		for _, p := range el.Properties {
			if p.matches(key, name) && p.Visibility.CanRead(auths) {
				continue
			}
			kept = append(kept, p)
		}
		el.Properties = kept
		return nil
	})
	return m
}

func (m *Mutation) MarkPropertyHidden(key, name string, propVis, hiddenVis visibility.Visibility) *Mutation {
	m.ops = append(m.ops, func(el *Element, _ visibility.Authorizations) error {
		idx := el.findProperty(key, name, propVis)
		if idx < 0 {
			return fmt.Errorf("hide %s/%s on %s: %w", key, name, el.ID, ErrNotFound)
		}
		p := el.Properties[idx]
		p.HiddenVisibilities = addHidden(p.HiddenVisibilities, hiddenVis)
		return nil
	})
	return m
}

func (m *Mutation) MarkPropertyVisible(key, name string, propVis, hiddenVis visibility.Visibility) *Mutation {
	m.ops = append(m.ops, func(el *Element, _ visibility.Authorizations) error {
		idx := el.findProperty(key, name, propVis)
		if idx < 0 {
			return fmt.Errorf("unhide %s/%s on %s: %w", key, name, el.ID, ErrNotFound)
		}
		p := el.Properties[idx]
		p.HiddenVisibilities = removeHidden(p.HiddenVisibilities, hiddenVis)
		return nil
	})
	return m
}

func (m *Mutation) markHidden(vis visibility.Visibility) *Mutation {
	m.ops = append(m.ops, func(el *Element, _ visibility.Authorizations) error {
		el.HiddenVisibilities = addHidden(el.HiddenVisibilities, vis)
		return nil
	})
	return m
}

func (m *Mutation) markVisible(vis visibility.Visibility) *Mutation {
	m.ops = append(m.ops, func(el *Element, _ visibility.Authorizations) error {
		el.HiddenVisibilities = removeHidden(el.HiddenVisibilities, vis)
		return nil
	})
	return m
}

// Save applies the staged changes. The element must be readable by auths,
// hidden or not.
func (m *Mutation) Save(ctx context.Context, auths visibility.Authorizations) error {
	g := m.g
	g.mu.Lock()
	defer g.mu.Unlock()

	var (
		el   *Element
		edge *Edge
	)
	switch m.ref.Type {
	case ElementTypeVertex:
		v, err := g.loadVertex(ctx, m.ref.ID)
		if err != nil {
			return err
		}
		el = &v.Element
	case ElementTypeEdge:
		e, err := g.loadEdge(ctx, m.ref.ID)
		if err != nil {
			return err
		}
		el, edge = &e.Element, e
	default:
		return fmt.Errorf("mutate %q: unknown element type %q", m.ref.ID, m.ref.Type)
	}
	if !el.readable(FetchIncludeHidden, auths) {
		return ErrNotFound
	}
	for _, op := range m.ops {
		if err := op(el, auths); err != nil {
			return err
		}
	}
	g.stage(ctx, m.ref, *el, edge)
	return nil
}

func upsertProperty(el *Element, p *Property) {
	if idx := el.findProperty(p.Key, p.Name, p.Visibility); idx >= 0 {
		existing := el.Properties[idx]
		existing.Value = p.Value
		existing.Metadata = p.Metadata
		return
	}
	el.Properties = append(el.Properties, p)
}

type VertexBuilder struct {
	g     *Graph
	id    string
	vis   visibility.Visibility
	props []*Property
}

func (b *VertexBuilder) AddPropertyValue(key, name string, value any, md Metadata, vis visibility.Visibility) *VertexBuilder {
	b.props = append(b.props, &Property{Key: key, Name: name, Value: value, Metadata: md.Clone(), Visibility: vis})
	return b
}

// Save creates the vertex, or merges the properties into an existing vertex
// with the same id and sets its visibility.
func (b *VertexBuilder) Save(ctx context.Context, auths visibility.Authorizations) (*Vertex, error) {
	g := b.g
	g.mu.Lock()
	defer g.mu.Unlock()

	v, err := g.loadVertex(ctx, b.id)
	switch {
	case errors.Is(err, ErrNotFound):
		v = &Vertex{Element: Element{ID: b.id, kind: ElementTypeVertex}}
	case err != nil:
		return nil, err
	}
	v.Visibility = b.vis
	for _, p := range b.props {
		upsertProperty(&v.Element, p.clone())
	}
	g.stage(ctx, v.Ref(), v.Element, nil)
	return &Vertex{Element: v.view(FetchIncludeHidden, auths)}, nil
}

type EdgeBuilder struct {
	g           *Graph
	id, out, in string
	label       string
	vis         visibility.Visibility
	props       []*Property
}

func (b *EdgeBuilder) AddPropertyValue(key, name string, value any, md Metadata, vis visibility.Visibility) *EdgeBuilder {
	b.props = append(b.props, &Property{Key: key, Name: name, Value: value, Metadata: md.Clone(), Visibility: vis})
	return b
}

// Save creates or merges the edge. Both endpoints must exist.
func (b *EdgeBuilder) Save(ctx context.Context, auths visibility.Authorizations) (*Edge, error) {
	g := b.g
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, endpoint := range []string{b.out, b.in} {
		if _, err := g.loadVertex(ctx, endpoint); err != nil {
			return nil, fmt.Errorf("edge %s endpoint %s: %w", b.id, endpoint, err)
		}
	}
	e, err := g.loadEdge(ctx, b.id)
	switch {
	case errors.Is(err, ErrNotFound):
		e = &Edge{Element: Element{ID: b.id, kind: ElementTypeEdge}, Label: b.label, OutVertexID: b.out, InVertexID: b.in}
	case err != nil:
		return nil, err
	}
	e.Visibility = b.vis
	for _, p := range b.props {
		upsertProperty(&e.Element, p.clone())
	}
	g.stage(ctx, e.Ref(), e.Element, e)
	return g.edgeView(e, FetchIncludeHidden, auths), nil
}
