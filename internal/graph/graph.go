// Package graph is the element store the sandboxing engines run against.
// Writes are staged and become durable on Flush; reads always observe staged
// state first.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"graphdesk/api/internal/visibility"
)

var ErrNotFound = errors.New("element not found")

// Batch is the set of staged writes handed to a Backend on Flush.
type Batch struct {
	Vertices        []*Vertex
	Edges           []*Edge
	DeletedVertices []string
	DeletedEdges    []string
}

func (b Batch) Empty() bool {
	return len(b.Vertices) == 0 && len(b.Edges) == 0 && len(b.DeletedVertices) == 0 && len(b.DeletedEdges) == 0
}

// Backend persists element documents. LoadVertex and LoadEdge return
// ErrNotFound for unknown ids.
type Backend interface {
	LoadVertex(ctx context.Context, id string) (*Vertex, error)
	LoadEdge(ctx context.Context, id string) (*Edge, error)
	EdgeIDs(ctx context.Context, vertexID string) ([]string, error)
	Apply(ctx context.Context, batch Batch) error
}

type Graph struct {
	backend Backend
	log     zerolog.Logger

	mu       sync.Mutex
	shared   *staging
	sessions map[*session]*staging
}

// staging holds writes not yet handed to the backend. A nil entry marks a
// deletion.
type staging struct {
	vertices map[string]*Vertex
	edges    map[string]*Edge
}

func newStaging() *staging {
	return &staging{vertices: make(map[string]*Vertex), edges: make(map[string]*Edge)}
}

type session struct{ _ byte }

type sessionKey struct{}

// WithSession returns a context whose graph writes are staged apart from
// every other caller's: they are visible to reads made with that context
// only, and Flush with it commits nothing else. A context that already
// carries a session is returned unchanged.
func WithSession(ctx context.Context) context.Context {
	if _, ok := ctx.Value(sessionKey{}).(*session); ok {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, &session{})
}

func New(backend Backend, log zerolog.Logger) *Graph {
	return &Graph{
		backend:  backend,
		log:      log.With().Str("component", "graph").Logger(),
		shared:   newStaging(),
		sessions: make(map[*session]*staging),
	}
}

// staged returns the staging area of ctx's session; callers hold g.mu.
func (g *Graph) staged(ctx context.Context) *staging {
	s, ok := ctx.Value(sessionKey{}).(*session)
	if !ok {
		return g.shared
	}
	st, ok := g.sessions[s]
	if !ok {
		st = newStaging()
		g.sessions[s] = st
	}
	return st
}

// Discard drops the writes staged under ctx's session.
func (g *Graph) Discard(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset(ctx)
}

func (g *Graph) reset(ctx context.Context) {
	if s, ok := ctx.Value(sessionKey{}).(*session); ok {
		delete(g.sessions, s)
		return
	}
	g.shared = newStaging()
}

func (g *Graph) GetVertex(ctx context.Context, id string, hint FetchHint, auths visibility.Authorizations) (*Vertex, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, err := g.loadVertex(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.readable(hint, auths) {
		return nil, ErrNotFound
	}
	return &Vertex{Element: v.view(hint, auths)}, nil
}

// GetVertices returns the readable vertices among ids, in the order given.
func (g *Graph) GetVertices(ctx context.Context, ids []string, hint FetchHint, auths visibility.Authorizations) ([]*Vertex, error) {
	out := make([]*Vertex, 0, len(ids))
	for _, id := range ids {
		v, err := g.GetVertex(ctx, id, hint, auths)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (g *Graph) GetEdge(ctx context.Context, id string, hint FetchHint, auths visibility.Authorizations) (*Edge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, err := g.loadEdge(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.readable(hint, auths) {
		return nil, ErrNotFound
	}
	return g.edgeView(e, hint, auths), nil
}

func (g *Graph) GetEdges(ctx context.Context, ids []string, hint FetchHint, auths visibility.Authorizations) ([]*Edge, error) {
	out := make([]*Edge, 0, len(ids))
	for _, id := range ids {
		e, err := g.GetEdge(ctx, id, hint, auths)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// EdgesOf returns the readable edges touching vertexID, sorted by id. An
// empty label matches every label.
func (g *Graph) EdgesOf(ctx context.Context, vertexID string, dir Direction, label string, hint FetchHint, auths visibility.Authorizations) ([]*Edge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids, err := g.edgeIDs(ctx, vertexID)
	if err != nil {
		return nil, err
	}
	var out []*Edge
	for _, id := range ids {
		e, err := g.loadEdge(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if label != "" && e.Label != label {
			continue
		}
		switch dir {
		case DirectionOut:
			if e.OutVertexID != vertexID {
				continue
			}
		case DirectionIn:
			if e.InVertexID != vertexID {
				continue
			}
		}
		if !e.readable(hint, auths) {
			continue
		}
		out = append(out, g.edgeView(e, hint, auths))
	}
	return out, nil
}

func (g *Graph) PrepareVertex(id string, vis visibility.Visibility) *VertexBuilder {
	return &VertexBuilder{g: g, id: id, vis: vis}
}

func (g *Graph) PrepareEdge(id, outVertexID, inVertexID, label string, vis visibility.Visibility) *EdgeBuilder {
	return &EdgeBuilder{g: g, id: id, out: outVertexID, in: inVertexID, label: label, vis: vis}
}

// SoftDeleteVertex removes the vertex and every edge touching it. A later
// vertex with the same id starts from an empty property set.
func (g *Graph) SoftDeleteVertex(ctx context.Context, id string, auths visibility.Authorizations) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, err := g.loadVertex(ctx, id)
	if err != nil {
		return err
	}
	if !v.readable(FetchIncludeHidden, auths) {
		return ErrNotFound
	}
	edgeIDs, err := g.edgeIDs(ctx, id)
	if err != nil {
		return err
	}
	st := g.staged(ctx)
	for _, edgeID := range edgeIDs {
		st.edges[edgeID] = nil
	}
	st.vertices[id] = nil
	return nil
}

func (g *Graph) SoftDeleteEdge(ctx context.Context, id string, auths visibility.Authorizations) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, err := g.loadEdge(ctx, id)
	if err != nil {
		return err
	}
	if !e.readable(FetchIncludeHidden, auths) {
		return ErrNotFound
	}
	g.staged(ctx).edges[id] = nil
	return nil
}

func (g *Graph) MarkVertexHidden(ctx context.Context, id string, vis visibility.Visibility, auths visibility.Authorizations) error {
	return g.Mutate(ElementRef{Type: ElementTypeVertex, ID: id}).markHidden(vis).Save(ctx, auths)
}

func (g *Graph) MarkVertexVisible(ctx context.Context, id string, vis visibility.Visibility, auths visibility.Authorizations) error {
	return g.Mutate(ElementRef{Type: ElementTypeVertex, ID: id}).markVisible(vis).Save(ctx, auths)
}

func (g *Graph) MarkEdgeHidden(ctx context.Context, id string, vis visibility.Visibility, auths visibility.Authorizations) error {
	return g.Mutate(ElementRef{Type: ElementTypeEdge, ID: id}).markHidden(vis).Save(ctx, auths)
}

func (g *Graph) MarkEdgeVisible(ctx context.Context, id string, vis visibility.Visibility, auths visibility.Authorizations) error {
	return g.Mutate(ElementRef{Type: ElementTypeEdge, ID: id}).markVisible(vis).Save(ctx, auths)
}

func (g *Graph) MarkPropertyHidden(ctx context.Context, ref ElementRef, p *Property, vis visibility.Visibility, auths visibility.Authorizations) error {
	return g.Mutate(ref).MarkPropertyHidden(p.Key, p.Name, p.Visibility, vis).Save(ctx, auths)
}

func (g *Graph) MarkPropertyVisible(ctx context.Context, ref ElementRef, p *Property, vis visibility.Visibility, auths visibility.Authorizations) error {
	return g.Mutate(ref).MarkPropertyVisible(p.Key, p.Name, p.Visibility, vis).Save(ctx, auths)
}

// SoftDeleteProperty removes the (key, name, vis) copy.
func (g *Graph) SoftDeleteProperty(ctx context.Context, ref ElementRef, key, name string, vis visibility.Visibility, auths visibility.Authorizations) error {
	return g.Mutate(ref).SoftDeleteProperty(key, name, vis).Save(ctx, auths)
}

// SoftDeleteProperties removes every readable copy of (key, name).
func (g *Graph) SoftDeleteProperties(ctx context.Context, ref ElementRef, key, name string, auths visibility.Authorizations) error {
	return g.Mutate(ref).SoftDeleteProperties(key, name).Save(ctx, auths)
}

// Flush hands the writes staged under ctx's session to the backend. They
// are dropped whether or not the backend accepts them.
func (g *Graph) Flush(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.staged(ctx)
	defer g.reset(ctx)
	var batch Batch
	for id, v := range st.vertices {
		if v == nil {
			batch.DeletedVertices = append(batch.DeletedVertices, id)
			continue
		}
		batch.Vertices = append(batch.Vertices, v)
	}
	for id, e := range st.edges {
		if e == nil {
			batch.DeletedEdges = append(batch.DeletedEdges, id)
			continue
		}
		batch.Edges = append(batch.Edges, e)
	}
	if batch.Empty() {
		return nil
	}
	sort.Strings(batch.DeletedVertices)
	sort.Strings(batch.DeletedEdges)
	sort.Slice(batch.Vertices, func(i, j int) bool { return batch.Vertices[i].ID < batch.Vertices[j].ID })
	sort.Slice(batch.Edges, func(i, j int) bool { return batch.Edges[i].ID < batch.Edges[j].ID })
	if err := g.backend.Apply(ctx, batch); err != nil {
		return fmt.Errorf("flush graph: %w", err)
	}
	g.log.Debug().
		Int("vertices", len(batch.Vertices)).
		Int("edges", len(batch.Edges)).
		Int("deletedVertices", len(batch.DeletedVertices)).
		Int("deletedEdges", len(batch.DeletedEdges)).
		Msg("flushed")
	return nil
}

func (g *Graph) edgeView(e *Edge, hint FetchHint, auths visibility.Authorizations) *Edge {
	return &Edge{Element: e.view(hint, auths), Label: e.Label, OutVertexID: e.OutVertexID, InVertexID: e.InVertexID}
}

// loadVertex returns a private copy; callers hold g.mu.
func (g *Graph) loadVertex(ctx context.Context, id string) (*Vertex, error) {
	if staged, ok := g.staged(ctx).vertices[id]; ok {
		if staged == nil {
			return nil, ErrNotFound
		}
		return staged.clone(), nil
	}
	v, err := g.backend.LoadVertex(ctx, id)
	if err != nil {
		return nil, err
	}
	v.kind = ElementTypeVertex
	return v.clone(), nil
}

func (g *Graph) loadEdge(ctx context.Context, id string) (*Edge, error) {
	if staged, ok := g.staged(ctx).edges[id]; ok {
		if staged == nil {
			return nil, ErrNotFound
		}
		return staged.clone(), nil
	}
	e, err := g.backend.LoadEdge(ctx, id)
	if err != nil {
		return nil, err
	}
	e.kind = ElementTypeEdge
	return e.clone(), nil
}

func (g *Graph) edgeIDs(ctx context.Context, vertexID string) ([]string, error) {
	stored, err := g.backend.EdgeIDs(ctx, vertexID)
	if err != nil {
		return nil, fmt.Errorf("edges of %s: %w", vertexID, err)
	}
	set := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		set[id] = struct{}{}
	}
	for id, e := range g.staged(ctx).edges {
		if e == nil {
			delete(set, id)
			continue
		}
		if e.OutVertexID == vertexID || e.InVertexID == vertexID {
			set[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (g *Graph) stage(ctx context.Context, ref ElementRef, el Element, edge *Edge) {
	st := g.staged(ctx)
	switch ref.Type {
	case ElementTypeVertex:
		el.kind = ElementTypeVertex
		st.vertices[ref.ID] = &Vertex{Element: el}
	case ElementTypeEdge:
		el.kind = ElementTypeEdge
		st.edges[ref.ID] = &Edge{Element: el, Label: edge.Label, OutVertexID: edge.OutVertexID, InVertexID: edge.InVertexID}
	}
}
