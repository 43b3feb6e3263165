// Package termmention stores text mentions as graph vertices hanging off the
// vertex whose text they annotate.
//
// A mention vertex carries its own visibility ANDed with the termMention
// authorization. It is linked from its source vertex by a hasTermMention edge
// and, when resolved, to the resolved entity by a resolvedTo edge.
package termmention

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/util"
	"graphdesk/api/internal/visibility"
)

const (
	Visibility visibility.Visibility = "termMention"

	LabelHasTermMention = "http://graphdesk.io/termMention#hasTermMention"
	LabelResolvedTo     = "http://graphdesk.io/termMention#resolvedTo"

	propForElementID          = "http://graphdesk.io/termMention#forElementId"
	propForType               = "http://graphdesk.io/termMention#forType"
	propResolvedEdgeID        = "http://graphdesk.io/termMention#resolvedEdgeId"
	propRefPropertyKey        = "http://graphdesk.io/termMention#ref/propertyKey"
	propRefPropertyName       = "http://graphdesk.io/termMention#ref/propertyName"
	propRefPropertyVisibility = "http://graphdesk.io/termMention#ref/propertyVisibility"
	propPropertyKey           = "http://graphdesk.io/termMention#propertyKey"
	propPropertyName          = "http://graphdesk.io/termMention#propertyName"
	propSign                  = "http://graphdesk.io/termMention#sign"
	propStart                 = "http://graphdesk.io/termMention#start"
	propEnd                   = "http://graphdesk.io/termMention#end"
)

// ForType says what a mention was extracted for.
type ForType string

const (
	ForVertex   ForType = "VERTEX"
	ForEdge     ForType = "EDGE"
	ForProperty ForType = "PROPERTY"
)

type TermMention struct {
	ID         string
	Visibility visibility.Visibility

	// OutVertexID is the vertex whose text holds the mention.
	OutVertexID        string
	ResolvedToVertexID string
	ResolvedEdgeID     string

	ForElementID string
	ForType      ForType

	PropertyKey  string
	PropertyName string

	// The property a PROPERTY mention annotates.
	RefPropertyKey        string
	RefPropertyName       string
	RefPropertyVisibility string

	Sign  string
	Start int64
	End   int64

	hidden bool
}

type Repository struct {
	graph *graph.Graph
	log   zerolog.Logger
}

func NewRepository(g *graph.Graph, log zerolog.Logger) *Repository {
	return &Repository{graph: g, log: log.With().Str("component", "termmention").Logger()}
}

// Authorizations adds the termMention authorization needed to read
// mention vertices.
func Authorizations(auths visibility.Authorizations) visibility.Authorizations {
	return auths.With(string(Visibility))
}

// Add stores tm under visibility vis. OutVertexID is required, and an empty
// ID is generated.
func (r *Repository) Add(ctx context.Context, tm TermMention, vis visibility.Visibility, auths visibility.Authorizations) (*TermMention, error) {
	if tm.OutVertexID == "" {
		return nil, errors.New("term mention requires an out vertex")
	}
	if tm.ID == "" {
		tm.ID = util.NewID("TM")
	}
	auths = Authorizations(auths)
	tmVis := visibility.And(vis, Visibility)
	tm.Visibility = tmVis

	b := r.graph.PrepareVertex(tm.ID, tmVis)
	for name, value := range tm.values() {
		b.AddPropertyValue("", name, value, nil, tmVis)
	}
	if _, err := b.Save(ctx, auths); err != nil {
		return nil, fmt.Errorf("save term mention %s: %w", tm.ID, err)
	}
	if _, err := r.graph.PrepareEdge(hasTermMentionEdgeID(tm.ID), tm.OutVertexID, tm.ID, LabelHasTermMention, tmVis).Save(ctx, auths); err != nil {
		return nil, fmt.Errorf("link term mention %s: %w", tm.ID, err)
	}
	if tm.ResolvedToVertexID != "" {
		if _, err := r.graph.PrepareEdge(resolvedToEdgeID(tm.ID), tm.ID, tm.ResolvedToVertexID, LabelResolvedTo, tmVis).Save(ctx, auths); err != nil {
			return nil, fmt.Errorf("resolve term mention %s: %w", tm.ID, err)
		}
	}
	return &tm, nil
}

// FindByVertexID returns mentions in vertexID's text and mentions resolved
// to it.
func (r *Repository) FindByVertexID(ctx context.Context, vertexID string, auths visibility.Authorizations) ([]*TermMention, error) {
	auths = Authorizations(auths)
	edges, err := r.graph.EdgesOf(ctx, vertexID, graph.DirectionBoth, "", graph.FetchDefault, auths)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		if e.Label == LabelHasTermMention || e.Label == LabelResolvedTo {
			ids = append(ids, e.OtherVertexID(vertexID))
		}
	}
	return r.load(ctx, ids, graph.FetchDefault, auths)
}

// FindByEdge returns the mentions touching either endpoint of edge.
func (r *Repository) FindByEdge(ctx context.Context, edge *graph.Edge, auths visibility.Authorizations) ([]*TermMention, error) {
	out, err := r.FindByVertexID(ctx, edge.OutVertexID, auths)
	if err != nil {
		return nil, err
	}
	in, err := r.FindByVertexID(ctx, edge.InVertexID, auths)
	if err != nil {
		return nil, err
	}
	return dedupe(append(out, in...)), nil
}

// FindByEdgeForEdge returns the mentions extracted for edge itself.
func (r *Repository) FindByEdgeForEdge(ctx context.Context, edge *graph.Edge, auths visibility.Authorizations) ([]*TermMention, error) {
	all, err := r.FindByEdge(ctx, edge, auths)
	if err != nil {
		return nil, err
	}
	return filter(all, func(tm *TermMention) bool {
		return tm.ForElementID == edge.ID && tm.ForType == ForEdge
	}), nil
}

// FindByEdgeID returns the mentions in outVertexID's text resolved through
// edgeID.
func (r *Repository) FindByEdgeID(ctx context.Context, outVertexID, edgeID string, auths visibility.Authorizations) ([]*TermMention, error) {
	return r.findByEdgeID(ctx, outVertexID, edgeID, graph.FetchDefault, auths)
}

// FindHiddenByEdgeID is FindByEdgeID for the mentions hidden from auths.
func (r *Repository) FindHiddenByEdgeID(ctx context.Context, outVertexID, edgeID string, auths visibility.Authorizations) ([]*TermMention, error) {
	all, err := r.findByEdgeID(ctx, outVertexID, edgeID, graph.FetchIncludeHidden, auths)
	if err != nil {
		return nil, err
	}
	return filter(all, func(tm *TermMention) bool { return tm.hidden }), nil
}

func (r *Repository) findByEdgeID(ctx context.Context, outVertexID, edgeID string, hint graph.FetchHint, auths visibility.Authorizations) ([]*TermMention, error) {
	auths = Authorizations(auths)
	edges, err := r.graph.EdgesOf(ctx, outVertexID, graph.DirectionOut, LabelHasTermMention, hint, auths)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.InVertexID)
	}
	all, err := r.load(ctx, ids, hint, auths)
	if err != nil {
		return nil, err
	}
	return filter(all, func(tm *TermMention) bool { return tm.ResolvedEdgeID == edgeID }), nil
}

// FindResolvedTo returns the mentions resolved to inVertexID.
func (r *Repository) FindResolvedTo(ctx context.Context, inVertexID string, auths visibility.Authorizations) ([]*TermMention, error) {
	return r.findResolvedTo(ctx, inVertexID, graph.FetchDefault, auths)
}

// FindHiddenResolvedTo returns the mentions resolved to inVertexID that
// are hidden from auths.
func (r *Repository) FindHiddenResolvedTo(ctx context.Context, inVertexID string, auths visibility.Authorizations) ([]*TermMention, error) {
	all, err := r.findResolvedTo(ctx, inVertexID, graph.FetchIncludeHidden, auths)
	if err != nil {
		return nil, err
	}
	return filter(all, func(tm *TermMention) bool { return tm.hidden }), nil
}

func (r *Repository) findResolvedTo(ctx context.Context, inVertexID string, hint graph.FetchHint, auths visibility.Authorizations) ([]*TermMention, error) {
	auths = Authorizations(auths)
	edges, err := r.graph.EdgesOf(ctx, inVertexID, graph.DirectionIn, LabelResolvedTo, hint, auths)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.OutVertexID)
	}
	return r.load(ctx, ids, hint, auths)
}

// FindByVertexIDAndProperty returns the mentions annotating one property
// copy of vertexID.
func (r *Repository) FindByVertexIDAndProperty(ctx context.Context, vertexID, key, name string, vis visibility.Visibility, auths visibility.Authorizations) ([]*TermMention, error) {
	all, err := r.FindByVertexID(ctx, vertexID, auths)
	if err != nil {
		return nil, err
	}
	return filter(all, func(tm *TermMention) bool {
		return tm.ForElementID == vertexID && tm.ForType == ForProperty && tm.refersTo(key, name, vis)
	}), nil
}

// FindByEdgeIDAndProperty is FindByVertexIDAndProperty for an edge property.
func (r *Repository) FindByEdgeIDAndProperty(ctx context.Context, edge *graph.Edge, key, name string, vis visibility.Visibility, auths visibility.Authorizations) ([]*TermMention, error) {
	all, err := r.FindByEdge(ctx, edge, auths)
	if err != nil {
		return nil, err
	}
	return filter(all, func(tm *TermMention) bool {
		return tm.ForElementID == edge.ID && tm.ForType == ForProperty && tm.refersTo(key, name, vis)
	}), nil
}

// FindOutVertex returns the vertex whose text holds the mention, or
// graph.ErrNotFound.
func (r *Repository) FindOutVertex(ctx context.Context, tmID string, auths visibility.Authorizations) (*graph.Vertex, error) {
	auths = Authorizations(auths)
	edges, err := r.graph.EdgesOf(ctx, tmID, graph.DirectionIn, LabelHasTermMention, graph.FetchDefault, auths)
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, graph.ErrNotFound
	}
	return r.graph.GetVertex(ctx, edges[0].OutVertexID, graph.FetchDefault, auths)
}

// UpdateVisibility moves the mention, its properties and its edges to
// newVis & termMention, and records newVis as the referenced property's
// visibility.
func (r *Repository) UpdateVisibility(ctx context.Context, tm *TermMention, newVis visibility.Visibility, auths visibility.Authorizations) error {
	auths = Authorizations(auths)
	tmVis := visibility.And(newVis, Visibility)
	v, err := r.graph.GetVertex(ctx, tm.ID, graph.FetchIncludeHidden, auths)
	if err != nil {
		return fmt.Errorf("load term mention %s: %w", tm.ID, err)
	}
	m := r.graph.Mutate(v.Ref()).AlterElementVisibility(tmVis)
	for _, p := range v.Properties {
		m.AlterPropertyVisibility(p.Key, p.Name, p.Visibility, tmVis)
	}
	if tm.RefPropertyVisibility != "" {
		m.AddPropertyValue("", propRefPropertyVisibility, newVis.String(), nil, tmVis)
	}
	if err := m.Save(ctx, auths); err != nil {
		return fmt.Errorf("update term mention %s: %w", tm.ID, err)
	}

	edges, err := r.graph.EdgesOf(ctx, tm.ID, graph.DirectionBoth, "", graph.FetchIncludeHidden, auths)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if err := r.graph.Mutate(e.Ref()).AlterElementVisibility(tmVis).Save(ctx, auths); err != nil {
			return fmt.Errorf("update term mention edge %s: %w", e.ID, err)
		}
	}
	tm.Visibility = tmVis
	if tm.RefPropertyVisibility != "" {
		tm.RefPropertyVisibility = newVis.String()
	}
	r.log.Debug().Str("termMentionId", tm.ID).Str("visibility", tmVis.String()).Msg("term mention visibility updated")
	return nil
}

// Delete soft-deletes the mention with its edges.
func (r *Repository) Delete(ctx context.Context, tm *TermMention, auths visibility.Authorizations) error {
	return r.graph.SoftDeleteVertex(ctx, tm.ID, Authorizations(auths))
}

func (r *Repository) MarkHidden(ctx context.Context, tm *TermMention, vis visibility.Visibility, auths visibility.Authorizations) error {
	return r.graph.MarkVertexHidden(ctx, tm.ID, vis, Authorizations(auths))
}

// MarkVisible reverses MarkHidden.
func (r *Repository) MarkVisible(ctx context.Context, tm *TermMention, vis visibility.Visibility, auths visibility.Authorizations) error {
	return r.graph.MarkVertexVisible(ctx, tm.ID, vis, Authorizations(auths))
}

func (r *Repository) load(ctx context.Context, ids []string, hint graph.FetchHint, auths visibility.Authorizations) ([]*TermMention, error) {
	sort.Strings(ids)
	vertices, err := r.graph.GetVertices(ctx, uniq(ids), hint, auths)
	if err != nil {
		return nil, err
	}
	out := make([]*TermMention, 0, len(vertices))
	for _, v := range vertices {
		if v.Property("", propForElementID) == nil && v.Property("", propSign) == nil {
			continue
		}
		tm, err := r.fromVertex(ctx, v, auths)
		if err != nil {
			return nil, err
		}
		out = append(out, tm)
	}
	return out, nil
}

func (r *Repository) fromVertex(ctx context.Context, v *graph.Vertex, auths visibility.Authorizations) (*TermMention, error) {
	tm := &TermMention{
		ID:                    v.ID,
		Visibility:            v.Visibility,
		ForElementID:          stringValue(v, propForElementID),
		ForType:               ForType(stringValue(v, propForType)),
		ResolvedEdgeID:        stringValue(v, propResolvedEdgeID),
		PropertyKey:           stringValue(v, propPropertyKey),
		PropertyName:          stringValue(v, propPropertyName),
		RefPropertyKey:        stringValue(v, propRefPropertyKey),
		RefPropertyName:       stringValue(v, propRefPropertyName),
		RefPropertyVisibility: stringValue(v, propRefPropertyVisibility),
		Sign:                  stringValue(v, propSign),
		Start:                 intValue(v, propStart),
		End:                   intValue(v, propEnd),
		hidden:                v.IsHidden(auths),
	}
	edges, err := r.graph.EdgesOf(ctx, v.ID, graph.DirectionBoth, "", graph.FetchDefault, auths)
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		switch {
		case e.Label == LabelHasTermMention && e.InVertexID == v.ID:
			tm.OutVertexID = e.OutVertexID
		case e.Label == LabelResolvedTo && e.OutVertexID == v.ID:
			tm.ResolvedToVertexID = e.InVertexID
		}
	}
	return tm, nil
}

func (tm TermMention) values() map[string]any {
	values := map[string]any{
		propForElementID: tm.ForElementID,
		propForType:      string(tm.ForType),
		propSign:         tm.Sign,
		propStart:        tm.Start,
		propEnd:          tm.End,
	}
	optional := map[string]string{
		propResolvedEdgeID:        tm.ResolvedEdgeID,
		propPropertyKey:           tm.PropertyKey,
		propPropertyName:          tm.PropertyName,
		propRefPropertyKey:        tm.RefPropertyKey,
		propRefPropertyName:       tm.RefPropertyName,
		propRefPropertyVisibility: tm.RefPropertyVisibility,
	}
	for name, value := range optional {
		if value != "" {
			values[name] = value
		}
	}
	return values
}

func (tm *TermMention) refersTo(key, name string, vis visibility.Visibility) bool {
	return tm.RefPropertyKey == key && tm.RefPropertyName == name && tm.RefPropertyVisibility == vis.String()
}

func hasTermMentionEdgeID(tmID string) string { return tmID + "_hasTermMention" }

func resolvedToEdgeID(tmID string) string { return tmID + "_resolvedTo" }

func stringValue(v *graph.Vertex, name string) string {
	if p := v.Property("", name); p != nil {
		if s, ok := p.Value.(string); ok {
			return s
		}
	}
	return ""
}

// intValue accepts the numeric forms a value can take after a JSON round
// trip through a storage backend.
func intValue(v *graph.Vertex, name string) int64 {
	p := v.Property("", name)
	if p == nil {
		return 0
	}
	switch n := p.Value.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func filter(in []*TermMention, keep func(*TermMention) bool) []*TermMention {
	var out []*TermMention
	for _, tm := range in {
		if keep(tm) {
			out = append(out, tm)
		}
	}
	return out
}

func dedupe(in []*TermMention) []*TermMention {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, tm := range in {
		if _, ok := seen[tm.ID]; ok {
			continue
		}
		seen[tm.ID] = struct{}{}
		out = append(out, tm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func uniq(sorted []string) []string {
	out := sorted[:0]
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}
