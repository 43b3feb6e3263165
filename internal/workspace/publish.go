package workspace

import (
	"context"
	"errors"
	"fmt"

	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/ontology"
	"graphdesk/api/internal/rbac"
	"graphdesk/api/internal/visibility"
	"graphdesk/api/internal/workqueue"
)

// videoFrameVisibility guards frame-level media properties. Publishing
// elevates to it so those properties move with their vertex.
const videoFrameVisibility = "videoFrame"

// Publish makes the workspace's changes named by items public. Items fail
// individually; the failures come back in the response with their
// ErrorMessage set.
func (r *Repository) Publish(ctx context.Context, items []Item, user rbac.User, workspaceID string) (*PublishResponse, error) {
	var resp *PublishResponse
	err := r.withLock(ctx, workspaceID, func(ctx context.Context) error {
		if err := r.requireAccess(ctx, workspaceID, user, rbac.AccessRead); err != nil {
			return err
		}
		var addOrUpdate, deletes []Item
		for _, item := range items {
			if err := item.Validate(); err != nil {
				item.base().fail(err.Error())
				continue
			}
			if ActionOf(item) == ActionDelete {
				deletes = append(deletes, item)
			} else {
				addOrUpdate = append(addOrUpdate, item)
			}
		}

		auths := Authorizations(user, workspaceID)
		r.log.Debug().Str("workspaceId", workspaceID).Int("items", len(items)).Msg("publish")
		if err := r.publishVertices(ctx, addOrUpdate, workspaceID, auths); err != nil {
			return err
		}
		if err := r.publishEdges(ctx, addOrUpdate, workspaceID, auths); err != nil {
			return err
		}
		if err := r.publishProperties(ctx, items, workspaceID, auths); err != nil {
			return err
		}
		if err := r.publishEdges(ctx, deletes, workspaceID, auths); err != nil {
			return err
		}
		if err := r.publishVertices(ctx, deletes, workspaceID, auths); err != nil {
			return err
		}

		resp = &PublishResponse{Failures: failures(items)}
		resp.Success = len(resp.Failures) == 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		r.metrics.PublishItem(itemKind(item), itemResult(item))
	}
	return resp, nil
}

func itemKind(item Item) string {
	switch item.(type) {
	case *VertexItem:
		return "vertex"
	case *RelationshipItem:
		return "edge"
	case *PropertyItem:
		return "property"
	}
	return "unknown"
}

func itemResult(item Item) string {
	if ErrorMessage(item) != "" {
		return "failure"
	}
	return "success"
}

func (r *Repository) publishVertices(ctx context.Context, items []Item, workspaceID string, auths visibility.Authorizations) error {
	elevated := auths.With(videoFrameVisibility)
	for _, item := range items {
		vi, ok := item.(*VertexItem)
		if !ok || ErrorMessage(vi) != "" {
			continue
		}
		v, err := r.graph.GetVertex(ctx, vi.VertexID, graph.FetchIncludeHidden, elevated)
		if errors.Is(err, graph.ErrNotFound) {
			vi.fail("Unable to load vertex with id " + vi.VertexID)
			continue
		}
		if err != nil {
			vi.fail(err.Error())
			continue
		}
		if ElementSandboxStatus(&v.Element, workspaceID) == StatusPublic && !v.IsHidden(auths) {
			if vi.Action == ActionDelete {
				vi.fail("Cannot delete public vertex " + v.ID)
			} else {
				vi.fail("Vertex " + v.ID + " is already public")
			}
			continue
		}
		if err := r.publishVertex(ctx, v, vi.Action, workspaceID, elevated); err != nil {
			r.graph.Discard(ctx)
			vi.fail(err.Error())
		}
	}
	return r.graph.Flush(ctx)
}

func (r *Repository) publishVertex(ctx context.Context, v *graph.Vertex, action Action, workspaceID string, auths visibility.Authorizations) error {
	if action == ActionDelete || v.IsHidden(auths) {
		before := r.helper.beforeAction()
		var source string
		if vj := ElementVisibilityJSON(&v.Element); vj != nil {
			source = vj.RemoveAllWorkspaces().Source
		}
		if err := r.helper.removeVertexReferences(ctx, v, workspaceID, source, workqueue.PriorityHigh, before, auths); err != nil {
			return err
		}
		if err := r.graph.SoftDeleteVertex(ctx, v.ID, auths); err != nil {
			return err
		}
		if err := r.graph.Flush(ctx); err != nil {
			return err
		}
		msg := elementMessage(workqueue.KindPublishedVertexDeletion, v.Ref())
		msg.BeforeActionTimestamp = before
		msg.Priority = workqueue.PriorityHigh
		r.helper.push(ctx, msg)
		return nil
	}

	r.log.Debug().Str("vertexId", v.ID).Str("visibility", v.Visibility.String()).Msg("publishing vertex")
	vj := ElementVisibilityJSON(&v.Element)
	if vj == nil || !vj.HasWorkspace(workspaceID) {
		return fmt.Errorf("vertex with id '%s' is not local to workspace '%s'", v.ID, workspaceID)
	}
	public := vj.RemoveAllWorkspaces()
	vis := r.translator.ToVisibility(public)

	m := r.graph.Mutate(v.Ref()).AlterElementVisibility(vis)
	for _, p := range v.Properties {
		if r.shouldAutoPublish(p) {
			r.publishNewProperty(m, p, workspaceID)
		}
	}
	m.AddPropertyValue("", ontology.VisibilityJSON, public.String(), nil, r.translator.DefaultVisibility())
	if err := m.Save(ctx, auths); err != nil {
		return err
	}

	mentions, err := r.termMentions.FindByVertexID(ctx, v.ID, auths)
	if err != nil {
		return err
	}
	for _, tm := range mentions {
		if err := r.termMentions.UpdateVisibility(ctx, tm, vis, auths); err != nil {
			return err
		}
	}
	if err := r.graph.Flush(ctx); err != nil {
		return err
	}
	r.helper.broadcast(ctx, elementMessage(workqueue.KindPublishVertex, v.Ref()))
	return nil
}

func (r *Repository) publishEdges(ctx context.Context, items []Item, workspaceID string, auths visibility.Authorizations) error {
	for _, item := range items {
		ri, ok := item.(*RelationshipItem)
		if !ok || ErrorMessage(ri) != "" {
			continue
		}
		if err := r.publishEdgeItem(ctx, ri, workspaceID, auths); err != nil {
			r.graph.Discard(ctx)
			ri.fail(err.Error())
		}
	}
	return r.graph.Flush(ctx)
}

func (r *Repository) publishEdgeItem(ctx context.Context, ri *RelationshipItem, workspaceID string, auths visibility.Authorizations) error {
	edge, err := r.graph.GetEdge(ctx, ri.EdgeID, graph.FetchIncludeHidden, auths)
	if errors.Is(err, graph.ErrNotFound) {
		return fmt.Errorf("Unable to load edge with id %s", ri.EdgeID)
	}
	if err != nil {
		return err
	}
	out, err := r.graph.GetVertex(ctx, edge.OutVertexID, graph.FetchIncludeHidden, auths)
	if err != nil {
		return fmt.Errorf("edge %s source vertex %s: %w", edge.ID, edge.OutVertexID, err)
	}
	in, err := r.graph.GetVertex(ctx, edge.InVertexID, graph.FetchIncludeHidden, auths)
	if err != nil {
		return fmt.Errorf("edge %s destination vertex %s: %w", edge.ID, edge.InVertexID, err)
	}

	if ElementSandboxStatus(&edge.Element, workspaceID) == StatusPublic && !edge.IsHidden(auths) {
		if ri.Action == ActionDelete {
			return errors.New("Cannot delete a public edge")
		}
		return errors.New("Edge is already public")
	}
	if ElementSandboxStatus(&out.Element, workspaceID) != StatusPublic && ElementSandboxStatus(&in.Element, workspaceID) != StatusPublic {
		return fmt.Errorf("Cannot publish edge, %s, because either source and/or dest vertex are not public", edge.ID)
	}
	return r.publishEdge(ctx, edge, out, in, ri.Action, workspaceID, auths)
}

func (r *Repository) publishEdge(ctx context.Context, edge *graph.Edge, out, in *graph.Vertex, action Action, workspaceID string, auths visibility.Authorizations) error {
	if action == ActionDelete || edge.IsHidden(auths) {
		before := r.helper.beforeAction()
		if err := r.helper.removeEdgeReferences(ctx, edge, out, auths); err != nil {
			return err
		}
		if err := r.graph.SoftDeleteEdge(ctx, edge.ID, auths); err != nil {
			return err
		}
		if err := r.graph.Flush(ctx); err != nil {
			return err
		}
		msg := elementMessage(workqueue.KindPublishedEdgeDeletion, edge.Ref())
		msg.BeforeActionTimestamp = before
		msg.Priority = workqueue.PriorityHigh
		r.helper.push(ctx, msg)
		return nil
	}

	r.log.Debug().Str("edgeId", edge.ID).Str("visibility", edge.Visibility.String()).Msg("publishing edge")
	vj := ElementVisibilityJSON(&edge.Element)
	if vj == nil || !vj.HasWorkspace(workspaceID) {
		return fmt.Errorf("edge with id '%s' is not local to workspace '%s'", edge.ID, workspaceID)
	}
	if iri := r.helper.intents().entityHasImage; iri != "" && edge.Label == iri {
		if err := r.publishGlyphIconProperties(ctx, edge, workspaceID, auths); err != nil {
			return err
		}
	}

	public := vj.RemoveAllWorkspaces()
	vis := r.translator.ToVisibility(public)
	m := r.graph.Mutate(edge.Ref()).AlterElementVisibility(vis)
	for _, p := range edge.Properties {
		if r.shouldAutoPublish(p) {
			r.publishNewProperty(m, p, workspaceID)
		}
	}
	m.AddPropertyValue("", ontology.VisibilityJSON, public.String(), nil, r.translator.DefaultVisibility())
	if err := m.Save(ctx, auths); err != nil {
		return err
	}

	resolved, err := r.termMentions.FindResolvedTo(ctx, in.ID, auths)
	if err != nil {
		return err
	}
	forEdge, err := r.termMentions.FindByEdgeForEdge(ctx, edge, auths)
	if err != nil {
		return err
	}
	for _, tm := range append(resolved, forEdge...) {
		if err := r.termMentions.UpdateVisibility(ctx, tm, vis, auths); err != nil {
			return err
		}
	}
	if err := r.graph.Flush(ctx); err != nil {
		return err
	}
	r.helper.broadcast(ctx, elementMessage(workqueue.KindPublishEdge, edge.Ref()))
	return nil
}

// publishGlyphIconProperties publishes the entity image property an
// entityHasImage edge points at.
func (r *Repository) publishGlyphIconProperties(ctx context.Context, edge *graph.Edge, workspaceID string, auths visibility.Authorizations) error {
	entity, err := r.graph.GetVertex(ctx, edge.OutVertexID, graph.FetchIncludeHidden, auths)
	if errors.Is(err, graph.ErrNotFound) {
		return fmt.Errorf("Could not find has image source vertex %s", edge.OutVertexID)
	}
	if err != nil {
		return err
	}
	m := r.graph.Mutate(entity.Ref())
	for _, p := range entity.PropertiesNamed(ontology.EntityImageVertexID) {
		if r.publishNewProperty(m, p, workspaceID) {
			return m.Save(ctx, auths)
		}
	}
	r.log.Warn().Str("vertexId", entity.ID).Msg("new has image edge without a glyph icon property being set on vertex")
	return nil
}

// shouldAutoPublish reports whether p moves with its element rather than
// through its own diff item. That covers system properties, but not the
// entity image. Element bookkeeping properties are skipped when they
// already are public.
func (r *Repository) shouldAutoPublish(p *graph.Property) bool {
	def, ok := r.ontology.PropertyByIRI(p.Name)
	if !ok || def.UserVisible {
		return false
	}
	switch p.Name {
	case ontology.EntityImageVertexID:
		return false
	case ontology.ConceptType, ontology.ModifiedBy, ontology.ModifiedDate, ontology.VisibilityJSON:
		if _, has := p.MetadataValue(ontology.MetadataVisibilityJSON); has {
			r.log.Warn().Str("name", p.Name).Str("key", p.Key).Msg("property should not have visibility json metadata set")
			return true
		}
		if p.Visibility != r.translator.DefaultVisibility() {
			r.log.Warn().Str("name", p.Name).Str("key", p.Key).Str("visibility", p.Visibility.String()).Msg("property should have default visibility")
			return true
		}
		return false
	}
	return true
}

// publishNewProperty stages the move of a private property to the
// visibility it has once the workspace is stripped from it. It reports
// false when p has nothing to publish for the workspace.
func (r *Repository) publishNewProperty(m *graph.Mutation, p *graph.Property, workspaceID string) bool {
	vj := PropertyVisibilityJSON(p)
	if vj == nil {
		r.log.Warn().Str("name", p.Name).Str("key", p.Key).Msg("skipping property, no visibility json")
		return false
	}
	if !vj.HasWorkspace(workspaceID) {
		r.log.Warn().Str("name", p.Name).Str("key", p.Key).Str("workspaceId", workspaceID).Msg("skipping property, workspace not in visibility json")
		return false
	}
	r.log.Debug().Str("name", p.Name).Str("key", p.Key).Str("visibility", p.Visibility.String()).Msg("publishing property")
	public := vj.RemoveAllWorkspaces()
	vis := r.translator.ToVisibility(public)
	m.AlterPropertyVisibility(p.Key, p.Name, p.Visibility, vis).
		SetPropertyMetadata(p.Key, p.Name, vis, ontology.MetadataVisibilityJSON, public.String())
	return true
}

func (r *Repository) publishProperties(ctx context.Context, items []Item, workspaceID string, auths visibility.Authorizations) error {
	for _, item := range items {
		pi, ok := item.(*PropertyItem)
		if !ok || ErrorMessage(pi) != "" {
			continue
		}
		el, err := r.propertyElement(ctx, pi, auths)
		if err != nil {
			pi.fail(err.Error())
			continue
		}
		if pi.Name == ontology.EntityImageVertexID {
			continue
		}
		def, known := r.ontology.PropertyByIRI(pi.Name)
		if !known {
			pi.fail("Could not find ontology property: " + pi.Name)
			continue
		}
		if !def.UserVisible {
			continue
		}
		if ElementSandboxStatus(el, workspaceID) != StatusPublic {
			pi.fail("Cannot publish a modification of a property on a private element: " + el.ID)
			continue
		}
		if err := r.publishProperty(ctx, el, pi.Action, pi.Key, pi.Name, workspaceID, auths); err != nil {
			pi.fail(err.Error())
		}
	}
	return r.graph.Flush(ctx)
}

// propertyElement resolves the element a property item targets: the edge
// id first, then the vertex id, then the element id as a vertex or edge.
func (r *Repository) propertyElement(ctx context.Context, pi *PropertyItem, auths visibility.Authorizations) (*graph.Element, error) {
	if pi.EdgeID != "" {
		e, err := r.graph.GetEdge(ctx, pi.EdgeID, graph.FetchIncludeHidden, auths)
		if err == nil {
			return &e.Element, nil
		}
		if !errors.Is(err, graph.ErrNotFound) {
			return nil, err
		}
	}
	if pi.VertexID != "" {
		v, err := r.graph.GetVertex(ctx, pi.VertexID, graph.FetchIncludeHidden, auths)
		if err == nil {
			return &v.Element, nil
		}
		if !errors.Is(err, graph.ErrNotFound) {
			return nil, err
		}
	}
	if pi.ElementID != "" {
		v, err := r.graph.GetVertex(ctx, pi.ElementID, graph.FetchIncludeHidden, auths)
		if err == nil {
			return &v.Element, nil
		}
		if !errors.Is(err, graph.ErrNotFound) {
			return nil, err
		}
		e, err := r.graph.GetEdge(ctx, pi.ElementID, graph.FetchIncludeHidden, auths)
		if err == nil {
			return &e.Element, nil
		}
		if !errors.Is(err, graph.ErrNotFound) {
			return nil, err
		}
	}
	id := firstNonEmpty(pi.ElementID, pi.VertexID, pi.EdgeID)
	return nil, fmt.Errorf("Could not find edge/vertex with id: %s", id)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (r *Repository) publishProperty(ctx context.Context, el *graph.Element, action Action, key, name, workspaceID string, auths visibility.Authorizations) error {
	ref := el.Ref()
	before := r.helper.beforeAction()
	wsVis := visibility.Visibility(workspaceID)

	if action == ActionDelete {
		if ref.Type == graph.ElementTypeVertex {
			for _, p := range el.PropertiesFor(key, name) {
				if err := r.helper.unresolveTermMentionsForProperty(ctx, el.ID, p, auths); err != nil {
					return err
				}
			}
		}
		if err := r.graph.SoftDeleteProperties(ctx, ref, key, name, auths); err != nil {
			return err
		}
		if err := r.graph.Flush(ctx); err != nil {
			return err
		}
		r.helper.push(ctx, r.publishedPropertyDeletion(ref, key, name, before))
		return nil
	}

	props := el.PropertiesFor(key, name)
	statuses := PropertySandboxStatuses(props, workspaceID)
	publicProperty := supersededDelete(props, statuses, auths)

	found := false
	applied := false
	for i, p := range props {
		handled := false
		newVis := p.Visibility

		switch {
		case p.IsHidden(auths):
			if publicProperty != nil {
				break
			}
			if ref.Type == graph.ElementTypeVertex {
				if err := r.helper.unresolveTermMentionsForProperty(ctx, el.ID, p, auths); err != nil {
					return err
				}
			}
			if err := r.graph.SoftDeleteProperty(ctx, ref, key, name, p.Visibility, auths); err != nil {
				return err
			}
			if err := r.graph.Flush(ctx); err != nil {
				return err
			}
			r.helper.push(ctx, r.publishedPropertyDeletion(ref, key, name, before))
			handled = true

		case statuses[i] == StatusPublicChanged:
			if err := r.graph.SoftDeleteProperty(ctx, ref, key, name, p.Visibility, auths); err != nil {
				return err
			}
			r.helper.push(ctx, r.publishedPropertyDeletion(ref, key, name, before))
			if !applied {
				vis, err := r.replacePublicValue(ctx, ref, props, statuses, publicProperty, p, workspaceID, wsVis, auths)
				if err != nil {
					return err
				}
				if vis != nil {
					newVis = *vis
					msg := propertyMessage(workqueue.KindGraphProperty, ref, key, name)
					msg.Status = workqueue.StatusUnhidden
					msg.BeforeActionTimestamp = before
					msg.Priority = workqueue.PriorityHigh
					r.helper.push(ctx, msg)
				}
				applied = true
			}
			if err := r.graph.Flush(ctx); err != nil {
				return err
			}
			r.helper.broadcast(ctx, propertyMessage(workqueue.KindPublishProperty, ref, key, name))
			handled = true

		default:
			m := r.graph.Mutate(ref)
			if !r.publishNewProperty(m, p, workspaceID) {
				break
			}
			if err := m.Save(ctx, auths); err != nil {
				return err
			}
			if err := r.graph.Flush(ctx); err != nil {
				return err
			}
			r.helper.broadcast(ctx, propertyMessage(workqueue.KindPublishProperty, ref, key, name))
			newVis = r.translator.ToVisibility(PropertyVisibilityJSON(p).RemoveAllWorkspaces())
			handled = true
		}

		if !handled {
			continue
		}
		found = true
		if ref.Type != graph.ElementTypeVertex || newVis == p.Visibility {
			continue
		}
		mentions, err := r.termMentions.FindByVertexIDAndProperty(ctx, el.ID, key, name, p.Visibility, auths)
		if err != nil {
			return err
		}
		for _, tm := range mentions {
			if err := r.termMentions.UpdateVisibility(ctx, tm, newVis, auths); err != nil {
				return err
			}
		}
	}
	if !found {
		return fmt.Errorf("no property with key '%s' and name '%s' found on workspace '%s'", key, name, workspaceID)
	}
	return nil
}

// replacePublicValue writes the overlay's value into the public copy it
// edits, unhiding a superseded deletion first. It returns the visibility the
// value now lives at, or nil when there is no public copy.
func (r *Repository) replacePublicValue(ctx context.Context, ref graph.ElementRef, props []*graph.Property, statuses []SandboxStatus, publicProperty, overlay *graph.Property, workspaceID string, wsVis visibility.Visibility, auths visibility.Authorizations) (*visibility.Visibility, error) {
	target := publicProperty
	if target != nil {
		if err := r.graph.MarkPropertyVisible(ctx, ref, target, wsVis, auths); err != nil {
			return nil, err
		}
	} else {
		target = existingProperty(props, statuses, overlay)
	}
	if target == nil {
		return nil, nil
	}

	md := overlay.Metadata.Clone()
	if md == nil {
		md = graph.Metadata{}
	}
	var public visibility.VisibilityJSON
	if vj := PropertyVisibilityJSON(overlay); vj != nil {
		public = vj.RemoveWorkspace(workspaceID)
	}
	md[ontology.MetadataVisibilityJSON] = public.String()
	newVis := r.translator.ToVisibility(public)

	m := r.graph.Mutate(ref)
	if target.Visibility != newVis {
		m.SoftDeleteProperty(target.Key, target.Name, target.Visibility)
	}
	m.AddPropertyValue(overlay.Key, overlay.Name, overlay.Value, md, newVis)
	if err := m.Save(ctx, auths); err != nil {
		return nil, err
	}
	return &newVis, nil
}

func (r *Repository) publishedPropertyDeletion(ref graph.ElementRef, key, name string, before int64) workqueue.Message {
	msg := propertyMessage(workqueue.KindPublishedPropertyDeletion, ref, key, name)
	msg.BeforeActionTimestamp = before
	msg.Priority = workqueue.PriorityHigh
	return msg
}
