package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/ontology"
	"graphdesk/api/internal/rbac"
	"graphdesk/api/internal/termmention"
	"graphdesk/api/internal/visibility"
	"graphdesk/api/internal/workqueue"
)

// entityUpdater puts a vertex on a workspace so that changes to it surface
// in the workspace diff.
type entityUpdater interface {
	UpdateEntityOnWorkspace(ctx context.Context, workspaceID, vertexID string, user rbac.User) error
}

// Helper performs cascading deletes of vertices, edges and properties on
// behalf of a workspace. Public items are hidden for the workspace; private
// ones are soft-deleted.
type Helper struct {
	graph        *graph.Graph
	ontology     *ontology.Registry
	termMentions *termmention.Repository
	queue        workqueue.Queue
	entities     entityUpdater
	log          zerolog.Logger
	now          func() time.Time
}

func NewHelper(g *graph.Graph, reg *ontology.Registry, tms *termmention.Repository, queue workqueue.Queue, entities entityUpdater, log zerolog.Logger) *Helper {
	return &Helper{
		graph:        g,
		ontology:     reg,
		termMentions: tms,
		queue:        queue,
		entities:     entities,
		log:          log.With().Str("component", "workspace-helper").Logger(),
		now:          time.Now,
	}
}

type intents struct {
	entityHasImage                string
	artifactContainsImageOfEntity string
}

func (h *Helper) intents() intents {
	var out intents
	var ok bool
	if out.entityHasImage, ok = h.ontology.RelationshipIRIByIntent(ontology.IntentEntityHasImage); !ok {
		h.log.Warn().Str("intent", ontology.IntentEntityHasImage).Msg("intent has not been defined, update the ontology")
	}
	if out.artifactContainsImageOfEntity, ok = h.ontology.RelationshipIRIByIntent(ontology.IntentArtifactContainsImageOfEntity); !ok {
		h.log.Warn().Str("intent", ontology.IntentArtifactContainsImageOfEntity).Msg("intent has not been defined, update the ontology")
	}
	return out
}

// beforeAction is the timestamp downstream consumers compare against to
// skip work made stale by the action.
func (h *Helper) beforeAction() int64 {
	return h.now().Add(-time.Millisecond).UnixMilli()
}

func (h *Helper) push(ctx context.Context, msg workqueue.Message) {
	if err := h.queue.Push(ctx, msg); err != nil {
		h.log.Error().Err(err).Str("type", string(msg.Kind)).Str("elementId", msg.ElementID).Msg("push notification")
	}
}

func (h *Helper) broadcast(ctx context.Context, msg workqueue.Message) {
	if err := h.queue.Broadcast(ctx, msg); err != nil {
		h.log.Error().Err(err).Str("type", string(msg.Kind)).Str("elementId", msg.ElementID).Msg("broadcast notification")
	}
}

func elementMessage(kind workqueue.Kind, ref graph.ElementRef) workqueue.Message {
	return workqueue.Message{Kind: kind, ElementType: string(ref.Type), ElementID: ref.ID}
}

func propertyMessage(kind workqueue.Kind, ref graph.ElementRef, key, name string) workqueue.Message {
	msg := elementMessage(kind, ref)
	msg.PropertyKey = key
	msg.PropertyName = name
	return msg
}

// DeleteProperty hides a public property for the workspace, or soft-deletes
// it. Term mentions referencing the vertex property follow: they are hidden
// with it, or unresolved.
func (h *Helper) DeleteProperty(ctx context.Context, el *graph.Element, p *graph.Property, propertyIsPublic bool, workspaceID string, priority workqueue.Priority, auths visibility.Authorizations) error {
	before := h.beforeAction()
	status := workqueue.StatusDeletion
	if propertyIsPublic && workspaceID != "" {
		if err := h.graph.MarkPropertyHidden(ctx, el.Ref(), p, visibility.Visibility(workspaceID), auths); err != nil {
			return fmt.Errorf("hide property %s:%s on %s: %w", p.Name, p.Key, el.ID, err)
		}
		status = workqueue.StatusHidden
	} else {
		if err := h.graph.SoftDeleteProperty(ctx, el.Ref(), p.Key, p.Name, p.Visibility, auths); err != nil {
			return fmt.Errorf("delete property %s:%s on %s: %w", p.Name, p.Key, el.ID, err)
		}
	}

	if el.Type() == graph.ElementTypeVertex {
		var err error
		if status == workqueue.StatusHidden {
			err = h.hideTermMentionsForProperty(ctx, el.ID, p, workspaceID, false, auths)
		} else {
			err = h.unresolveTermMentionsForProperty(ctx, el.ID, p, auths)
		}
		if err != nil {
			return err
		}
	}
	if err := h.graph.Flush(ctx); err != nil {
		return err
	}

	msg := propertyMessage(workqueue.KindGraphProperty, el.Ref(), p.Key, p.Name)
	msg.Status = status
	msg.WorkspaceID = workspaceID
	msg.BeforeActionTimestamp = before
	msg.Priority = priority
	h.push(ctx, msg)
	return nil
}

// DeleteProperties deletes every copy of (key, name) on the element, plus
// the copies of the ontology's dependent properties under the same key.
func (h *Helper) DeleteProperties(ctx context.Context, ref graph.ElementRef, key, name, workspaceID string, auths visibility.Authorizations, user rbac.User) error {
	el, endpoints, err := h.loadElement(ctx, ref, auths)
	if err != nil {
		return err
	}

	props := el.PropertiesFor(key, name)
	if def, ok := h.ontology.PropertyByIRI(name); ok {
		for _, dependent := range def.DependentPropertyIRIs {
			props = append(props, el.PropertiesFor(key, dependent)...)
		}
	}
	if len(props) == 0 {
		return fmt.Errorf("Could not find property %s:%s on %s: %w", name, key, el.ID, graph.ErrNotFound)
	}

	if workspaceID != "" {
		for _, vertexID := range endpoints {
			if err := h.entities.UpdateEntityOnWorkspace(ctx, workspaceID, vertexID, user); err != nil {
				return err
			}
		}
	}

	statuses := PropertySandboxStatuses(props, workspaceID)
	for i, p := range props {
		if err := h.DeleteProperty(ctx, el, p, statuses[i] == StatusPublic, workspaceID, workqueue.PriorityHigh, auths); err != nil {
			return err
		}
	}
	return nil
}

// loadElement returns the element and the vertices a change to it should
// surface on.
func (h *Helper) loadElement(ctx context.Context, ref graph.ElementRef, auths visibility.Authorizations) (*graph.Element, []string, error) {
	switch ref.Type {
	case graph.ElementTypeVertex:
		v, err := h.graph.GetVertex(ctx, ref.ID, graph.FetchIncludeHidden, auths)
		if err != nil {
			return nil, nil, fmt.Errorf("vertex %s: %w", ref.ID, err)
		}
		return &v.Element, []string{v.ID}, nil
	case graph.ElementTypeEdge:
		e, err := h.graph.GetEdge(ctx, ref.ID, graph.FetchIncludeHidden, auths)
		if err != nil {
			return nil, nil, fmt.Errorf("edge %s: %w", ref.ID, err)
		}
		return &e.Element, []string{e.InVertexID, e.OutVertexID}, nil
	}
	return nil, nil, fmt.Errorf("element is not an edge or vertex: %s", ref.ID)
}

func (h *Helper) deleteAllProperties(ctx context.Context, el *graph.Element, workspaceID string, priority workqueue.Priority, auths visibility.Authorizations) error {
	props := append([]*graph.Property(nil), el.Properties...)
	statuses := PropertySandboxStatuses(props, workspaceID)
	for i, p := range props {
		if err := h.DeleteProperty(ctx, el, p, statuses[i] == StatusPublic, workspaceID, priority, auths); err != nil {
			return err
		}
	}
	return nil
}

// DeleteEdge removes edge from the workspace view together with its
// properties, the detected objects and term mentions resolved through it,
// and the entity image it supplies.
func (h *Helper) DeleteEdge(ctx context.Context, workspaceID string, edge *graph.Edge, out, in *graph.Vertex, isPublicEdge bool, priority workqueue.Priority, auths visibility.Authorizations, user rbac.User) error {
	iris := h.intents()
	before := h.beforeAction()

	if err := h.deleteAllProperties(ctx, &edge.Element, workspaceID, priority, auths); err != nil {
		return err
	}
	if err := h.unresolveDetectedObjects(ctx, workspaceID, edge, out, in, isPublicEdge, priority, auths); err != nil {
		return err
	}
	for _, vertexID := range []string{edge.InVertexID, edge.OutVertexID} {
		if err := h.entities.UpdateEntityOnWorkspace(ctx, workspaceID, vertexID, user); err != nil {
			return err
		}
	}

	var image *graph.Property
	if iris.entityHasImage != "" && edge.Label == iris.entityHasImage {
		if imgs := out.PropertiesNamed(ontology.EntityImageVertexID); len(imgs) > 0 {
			image = imgs[0]
		}
	}
	mentions, err := h.termMentions.FindByEdgeID(ctx, out.ID, edge.ID, auths)
	if err != nil {
		return err
	}

	if isPublicEdge {
		wsVis := visibility.Visibility(workspaceID)
		if err := h.graph.MarkEdgeHidden(ctx, edge.ID, wsVis, auths); err != nil {
			return fmt.Errorf("hide edge %s: %w", edge.ID, err)
		}
		if image != nil {
			if err := h.graph.MarkPropertyHidden(ctx, out.Ref(), image, wsVis, auths); err != nil {
				return err
			}
			h.push(ctx, h.elementImage(out, image, priority))
		}
		for _, tm := range mentions {
			if err := h.termMentions.MarkHidden(ctx, tm, wsVis, auths); err != nil {
				return err
			}
			h.push(ctx, textUpdated(out.ID))
		}
		if err := h.graph.Flush(ctx); err != nil {
			return err
		}
		msg := elementMessage(workqueue.KindEdgeHidden, edge.Ref())
		msg.BeforeActionTimestamp = before
		msg.Priority = workqueue.PriorityHigh
		h.push(ctx, msg)
		return nil
	}

	if err := h.graph.SoftDeleteEdge(ctx, edge.ID, auths); err != nil {
		return fmt.Errorf("delete edge %s: %w", edge.ID, err)
	}
	if image != nil {
		if err := h.graph.SoftDeleteProperties(ctx, out.Ref(), image.Key, image.Name, auths); err != nil {
			return err
		}
		h.push(ctx, h.elementImage(out, image, priority))
	}
	for _, tm := range mentions {
		if err := h.termMentions.Delete(ctx, tm, auths); err != nil {
			return err
		}
		h.push(ctx, textUpdated(out.ID))
	}
	if err := h.graph.Flush(ctx); err != nil {
		return err
	}
	h.push(ctx, edgeDeletion(edge.Ref(), before))
	return nil
}

// DeleteVertex removes vertex from the workspace view together with its
// properties, the image and detected-object references other vertices hold
// to it, and the term mentions resolved to it.
func (h *Helper) DeleteVertex(ctx context.Context, vertex *graph.Vertex, workspaceID string, isPublicVertex bool, priority workqueue.Priority, auths visibility.Authorizations, user rbac.User) error {
	h.log.Debug().Str("vertexId", vertex.ID).Str("workspaceId", workspaceID).Bool("isPublicVertex", isPublicVertex).Str("user", user.ID).Msg("delete vertex")
	before := h.beforeAction()

	if err := h.deleteAllProperties(ctx, &vertex.Element, workspaceID, priority, auths); err != nil {
		return err
	}
	if err := h.entities.UpdateEntityOnWorkspace(ctx, workspaceID, vertex.ID, user); err != nil {
		return err
	}

	if isPublicVertex {
		if err := h.hideVertexReferences(ctx, vertex, workspaceID, priority, auths); err != nil {
			return err
		}
		if err := h.graph.MarkVertexHidden(ctx, vertex.ID, visibility.Visibility(workspaceID), auths); err != nil {
			return fmt.Errorf("hide vertex %s: %w", vertex.ID, err)
		}
		if err := h.graph.Flush(ctx); err != nil {
			return err
		}
		msg := elementMessage(workqueue.KindVertexHidden, vertex.Ref())
		msg.BeforeActionTimestamp = before
		msg.Priority = workqueue.PriorityHigh
		h.push(ctx, msg)
		return nil
	}

	var source string
	if vj := ElementVisibilityJSON(&vertex.Element); vj != nil {
		source = vj.RemoveAllWorkspaces().Source
	}
	if err := h.removeVertexReferences(ctx, vertex, workspaceID, source, priority, before, auths); err != nil {
		return err
	}

	// The workspace entity edge carries the workspace visibility.
	edges, err := h.graph.EdgesOf(ctx, vertex.ID, graph.DirectionBoth, "", graph.FetchIncludeHidden, auths.With(VisibilityString, workspaceID))
	if err != nil {
		return err
	}
	for _, edge := range edges {
		if edge.OtherVertexID(vertex.ID) != workspaceID {
			continue
		}
		if err := h.graph.SoftDeleteEdge(ctx, edge.ID, auths.With(VisibilityString, workspaceID)); err != nil {
			return err
		}
	}
	if err := h.graph.SoftDeleteVertex(ctx, vertex.ID, auths); err != nil {
		return fmt.Errorf("delete vertex %s: %w", vertex.ID, err)
	}
	if err := h.graph.Flush(ctx); err != nil {
		return err
	}
	msg := elementMessage(workqueue.KindVertexDeletion, vertex.Ref())
	msg.BeforeActionTimestamp = before
	msg.Priority = workqueue.PriorityHigh
	h.push(ctx, msg)
	return nil
}

// removeVertexReferences deletes the entity image, the detected objects and
// the resolved term mentions that point at vertex, hidden ones included.
func (h *Helper) removeVertexReferences(ctx context.Context, vertex *graph.Vertex, workspaceID, source string, priority workqueue.Priority, before int64, auths visibility.Authorizations) error {
	iris := h.intents()
	if iris.entityHasImage != "" {
		edges, err := h.graph.EdgesOf(ctx, vertex.ID, graph.DirectionIn, iris.entityHasImage, graph.FetchIncludeHidden, auths)
		if err != nil {
			return err
		}
		for _, edge := range edges {
			outVertex, err := h.graph.GetVertex(ctx, edge.OutVertexID, graph.FetchIncludeHidden, auths)
			if err != nil && !errors.Is(err, graph.ErrNotFound) {
				return err
			}
			if outVertex != nil {
				if imgs := outVertex.PropertiesNamed(ontology.EntityImageVertexID); len(imgs) > 0 {
					if err := h.graph.SoftDeleteProperties(ctx, outVertex.Ref(), imgs[0].Key, imgs[0].Name, auths); err != nil {
						return err
					}
					h.push(ctx, h.elementImage(outVertex, imgs[0], priority))
				}
			}
			if err := h.graph.SoftDeleteEdge(ctx, edge.ID, auths); err != nil {
				return err
			}
			h.push(ctx, edgeDeletion(edge.Ref(), before))
		}
	}

	if iris.artifactContainsImageOfEntity != "" {
		edges, err := h.graph.EdgesOf(ctx, vertex.ID, graph.DirectionIn, iris.artifactContainsImageOfEntity, graph.FetchIncludeHidden, auths)
		if err != nil {
			return err
		}
		rowKeys := vertex.PropertiesNamed(ontology.RowKey)
		for _, edge := range edges {
			if len(rowKeys) == 0 {
				continue
			}
			artifact := graph.ElementRef{Type: graph.ElementTypeVertex, ID: edge.OutVertexID}
			for _, rowKey := range rowKeys {
				multiValueKey := fmt.Sprint(rowKey.Value)
				if err := h.graph.SoftDeleteProperties(ctx, artifact, multiValueKey, ontology.DetectedObject, auths); err != nil && !errors.Is(err, graph.ErrNotFound) {
					return err
				}
				msg := propertyMessage(workqueue.KindGraphProperty, artifact, multiValueKey, ontology.DetectedObject)
				msg.WorkspaceID = workspaceID
				msg.VisibilitySource = source
				msg.Status = workqueue.StatusDeletion
				msg.BeforeActionTimestamp = before
				msg.Priority = priority
				h.push(ctx, msg)
			}
			if err := h.graph.SoftDeleteEdge(ctx, edge.ID, auths); err != nil {
				return err
			}
			h.push(ctx, edgeDeletion(edge.Ref(), before))
		}
	}

	resolved, err := h.termMentions.FindResolvedTo(ctx, vertex.ID, auths)
	if err != nil {
		return err
	}
	hidden, err := h.termMentions.FindHiddenResolvedTo(ctx, vertex.ID, auths)
	if err != nil {
		return err
	}
	for _, tm := range append(resolved, hidden...) {
		if err := h.UnresolveTerm(ctx, tm, auths); err != nil {
			return err
		}
	}
	return nil
}

// hideVertexReferences hides the references removeVertexReferences would
// delete from the workspace only. Readers outside it keep seeing them.
func (h *Helper) hideVertexReferences(ctx context.Context, vertex *graph.Vertex, workspaceID string, priority workqueue.Priority, auths visibility.Authorizations) error {
	iris := h.intents()
	wsVis := visibility.Visibility(workspaceID)

	if iris.entityHasImage != "" {
		edges, err := h.graph.EdgesOf(ctx, vertex.ID, graph.DirectionIn, iris.entityHasImage, graph.FetchDefault, auths)
		if err != nil {
			return err
		}
		for _, edge := range edges {
			outVertex, err := h.graph.GetVertex(ctx, edge.OutVertexID, graph.FetchDefault, auths)
			if err != nil && !errors.Is(err, graph.ErrNotFound) {
				return err
			}
			if outVertex != nil {
				for _, img := range outVertex.PropertiesNamed(ontology.EntityImageVertexID) {
					if err := h.graph.MarkPropertyHidden(ctx, outVertex.Ref(), img, wsVis, auths); err != nil {
						return err
					}
					h.push(ctx, h.elementImage(outVertex, img, priority))
				}
			}
			if err := h.graph.MarkEdgeHidden(ctx, edge.ID, wsVis, auths); err != nil {
				return err
			}
		}
	}

	if iris.artifactContainsImageOfEntity != "" {
		edges, err := h.graph.EdgesOf(ctx, vertex.ID, graph.DirectionIn, iris.artifactContainsImageOfEntity, graph.FetchDefault, auths)
		if err != nil {
			return err
		}
		rowKeys := vertex.PropertiesNamed(ontology.RowKey)
		for _, edge := range edges {
			artifact, err := h.graph.GetVertex(ctx, edge.OutVertexID, graph.FetchDefault, auths)
			if err != nil && !errors.Is(err, graph.ErrNotFound) {
				return err
			}
			if artifact != nil {
				for _, rowKey := range rowKeys {
					for _, p := range artifact.PropertiesFor(fmt.Sprint(rowKey.Value), ontology.DetectedObject) {
						if err := h.graph.MarkPropertyHidden(ctx, artifact.Ref(), p, wsVis, auths); err != nil {
							return err
						}
						msg := propertyMessage(workqueue.KindGraphProperty, artifact.Ref(), p.Key, p.Name)
						msg.WorkspaceID = workspaceID
						msg.Status = workqueue.StatusHidden
						msg.Priority = priority
						h.push(ctx, msg)
					}
				}
			}
			if err := h.graph.MarkEdgeHidden(ctx, edge.ID, wsVis, auths); err != nil {
				return err
			}
		}
	}

	resolved, err := h.termMentions.FindResolvedTo(ctx, vertex.ID, auths)
	if err != nil {
		return err
	}
	for _, tm := range resolved {
		if tm.ResolvedEdgeID != "" {
			if err := h.graph.MarkEdgeHidden(ctx, tm.ResolvedEdgeID, wsVis, auths); err != nil && !errors.Is(err, graph.ErrNotFound) {
				return err
			}
		}
		if err := h.termMentions.MarkHidden(ctx, tm, wsVis, auths); err != nil {
			return err
		}
		if tm.OutVertexID != "" {
			h.push(ctx, textUpdated(tm.OutVertexID))
		}
	}
	return nil
}

// restoreVertexReferences undoes hideVertexReferences, recording what it
// unhid in restored.
func (h *Helper) restoreVertexReferences(ctx context.Context, vertex *graph.Vertex, workspaceID string, auths visibility.Authorizations, restored restoredSet) error {
	iris := h.intents()
	wsVis := visibility.Visibility(workspaceID)

	if iris.entityHasImage != "" {
		edges, err := h.graph.EdgesOf(ctx, vertex.ID, graph.DirectionIn, iris.entityHasImage, graph.FetchIncludeHidden, auths)
		if err != nil {
			return err
		}
		for _, edge := range edges {
			if !edge.IsHidden(auths) {
				continue
			}
			if err := h.graph.MarkEdgeVisible(ctx, edge.ID, wsVis, auths); err != nil {
				return err
			}
			restored.edge(edge.ID)
			outVertex, err := h.graph.GetVertex(ctx, edge.OutVertexID, graph.FetchIncludeHidden, auths)
			if errors.Is(err, graph.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			for _, img := range outVertex.PropertiesNamed(ontology.EntityImageVertexID) {
				if !img.IsHidden(auths) {
					continue
				}
				if err := h.graph.MarkPropertyVisible(ctx, outVertex.Ref(), img, wsVis, auths); err != nil {
					return err
				}
				restored.property(outVertex.ID, img)
				h.push(ctx, h.elementImage(outVertex, img, workqueue.PriorityHigh))
			}
		}
	}

	if iris.artifactContainsImageOfEntity != "" {
		edges, err := h.graph.EdgesOf(ctx, vertex.ID, graph.DirectionIn, iris.artifactContainsImageOfEntity, graph.FetchIncludeHidden, auths)
		if err != nil {
			return err
		}
		rowKeys := vertex.PropertiesNamed(ontology.RowKey)
		for _, edge := range edges {
			if !edge.IsHidden(auths) {
				continue
			}
			if err := h.graph.MarkEdgeVisible(ctx, edge.ID, wsVis, auths); err != nil {
				return err
			}
			restored.edge(edge.ID)
			artifact, err := h.graph.GetVertex(ctx, edge.OutVertexID, graph.FetchIncludeHidden, auths)
			if errors.Is(err, graph.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			for _, rowKey := range rowKeys {
				for _, p := range artifact.PropertiesFor(fmt.Sprint(rowKey.Value), ontology.DetectedObject) {
					if !p.IsHidden(auths) {
						continue
					}
					if err := h.graph.MarkPropertyVisible(ctx, artifact.Ref(), p, wsVis, auths); err != nil {
						return err
					}
					restored.property(artifact.ID, p)
					msg := propertyMessage(workqueue.KindGraphProperty, artifact.Ref(), p.Key, p.Name)
					msg.WorkspaceID = workspaceID
					msg.Priority = workqueue.PriorityHigh
					h.push(ctx, msg)
				}
			}
		}
	}

	hidden, err := h.termMentions.FindHiddenResolvedTo(ctx, vertex.ID, auths)
	if err != nil {
		return err
	}
	for _, tm := range hidden {
		if err := h.termMentions.MarkVisible(ctx, tm, wsVis, auths); err != nil {
			return err
		}
		if tm.ResolvedEdgeID != "" {
			err := h.graph.MarkEdgeVisible(ctx, tm.ResolvedEdgeID, wsVis, auths)
			if err != nil && !errors.Is(err, graph.ErrNotFound) {
				return err
			}
			if err == nil {
				restored.edge(tm.ResolvedEdgeID)
			}
		}
		if tm.OutVertexID != "" {
			h.push(ctx, textUpdated(tm.OutVertexID))
		}
	}
	return nil
}

// removeEdgeReferences deletes the entity image, the detected objects and
// the term mentions resolved through edge, hidden ones included.
func (h *Helper) removeEdgeReferences(ctx context.Context, edge *graph.Edge, out *graph.Vertex, auths visibility.Authorizations) error {
	if iri := h.intents().entityHasImage; iri != "" && edge.Label == iri {
		if imgs := out.PropertiesNamed(ontology.EntityImageVertexID); len(imgs) > 0 {
			if err := h.graph.SoftDeleteProperties(ctx, out.Ref(), imgs[0].Key, imgs[0].Name, auths); err != nil {
				return err
			}
			h.push(ctx, h.elementImage(out, imgs[0], workqueue.PriorityHigh))
		}
	}
	for _, p := range out.PropertiesNamed(ontology.DetectedObject) {
		if detectedObjectEdgeID(p.Value) != edge.ID {
			continue
		}
		if err := h.graph.SoftDeleteProperties(ctx, out.Ref(), p.Key, p.Name, auths); err != nil {
			return err
		}
	}
	visible, err := h.termMentions.FindByEdgeID(ctx, out.ID, edge.ID, auths)
	if err != nil {
		return err
	}
	hidden, err := h.termMentions.FindHiddenByEdgeID(ctx, out.ID, edge.ID, auths)
	if err != nil {
		return err
	}
	for _, tm := range append(visible, hidden...) {
		if err := h.termMentions.Delete(ctx, tm, auths); err != nil {
			return err
		}
		h.push(ctx, textUpdated(out.ID))
	}
	return nil
}

// restoreEdgeReferences unhides the entity image, the detected objects and
// the term mentions a public DeleteEdge hid along with edge.
func (h *Helper) restoreEdgeReferences(ctx context.Context, edge *graph.Edge, out *graph.Vertex, workspaceID string, auths visibility.Authorizations, restored restoredSet) error {
	wsVis := visibility.Visibility(workspaceID)
	if iri := h.intents().entityHasImage; iri != "" && edge.Label == iri {
		for _, img := range out.PropertiesNamed(ontology.EntityImageVertexID) {
			if !img.IsHidden(auths) {
				continue
			}
			if err := h.graph.MarkPropertyVisible(ctx, out.Ref(), img, wsVis, auths); err != nil {
				return err
			}
			restored.property(out.ID, img)
			h.push(ctx, h.elementImage(out, img, workqueue.PriorityHigh))
		}
	}
	for _, p := range out.PropertiesNamed(ontology.DetectedObject) {
		if detectedObjectEdgeID(p.Value) != edge.ID || !p.IsHidden(auths) {
			continue
		}
		if err := h.graph.MarkPropertyVisible(ctx, out.Ref(), p, wsVis, auths); err != nil {
			return err
		}
		restored.property(out.ID, p)
	}
	mentions, err := h.termMentions.FindHiddenByEdgeID(ctx, out.ID, edge.ID, auths)
	if err != nil {
		return err
	}
	for _, tm := range mentions {
		if err := h.termMentions.MarkVisible(ctx, tm, wsVis, auths); err != nil {
			return err
		}
		h.push(ctx, textUpdated(out.ID))
	}
	return nil
}

// UnresolveTerm deletes a term mention and the edge its resolution created.
func (h *Helper) UnresolveTerm(ctx context.Context, tm *termmention.TermMention, auths visibility.Authorizations) error {
	outVertex, err := h.termMentions.FindOutVertex(ctx, tm.ID, auths)
	if errors.Is(err, graph.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if tm.ResolvedEdgeID != "" {
		edge, err := h.graph.GetEdge(ctx, tm.ResolvedEdgeID, graph.FetchIncludeHidden, auths)
		switch {
		case err == nil:
			before := h.beforeAction()
			if err := h.graph.SoftDeleteEdge(ctx, edge.ID, auths); err != nil {
				return err
			}
			if err := h.graph.Flush(ctx); err != nil {
				return err
			}
			h.push(ctx, edgeDeletion(edge.Ref(), before))
		case !errors.Is(err, graph.ErrNotFound):
			return err
		}
	}

	if err := h.termMentions.Delete(ctx, tm, auths); err != nil {
		return err
	}
	h.push(ctx, textUpdated(outVertex.ID))
	return h.graph.Flush(ctx)
}

func (h *Helper) unresolveTermMentionsForProperty(ctx context.Context, vertexID string, p *graph.Property, auths visibility.Authorizations) error {
	visible, err := h.termMentionsForProperty(ctx, vertexID, p, false, auths)
	if err != nil {
		return err
	}
	hidden, err := h.termMentionsForProperty(ctx, vertexID, p, true, auths)
	if err != nil {
		return err
	}
	for _, tm := range append(visible, hidden...) {
		if err := h.UnresolveTerm(ctx, tm, auths); err != nil {
			return err
		}
	}
	return nil
}

// hideTermMentionsForProperty hides the mentions resolved to the property
// copy p of vertexID from the workspace. With unhide set it reverses that.
func (h *Helper) hideTermMentionsForProperty(ctx context.Context, vertexID string, p *graph.Property, workspaceID string, unhide bool, auths visibility.Authorizations) error {
	mentions, err := h.termMentionsForProperty(ctx, vertexID, p, unhide, auths)
	if err != nil {
		return err
	}
	for _, tm := range mentions {
		if unhide {
			err = h.termMentions.MarkVisible(ctx, tm, visibility.Visibility(workspaceID), auths)
		} else {
			err = h.termMentions.MarkHidden(ctx, tm, visibility.Visibility(workspaceID), auths)
		}
		if err != nil {
			return err
		}
		if tm.OutVertexID != "" {
			h.push(ctx, textUpdated(tm.OutVertexID))
		}
	}
	return nil
}

// termMentionsForProperty returns the mentions resolved to the property
// copy p of vertexID, either the visible or the hidden ones.
func (h *Helper) termMentionsForProperty(ctx context.Context, vertexID string, p *graph.Property, hidden bool, auths visibility.Authorizations) ([]*termmention.TermMention, error) {
	find := h.termMentions.FindResolvedTo
	if hidden {
		find = h.termMentions.FindHiddenResolvedTo
	}
	mentions, err := find(ctx, vertexID, auths)
	if err != nil {
		return nil, err
	}
	var out []*termmention.TermMention
	for _, tm := range mentions {
		if tm.RefPropertyKey == p.Key && tm.RefPropertyName == p.Name && tm.RefPropertyVisibility == p.Visibility.String() {
			out = append(out, tm)
		}
	}
	return out, nil
}

// unresolveDetectedObjects removes the detected objects on out that were
// resolved through edge. With hide set they are only hidden for the
// workspace.
func (h *Helper) unresolveDetectedObjects(ctx context.Context, workspaceID string, edge *graph.Edge, out, in *graph.Vertex, hide bool, priority workqueue.Priority, auths visibility.Authorizations) error {
	done := make(map[string]bool)
	for _, p := range out.PropertiesNamed(ontology.DetectedObject) {
		if detectedObjectEdgeID(p.Value) != edge.ID || done[p.Key] {
			continue
		}
		done[p.Key] = true

		vj := ElementVisibilityJSON(&in.Element)
		if ElementSandboxStatus(&in.Element, workspaceID) == StatusPublic {
			vj = ElementVisibilityJSON(&edge.Element)
		}
		var source string
		if vj != nil {
			source = vj.RemoveWorkspace(workspaceID).Source
		}

		msg := propertyMessage(workqueue.KindGraphProperty, out.Ref(), p.Key, ontology.DetectedObject)
		if hide {
			for _, c := range out.PropertiesFor(p.Key, ontology.DetectedObject) {
				if err := h.graph.MarkPropertyHidden(ctx, out.Ref(), c, visibility.Visibility(workspaceID), auths); err != nil {
					return err
				}
			}
			msg.Status = workqueue.StatusHidden
		} else if err := h.graph.SoftDeleteProperties(ctx, out.Ref(), p.Key, ontology.DetectedObject, auths); err != nil {
			return err
		}
		msg.WorkspaceID = workspaceID
		msg.VisibilitySource = source
		msg.Priority = priority
		h.push(ctx, msg)
	}
	return nil
}

// detectedObjectEdgeID reads the resolving edge id from a detected object
// value, stored as a JSON object.
func detectedObjectEdgeID(value any) string {
	switch v := value.(type) {
	case map[string]any:
		id, _ := v["edgeId"].(string)
		return id
	case map[string]string:
		return v["edgeId"]
	}
	return ""
}

func (h *Helper) elementImage(v *graph.Vertex, p *graph.Property, priority workqueue.Priority) workqueue.Message {
	msg := propertyMessage(workqueue.KindElementImage, v.Ref(), p.Key, p.Name)
	msg.Priority = priority
	return msg
}

func textUpdated(vertexID string) workqueue.Message {
	return workqueue.Message{Kind: workqueue.KindTextUpdated, ElementType: string(graph.ElementTypeVertex), ElementID: vertexID}
}

func edgeDeletion(ref graph.ElementRef, before int64) workqueue.Message {
	msg := elementMessage(workqueue.KindEdgeDeletion, ref)
	msg.BeforeActionTimestamp = before
	msg.Priority = workqueue.PriorityHigh
	return msg
}
