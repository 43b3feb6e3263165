package workspace

import (
	"context"
	"errors"
	"fmt"

	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/rbac"
	"graphdesk/api/internal/visibility"
	"graphdesk/api/internal/workqueue"
)

// Undo discards the workspace changes named by items: pending deletions
// are unhidden, edits are dropped and new private items are removed.
func (r *Repository) Undo(ctx context.Context, items []Item, user rbac.User, workspaceID string) (*UndoResponse, error) {
	var resp *UndoResponse
	err := r.withLock(ctx, workspaceID, func(ctx context.Context) error {
		if err := r.requireAccess(ctx, workspaceID, user, rbac.AccessWrite); err != nil {
			return err
		}
		for _, item := range items {
			if err := item.Validate(); err != nil {
				item.base().fail(err.Error())
			}
		}

		auths := Authorizations(user, workspaceID)
		r.log.Debug().Str("workspaceId", workspaceID).Int("items", len(items)).Msg("undo")
		restored := restoredSet{}
		if err := r.undoVertices(ctx, items, workspaceID, auths, user, restored); err != nil {
			return err
		}
		if err := r.undoEdges(ctx, restored.pending(items), workspaceID, auths, user, restored); err != nil {
			return err
		}
		if err := r.undoProperties(ctx, restored.pending(items), workspaceID, auths); err != nil {
			return err
		}

		resp = &UndoResponse{Failures: failures(items)}
		resp.Success = len(resp.Failures) == 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		r.metrics.UndoItem(itemKind(item), itemResult(item))
	}
	return resp, nil
}

// restoredSet records the edges and property copies unhidden as references
// of an undone element, so their own items are not undone twice.
type restoredSet map[string]bool

func (s restoredSet) edge(id string) {
	s["edge:"+id] = true
}

func (s restoredSet) property(elementID string, p *graph.Property) {
	s["property:"+elementID+"\x00"+p.Key+"\x00"+p.Name] = true
}

func (s restoredSet) pending(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case *RelationshipItem:
			if s["edge:"+it.EdgeID] {
				continue
			}
		case *PropertyItem:
			id := firstNonEmpty(it.EdgeID, it.VertexID, it.ElementID)
			if s["property:"+id+"\x00"+it.Key+"\x00"+it.Name] {
				continue
			}
		}
		out = append(out, item)
	}
	return out
}

func (r *Repository) undoVertices(ctx context.Context, items []Item, workspaceID string, auths visibility.Authorizations, user rbac.User, restored restoredSet) error {
	var deleted []string
	for _, item := range items {
		vi, ok := item.(*VertexItem)
		if !ok || ErrorMessage(vi) != "" {
			continue
		}
		removed, err := r.undoVertex(ctx, vi, workspaceID, auths, user, restored)
		if err != nil {
			r.log.Error().Err(err).Str("vertexId", vi.VertexID).Msg("undo vertex")
			vi.fail(err.Error())
			continue
		}
		if removed {
			deleted = append(deleted, vi.VertexID)
		}
	}
	if len(deleted) > 0 {
		r.helper.push(ctx, workqueue.Message{Kind: workqueue.KindVerticesDeletion, VertexIDs: deleted, Priority: workqueue.PriorityHigh})
	}
	return r.graph.Flush(ctx)
}

// undoVertex reports whether the vertex was removed.
func (r *Repository) undoVertex(ctx context.Context, vi *VertexItem, workspaceID string, auths visibility.Authorizations, user rbac.User, restored restoredSet) (bool, error) {
	v, err := r.graph.GetVertex(ctx, vi.VertexID, graph.FetchIncludeHidden, auths)
	if errors.Is(err, graph.ErrNotFound) {
		return false, fmt.Errorf("Unable to load vertex with id %s", vi.VertexID)
	}
	if err != nil {
		return false, err
	}

	switch {
	case v.IsHidden(auths):
		r.log.Debug().Str("vertexId", v.ID).Str("workspaceId", workspaceID).Msg("un-hiding vertex")
		if err := r.graph.MarkVertexVisible(ctx, v.ID, visibility.Visibility(workspaceID), auths); err != nil {
			return false, err
		}
		if msg, err := r.undoHiddenProperties(ctx, &v.Element, workspaceID, auths); err != nil {
			return false, err
		} else if msg != "" {
			vi.fail(msg)
		}
		if err := r.helper.restoreVertexReferences(ctx, v, workspaceID, auths, restored); err != nil {
			return false, err
		}
		if err := r.graph.Flush(ctx); err != nil {
			return false, err
		}
		msg := elementMessage(workqueue.KindVertexUnhidden, v.Ref())
		msg.Priority = workqueue.PriorityHigh
		r.helper.push(ctx, msg)
		r.helper.broadcast(ctx, elementMessage(workqueue.KindUndoVertexDelete, v.Ref()))
		return false, nil

	case ElementSandboxStatus(&v.Element, workspaceID) == StatusPublic:
		r.log.Warn().Str("vertexId", v.ID).Msg("Cannot undo a public vertex")
		vi.fail("Cannot undo a public vertex")
		return false, nil
	}

	if err := r.helper.DeleteVertex(ctx, v, workspaceID, false, workqueue.PriorityHigh, auths, user); err != nil {
		return false, err
	}
	if err := r.graph.Flush(ctx); err != nil {
		return false, err
	}
	r.helper.broadcast(ctx, elementMessage(workqueue.KindUndoVertex, v.Ref()))
	return true, nil
}

func (r *Repository) undoEdges(ctx context.Context, items []Item, workspaceID string, auths visibility.Authorizations, user rbac.User, restored restoredSet) error {
	for _, item := range items {
		ri, ok := item.(*RelationshipItem)
		if !ok || ErrorMessage(ri) != "" {
			continue
		}
		if err := r.undoEdge(ctx, ri, workspaceID, auths, user, restored); err != nil {
			r.log.Error().Err(err).Str("edgeId", ri.EdgeID).Msg("undo edge")
			ri.fail(err.Error())
		}
	}
	return r.graph.Flush(ctx)
}

// undoEdge skips edges, and edges with endpoints, that are gone.
func (r *Repository) undoEdge(ctx context.Context, ri *RelationshipItem, workspaceID string, auths visibility.Authorizations, user rbac.User, restored restoredSet) error {
	edge, err := r.graph.GetEdge(ctx, ri.EdgeID, graph.FetchIncludeHidden, auths)
	if errors.Is(err, graph.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	out, err := r.graph.GetVertex(ctx, edge.OutVertexID, graph.FetchIncludeHidden, auths)
	if errors.Is(err, graph.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	in, err := r.graph.GetVertex(ctx, edge.InVertexID, graph.FetchIncludeHidden, auths)
	if errors.Is(err, graph.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case edge.IsHidden(auths):
		r.log.Debug().Str("edgeId", edge.ID).Str("workspaceId", workspaceID).Msg("un-hiding edge")
		if err := r.graph.MarkEdgeVisible(ctx, edge.ID, visibility.Visibility(workspaceID), auths); err != nil {
			return err
		}
		if msg, err := r.undoHiddenProperties(ctx, &edge.Element, workspaceID, auths); err != nil {
			return err
		} else if msg != "" {
			ri.fail(msg)
		}
		if err := r.helper.restoreEdgeReferences(ctx, edge, out, workspaceID, auths, restored); err != nil {
			return err
		}
		if err := r.graph.Flush(ctx); err != nil {
			return err
		}
		msg := elementMessage(workqueue.KindEdgeUnhidden, edge.Ref())
		msg.Priority = workqueue.PriorityHigh
		r.helper.push(ctx, msg)
		r.helper.broadcast(ctx, elementMessage(workqueue.KindUndoEdgeDelete, edge.Ref()))
		return nil

	case ElementSandboxStatus(&edge.Element, workspaceID) == StatusPublic:
		r.log.Warn().Str("edgeId", edge.ID).Msg("Cannot undo a public edge")
		ri.fail("Cannot undo a public edge")
		return nil
	}

	if err := r.helper.DeleteEdge(ctx, workspaceID, edge, out, in, false, workqueue.PriorityHigh, auths, user); err != nil {
		return err
	}
	if err := r.graph.Flush(ctx); err != nil {
		return err
	}
	r.helper.broadcast(ctx, elementMessage(workqueue.KindUndoEdge, edge.Ref()))
	return nil
}

// undoHiddenProperties unhides the property copies a public delete of the
// element hid.
func (r *Repository) undoHiddenProperties(ctx context.Context, el *graph.Element, workspaceID string, auths visibility.Authorizations) (string, error) {
	var failure string
	for _, p := range el.Properties {
		if !p.IsHidden(auths) {
			continue
		}
		vis := p.Visibility.String()
		msg, err := r.undoPropertyCopies(ctx, el, p.Key, p.Name, &vis, workspaceID, auths)
		if err != nil {
			return "", err
		}
		if failure == "" {
			failure = msg
		}
	}
	return failure, nil
}

func (r *Repository) undoProperties(ctx context.Context, items []Item, workspaceID string, auths visibility.Authorizations) error {
	for _, item := range items {
		pi, ok := item.(*PropertyItem)
		if !ok || ErrorMessage(pi) != "" {
			continue
		}
		el, err := r.propertyElement(ctx, pi, auths)
		if err != nil {
			// already gone
			r.log.Debug().Err(err).Str("name", pi.Name).Str("key", pi.Key).Msg("undo property skipped")
			continue
		}
		msg, err := r.undoPropertyCopies(ctx, el, pi.Key, pi.Name, pi.VisibilityString, workspaceID, auths)
		if err != nil {
			r.log.Error().Err(err).Str("elementId", el.ID).Str("name", pi.Name).Msg("undo property")
			pi.fail(err.Error())
			continue
		}
		if msg != "" {
			pi.fail(msg)
		}
	}
	return r.graph.Flush(ctx)
}

// undoPropertyCopies undoes every copy of (key, name) on el, or only the
// copy at visibilityString when it is set. It returns the message of a
// copy that could not be undone.
func (r *Repository) undoPropertyCopies(ctx context.Context, el *graph.Element, key, name string, visibilityString *string, workspaceID string, auths visibility.Authorizations) (string, error) {
	ref := el.Ref()
	wsVis := visibility.Visibility(workspaceID)
	props := el.PropertiesFor(key, name)
	statuses := PropertySandboxStatuses(props, workspaceID)
	publicProperty := supersededDelete(props, statuses, auths)

	var failure string
	for i, p := range props {
		if visibilityString != nil && p.Visibility.String() != *visibilityString {
			continue
		}
		switch {
		case p.IsHidden(auths):
			if publicProperty != nil {
				continue
			}
			r.log.Debug().Str("elementId", el.ID).Str("name", name).Str("key", key).Msg("un-hiding property")
			if err := r.graph.MarkPropertyVisible(ctx, ref, p, wsVis, auths); err != nil {
				return "", err
			}
			if err := r.restorePropertyMentions(ctx, el, p, workspaceID, auths); err != nil {
				return "", err
			}
			if err := r.graph.Flush(ctx); err != nil {
				return "", err
			}
			r.helper.push(ctx, propertyUnhide(ref, key, name))
			r.helper.broadcast(ctx, propertyMessage(workqueue.KindUndoPropertyDelete, ref, key, name))

		case statuses[i] == StatusPublic:
			failure = "Cannot undo a public property"
			r.log.Warn().Str("elementId", el.ID).Str("name", name).Str("key", key).Msg(failure)

		case statuses[i] == StatusPublicChanged:
			before := r.helper.beforeAction()
			if err := r.graph.SoftDeleteProperty(ctx, ref, key, name, p.Visibility, auths); err != nil {
				return "", err
			}
			if publicProperty != nil {
				if err := r.graph.MarkPropertyVisible(ctx, ref, publicProperty, wsVis, auths); err != nil {
					return "", err
				}
				if err := r.restorePropertyMentions(ctx, el, publicProperty, workspaceID, auths); err != nil {
					return "", err
				}
				if err := r.graph.Flush(ctx); err != nil {
					return "", err
				}
				r.helper.push(ctx, propertyUnhide(ref, key, name))
			} else {
				if err := r.graph.Flush(ctx); err != nil {
					return "", err
				}
				msg := propertyMessage(workqueue.KindPropertyDeletion, ref, key, name)
				msg.BeforeActionTimestamp = before
				msg.Priority = workqueue.PriorityHigh
				r.helper.push(ctx, msg)
			}
			r.helper.broadcast(ctx, propertyMessage(workqueue.KindUndoSandboxProperty, ref, key, name))

		default:
			if err := r.helper.DeleteProperty(ctx, el, p, false, workspaceID, workqueue.PriorityHigh, auths); err != nil {
				return "", err
			}
			if err := r.graph.Flush(ctx); err != nil {
				return "", err
			}
			r.helper.broadcast(ctx, propertyMessage(workqueue.KindUndoProperty, ref, key, name))
		}
	}
	return failure, nil
}

func propertyUnhide(ref graph.ElementRef, key, name string) workqueue.Message {
	msg := propertyMessage(workqueue.KindPropertyUnhide, ref, key, name)
	msg.Priority = workqueue.PriorityHigh
	return msg
}

// restorePropertyMentions unhides the mentions a public delete of the
// vertex property p hid.
func (r *Repository) restorePropertyMentions(ctx context.Context, el *graph.Element, p *graph.Property, workspaceID string, auths visibility.Authorizations) error {
	if el.Type() != graph.ElementTypeVertex {
		return nil
	}
	return r.helper.hideTermMentionsForProperty(ctx, el.ID, p, workspaceID, true, auths)
}
