package workspace

import (
	"context"
	"errors"
	"strings"

	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/ontology"
	"graphdesk/api/internal/rbac"
	"graphdesk/api/internal/visibility"
)

// GetDiff lists what the workspace changes relative to public state: its
// private vertices, edges and properties, and its pending deletions of
// public ones.
func (r *Repository) GetDiff(ctx context.Context, workspaceID string, user rbac.User, locale, timeZone string) (*Diff, error) {
	var diff *Diff
	err := r.withLock(ctx, workspaceID, func(ctx context.Context) error {
		if err := r.requireAccess(ctx, workspaceID, user, rbac.AccessRead); err != nil {
			return err
		}
		entities, err := r.FindEntities(ctx, workspaceID, user)
		if err != nil {
			return err
		}
		edges, err := r.FindModifiedEdges(ctx, workspaceID, entities, user)
		if err != nil {
			return err
		}
		diff, err = r.diff(ctx, workspaceID, entities, edges, Authorizations(user, workspaceID), locale, timeZone)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.metrics.DiffItems(len(diff.Diffs))
	return diff, nil
}

func (r *Repository) diff(ctx context.Context, workspaceID string, entities []Entity, edges []*graph.Edge, auths visibility.Authorizations, locale, timeZone string) (*Diff, error) {
	out := &Diff{Diffs: []DiffItem{}}
	for _, ent := range entities {
		items, err := r.diffEntity(ctx, workspaceID, ent, auths, locale, timeZone)
		if err != nil {
			return nil, err
		}
		out.Diffs = append(out.Diffs, items...)
	}
	for _, e := range edges {
		out.Diffs = append(out.Diffs, r.diffEdge(workspaceID, e, auths)...)
	}
	return out, nil
}

func (r *Repository) diffEntity(ctx context.Context, workspaceID string, ent Entity, auths visibility.Authorizations, locale, timeZone string) ([]DiffItem, error) {
	v, err := r.graph.GetVertex(ctx, ent.VertexID, graph.FetchIncludeHidden, auths)
	if errors.Is(err, graph.ErrNotFound) {
		// not visible to this user
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var items []DiffItem
	status := ElementSandboxStatus(&v.Element, workspaceID)
	publicDelete := v.IsHidden(auths)
	if status != StatusPublic || publicDelete {
		concept, _ := v.PropertyValue(ontology.ConceptType).(string)
		items = append(items, &VertexDiffItem{
			VertexID:       v.ID,
			Title:          r.titles.Title(v, locale, timeZone),
			ConceptType:    concept,
			VisibilityJSON: ElementVisibilityJSON(&v.Element),
			SandboxStatus:  status,
			Deleted:        publicDelete,
			Visible:        ent.Visible,
		})
	}
	if !publicDelete {
		items = append(items, diffProperties(workspaceID, &v.Element, auths)...)
	}
	return items, nil
}

func (r *Repository) diffEdge(workspaceID string, e *graph.Edge, auths visibility.Authorizations) []DiffItem {
	var items []DiffItem
	status := ElementSandboxStatus(&e.Element, workspaceID)
	publicDelete := e.IsHidden(auths)
	if status != StatusPublic || publicDelete {
		items = append(items, &EdgeDiffItem{
			EdgeID:         e.ID,
			Label:          e.Label,
			OutVertexID:    e.OutVertexID,
			InVertexID:     e.InVertexID,
			VisibilityJSON: ElementVisibilityJSON(&e.Element),
			SandboxStatus:  status,
			Deleted:        publicDelete,
		})
	}
	if !publicDelete {
		items = append(items, diffProperties(workspaceID, &e.Element, auths)...)
	}
	return items
}

// diffProperties reports private copies and pending deletions. A pending
// deletion that has since been edited is reported once, through the edit.
func diffProperties(workspaceID string, el *graph.Element, auths visibility.Authorizations) []DiffItem {
	props := el.Properties
	statuses := PropertySandboxStatuses(props, workspaceID)
	concept, _ := el.PropertyValue(ontology.ConceptType).(string)

	var items []DiffItem
	for i, p := range props {
		private := statuses[i] != StatusPublic
		publicDelete := p.IsHidden(auths)
		if !private && !publicDelete {
			continue
		}
		var existing *graph.Property
		if publicDelete && publicPropertyEdited(props, statuses, p) {
			continue
		} else if private {
			existing = existingProperty(props, statuses, p)
		}
		items = append(items, &PropertyDiffItem{
			ElementType:      strings.ToLower(string(el.Type())),
			ElementID:        el.ID,
			ElementConcept:   concept,
			Name:             p.Name,
			Key:              p.Key,
			OldData:          propertyData(existing),
			NewData:          propertyData(p),
			SandboxStatus:    statuses[i],
			Deleted:          publicDelete,
			VisibilityString: p.Visibility.String(),
		})
	}
	return items
}
