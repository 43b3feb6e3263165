package workspace

import (
	"context"
	"fmt"
	"time"

	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/ontology"
	"graphdesk/api/internal/rbac"
	"graphdesk/api/internal/util"
	"graphdesk/api/internal/visibility"
	"graphdesk/api/internal/workqueue"
)

// ConceptRelationship is the concept type recorded on edges.
const ConceptRelationship = "relationship"

// PropertyEdit sets one property value inside a workspace.
type PropertyEdit struct {
	Key   string `json:"propertyKey"`
	Name  string `json:"propertyName"`
	Value any    `json:"value"`
	// OldVisibilitySource, when set, names the source of the workspace copy
	// being edited.
	OldVisibilitySource *string        `json:"oldVisibilitySource,omitempty"`
	VisibilitySource    string         `json:"visibilitySource"`
	Metadata            graph.Metadata `json:"metadata,omitempty"`
}

func (r *Repository) elementBookkeeping(vj visibility.VisibilityJSON, conceptType string, user rbac.User) []*graph.Property {
	def := r.translator.DefaultVisibility()
	return []*graph.Property{
		{Name: ontology.ConceptType, Value: conceptType, Visibility: def},
		{Name: ontology.VisibilityJSON, Value: vj.String(), Visibility: def},
		{Name: ontology.ModifiedDate, Value: r.now().UTC().Format(time.RFC3339Nano), Visibility: def},
		{Name: ontology.ModifiedBy, Value: user.ID, Visibility: def},
	}
}

// AddVertex creates a vertex private to the workspace and puts it on the
// workspace. An empty vertexID gets a generated one.
func (r *Repository) AddVertex(ctx context.Context, workspaceID, vertexID, conceptType, visibilitySource string, user rbac.User) (*graph.Vertex, error) {
	var v *graph.Vertex
	err := r.withLock(ctx, workspaceID, func(ctx context.Context) error {
		if err := r.requireAccess(ctx, workspaceID, user, rbac.AccessWrite); err != nil {
			return err
		}
		if vertexID == "" {
			vertexID = util.NewID("")
		}
		auths := Authorizations(user, workspaceID)
		vj := visibility.NewVisibilityJSON(visibilitySource, workspaceID)
		b := r.graph.PrepareVertex(vertexID, r.translator.ToVisibility(vj))
		for _, p := range r.elementBookkeeping(vj, conceptType, user) {
			b.AddPropertyValue(p.Key, p.Name, p.Value, nil, p.Visibility)
		}
		var err error
		if v, err = b.Save(ctx, auths); err != nil {
			return fmt.Errorf("add vertex %s: %w", vertexID, err)
		}
		if err := r.graph.Flush(ctx); err != nil {
			return err
		}
		return r.UpdateEntitiesOnWorkspace(ctx, workspaceID, []EntityUpdate{{VertexID: vertexID, Visible: boolPtr(true)}}, user)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// AddEdge creates an edge private to the workspace between two vertices
// the user can read.
func (r *Repository) AddEdge(ctx context.Context, workspaceID, edgeID, outVertexID, inVertexID, label, visibilitySource string, user rbac.User) (*graph.Edge, error) {
	var e *graph.Edge
	err := r.withLock(ctx, workspaceID, func(ctx context.Context) error {
		if err := r.requireAccess(ctx, workspaceID, user, rbac.AccessWrite); err != nil {
			return err
		}
		auths := Authorizations(user, workspaceID)
		for _, id := range []string{outVertexID, inVertexID} {
			if _, err := r.graph.GetVertex(ctx, id, graph.FetchDefault, auths); err != nil {
				return fmt.Errorf("edge endpoint %s: %w", id, err)
			}
		}
		if edgeID == "" {
			edgeID = util.NewID("")
		}
		vj := visibility.NewVisibilityJSON(visibilitySource, workspaceID)
		b := r.graph.PrepareEdge(edgeID, outVertexID, inVertexID, label, r.translator.ToVisibility(vj))
		for _, p := range r.elementBookkeeping(vj, ConceptRelationship, user) {
			b.AddPropertyValue(p.Key, p.Name, p.Value, nil, p.Visibility)
		}
		var err error
		if e, err = b.Save(ctx, auths); err != nil {
			return fmt.Errorf("add edge %s: %w", edgeID, err)
		}
		if err := r.graph.Flush(ctx); err != nil {
			return err
		}
		return r.UpdateEntitiesOnWorkspace(ctx, workspaceID, []EntityUpdate{{VertexID: outVertexID}, {VertexID: inVertexID}}, user)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// SetProperty writes a workspace copy of the property. Editing a public
// value hides it from the workspace so the edit overlays it until publish
// or undo.
func (r *Repository) SetProperty(ctx context.Context, workspaceID string, ref graph.ElementRef, edit PropertyEdit, user rbac.User) error {
	return r.withLock(ctx, workspaceID, func(ctx context.Context) error {
		if err := r.requireAccess(ctx, workspaceID, user, rbac.AccessWrite); err != nil {
			return err
		}
		auths := Authorizations(user, workspaceID)
		el, endpoints, err := r.helper.loadElement(ctx, ref, auths)
		if err != nil {
			return err
		}
		before := r.helper.beforeAction()

		var oldProperty *graph.Property
		if edit.OldVisibilitySource != nil {
			oldVis := r.translator.ToVisibility(visibility.NewVisibilityJSON(*edit.OldVisibilitySource, workspaceID))
			for _, p := range el.PropertiesFor(edit.Key, edit.Name) {
				if p.Visibility == oldVis {
					oldProperty = p
				}
			}
		}

		md := graph.Metadata{}
		if oldProperty != nil {
			md = oldProperty.Metadata.Clone()
			if md == nil {
				md = graph.Metadata{}
			}
		}
		for k, v := range edit.Metadata {
			md[k] = v
		}
		vj := visibility.NewVisibilityJSON(edit.VisibilitySource, workspaceID)
		md[ontology.MetadataVisibilityJSON] = vj.String()
		md[ontology.ModifiedDate] = r.now().UTC().Format(time.RFC3339Nano)
		md[ontology.ModifiedBy] = user.ID
		vis := r.translator.ToVisibility(vj)

		m := r.graph.Mutate(ref)
		if workspaceID != "" {
			for _, public := range el.PropertiesFor(edit.Key, edit.Name) {
				if !mentionsWorkspace(public.Visibility, workspaceID) {
					m.MarkPropertyHidden(public.Key, public.Name, public.Visibility, visibility.Visibility(workspaceID))
					break
				}
			}
		}
		// One workspace copy per key and name: a changed source moves it.
		if oldProperty != nil && oldProperty.Visibility != vis {
			m.AlterPropertyVisibility(oldProperty.Key, oldProperty.Name, oldProperty.Visibility, vis)
		}
		m.AddPropertyValue(edit.Key, edit.Name, edit.Value, md, vis)
		if err := m.Save(ctx, auths); err != nil {
			return fmt.Errorf("set property %s:%s on %s: %w", edit.Name, edit.Key, ref.ID, err)
		}
		if err := r.graph.Flush(ctx); err != nil {
			return err
		}

		for _, vertexID := range endpoints {
			if err := r.UpdateEntityOnWorkspace(ctx, workspaceID, vertexID, user); err != nil {
				return err
			}
		}
		msg := propertyMessage(workqueue.KindGraphProperty, ref, edit.Key, edit.Name)
		msg.Status = workqueue.StatusUpdate
		msg.WorkspaceID = workspaceID
		msg.VisibilitySource = edit.VisibilitySource
		msg.BeforeActionTimestamp = before
		msg.Priority = workqueue.PriorityNormal
		r.helper.push(ctx, msg)
		return nil
	})
}

// mentionsWorkspace reports whether vis names workspaceID as a term.
func mentionsWorkspace(vis visibility.Visibility, workspaceID string) bool {
	return vis.HasTerm(workspaceID)
}

func boolPtr(b bool) *bool {
	return &b
}
