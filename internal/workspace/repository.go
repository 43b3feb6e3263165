// Package workspace implements per-user sandboxes layered over the shared
// graph: computing the diff between a workspace and public state, and
// publishing or undoing the workspace's changes.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"graphdesk/api/internal/formula"
	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/lock"
	"graphdesk/api/internal/ontology"
	"graphdesk/api/internal/rbac"
	"graphdesk/api/internal/termmention"
	"graphdesk/api/internal/util"
	"graphdesk/api/internal/visibility"
	"graphdesk/api/internal/workqueue"
)

// VisibilityString is required to read workspace vertices and their entity
// edges.
const VisibilityString = "workspace"

const (
	ConceptWorkspace       = "http://graphdesk.io/workspace#workspace"
	LabelWorkspaceToEntity = "http://graphdesk.io/workspace#toEntity"

	propWorkspaceTitle   = "http://graphdesk.io/workspace#workspace/title"
	propWorkspaceCreator = "http://graphdesk.io/workspace#workspace/creator"
	propWorkspaceAccess  = "http://graphdesk.io/workspace#workspace/access"

	propEntityVisible   = "http://graphdesk.io/workspace#toEntity/visible"
	propGraphPositionX  = "http://graphdesk.io/workspace#toEntity/graphPositionX"
	propGraphPositionY  = "http://graphdesk.io/workspace#toEntity/graphPositionY"
	propGraphLayoutJSON = "http://graphdesk.io/workspace#toEntity/graphLayoutJson"
)

var (
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrAccessDenied      = errors.New("workspace access denied")
)

type Workspace struct {
	ID            string       `json:"workspaceId"`
	Title         string       `json:"title"`
	CreatorUserID string       `json:"createdBy"`
	Users         []UserAccess `json:"users"`
}

type UserAccess struct {
	UserID string      `json:"userId"`
	Access rbac.Access `json:"access"`
}

// AccessFor returns NONE for users not on the workspace.
func (w *Workspace) AccessFor(userID string) rbac.Access {
	for _, u := range w.Users {
		if u.UserID == userID {
			return u.Access
		}
	}
	return rbac.AccessNone
}

// Entity binds a vertex to a workspace canvas.
type Entity struct {
	VertexID        string `json:"vertexId"`
	Visible         bool   `json:"visible"`
	GraphPositionX  *int   `json:"graphPositionX,omitempty"`
	GraphPositionY  *int   `json:"graphPositionY,omitempty"`
	GraphLayoutJSON string `json:"graphLayoutJson,omitempty"`
}

// EntityUpdate changes the fields that are set.
type EntityUpdate struct {
	VertexID        string  `json:"vertexId"`
	Visible         *bool   `json:"visible,omitempty"`
	GraphPositionX  *int    `json:"graphPositionX,omitempty"`
	GraphPositionY  *int    `json:"graphPositionY,omitempty"`
	GraphLayoutJSON *string `json:"graphLayoutJson,omitempty"`
}

// TitleFormula computes the display title of a vertex.
type TitleFormula interface {
	Title(v *graph.Vertex, locale, timeZone string) string
}

// Recorder receives per-item outcomes. metrics.Metrics implements it.
type Recorder interface {
	PublishItem(kind, result string)
	UndoItem(kind, result string)
	DiffItems(n int)
}

type nopRecorder struct{}

func (nopRecorder) PublishItem(string, string) {}
func (nopRecorder) UndoItem(string, string)    {}
func (nopRecorder) DiffItems(int)              {}

type Options struct {
	Graph        *graph.Graph
	Ontology     *ontology.Registry
	Translator   visibility.Translator
	TermMentions *termmention.Repository
	Queue        workqueue.Queue
	Locker       lock.Locker
	Titles       TitleFormula
	Metrics      Recorder
	Logger       zerolog.Logger
}

type Repository struct {
	graph        *graph.Graph
	ontology     *ontology.Registry
	translator   visibility.Translator
	termMentions *termmention.Repository
	queue        workqueue.Queue
	locker       lock.Locker
	titles       TitleFormula
	metrics      Recorder
	helper       *Helper
	log          zerolog.Logger
	now          func() time.Time
}

func NewRepository(opts Options) *Repository {
	r := &Repository{
		graph:        opts.Graph,
		ontology:     opts.Ontology,
		translator:   opts.Translator,
		termMentions: opts.TermMentions,
		queue:        opts.Queue,
		locker:       opts.Locker,
		titles:       opts.Titles,
		metrics:      opts.Metrics,
		log:          opts.Logger.With().Str("component", "workspace").Logger(),
		now:          time.Now,
	}
	if r.ontology == nil {
		r.ontology = ontology.NewDefaultRegistry()
	}
	if r.titles == nil {
		r.titles = formula.NewPropertyTitle(r.ontology)
	}
	if r.translator == nil {
		r.translator = visibility.DirectTranslator{}
	}
	if r.queue == nil {
		r.queue = workqueue.NewLogQueue(opts.Logger)
	}
	if r.locker == nil {
		r.locker = lock.NewLocalLocker()
	}
	if r.metrics == nil {
		r.metrics = nopRecorder{}
	}
	if r.termMentions == nil {
		r.termMentions = termmention.NewRepository(r.graph, opts.Logger)
	}
	r.helper = NewHelper(r.graph, r.ontology, r.termMentions, r.queue, r, opts.Logger)
	return r
}

// Helper exposes the deletion helper the repository drives.
func (r *Repository) Helper() *Helper {
	return r.helper
}

// setClock replaces the time source of the repository and its helper.
func (r *Repository) setClock(now func() time.Time) {
	r.now = now
	r.helper.now = now
}

// Authorizations are the graph authorizations user holds inside
// workspaceID.
func Authorizations(user rbac.User, workspaceID string) visibility.Authorizations {
	auths := visibility.NewAuthorizations(user.Authorizations...).With(VisibilityString)
	if workspaceID != "" {
		auths = auths.With(workspaceID)
	}
	return auths
}

// withLock runs fn holding the workspace lock, with graph writes staged in
// a session of their own. Whatever fn leaves staged is committed when it
// succeeds and dropped when it fails.
func (r *Repository) withLock(ctx context.Context, workspaceID string, fn func(ctx context.Context) error) error {
	unlock, err := r.locker.Lock(ctx, "workspace:"+workspaceID)
	if err != nil {
		return fmt.Errorf("lock workspace %s: %w", workspaceID, err)
	}
	defer unlock()

	ctx = graph.WithSession(ctx)
	defer r.graph.Discard(ctx)
	if err := fn(ctx); err != nil {
		return err
	}
	return r.graph.Flush(ctx)
}

func (r *Repository) Add(ctx context.Context, title string, user rbac.User) (*Workspace, error) {
	id := util.NewID("WORKSPACE")
	auths := Authorizations(user, id)
	_, err := r.graph.PrepareVertex(id, VisibilityString).
		AddPropertyValue("", ontology.ConceptType, ConceptWorkspace, nil, "").
		AddPropertyValue("", propWorkspaceTitle, strings.TrimSpace(title), nil, "").
		AddPropertyValue("", propWorkspaceCreator, user.ID, nil, "").
		AddPropertyValue(user.ID, propWorkspaceAccess, string(rbac.AccessWrite), nil, "").
		Save(ctx, auths)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	if err := r.graph.Flush(ctx); err != nil {
		return nil, err
	}
	r.log.Info().Str("workspaceId", id).Str("user", user.ID).Msg("workspace created")
	return r.FindByID(ctx, id, user)
}

// FindByID returns ErrWorkspaceNotFound when the workspace does not exist
// or user has no access to it.
func (r *Repository) FindByID(ctx context.Context, id string, user rbac.User) (*Workspace, error) {
	v, err := r.graph.GetVertex(ctx, id, graph.FetchDefault, Authorizations(user, id))
	if errors.Is(err, graph.ErrNotFound) {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, err
	}
	if concept, _ := v.PropertyValue(ontology.ConceptType).(string); concept != ConceptWorkspace {
		return nil, ErrWorkspaceNotFound
	}
	ws := &Workspace{
		ID:            v.ID,
		Title:         stringProperty(&v.Element, propWorkspaceTitle),
		CreatorUserID: stringProperty(&v.Element, propWorkspaceCreator),
	}
	for _, p := range v.PropertiesNamed(propWorkspaceAccess) {
		access := rbac.NormalizeAccess(fmt.Sprint(p.Value))
		if access == rbac.AccessNone {
			continue
		}
		ws.Users = append(ws.Users, UserAccess{UserID: p.Key, Access: access})
	}
	sort.Slice(ws.Users, func(i, j int) bool { return ws.Users[i].UserID < ws.Users[j].UserID })
	if ws.AccessFor(user.ID) == rbac.AccessNone && !user.HasPrivilege(rbac.PrivilegeAdmin) {
		return nil, ErrWorkspaceNotFound
	}
	return ws, nil
}

// Access is the access user holds on the workspace. Admins hold WRITE.
func (r *Repository) Access(ctx context.Context, id string, user rbac.User) (rbac.Access, error) {
	ws, err := r.FindByID(ctx, id, user)
	if err != nil {
		return rbac.AccessNone, err
	}
	if user.HasPrivilege(rbac.PrivilegeAdmin) {
		return rbac.AccessWrite, nil
	}
	return ws.AccessFor(user.ID), nil
}

func (r *Repository) requireAccess(ctx context.Context, id string, user rbac.User, required rbac.Access) error {
	access, err := r.Access(ctx, id, user)
	if err != nil {
		return err
	}
	if !rbac.Allows(access, required) {
		return fmt.Errorf("%w: %s requires %s", ErrAccessDenied, id, required)
	}
	return nil
}

// UpdateUserOnWorkspace grants userID access. NONE removes the user.
func (r *Repository) UpdateUserOnWorkspace(ctx context.Context, id, userID string, access rbac.Access, user rbac.User) error {
	if err := r.requireAccess(ctx, id, user, rbac.AccessWrite); err != nil {
		return err
	}
	ref := graph.ElementRef{Type: graph.ElementTypeVertex, ID: id}
	m := r.graph.Mutate(ref)
	if access == rbac.AccessNone {
		m.SoftDeleteProperty(userID, propWorkspaceAccess, "")
	} else {
		m.AddPropertyValue(userID, propWorkspaceAccess, string(access), nil, "")
	}
	if err := m.Save(ctx, Authorizations(user, id)); err != nil {
		return err
	}
	return r.graph.Flush(ctx)
}

// Delete removes the workspace vertex and its entity edges. The entities
// themselves are untouched.
func (r *Repository) Delete(ctx context.Context, id string, user rbac.User) error {
	return r.withLock(ctx, id, func(ctx context.Context) error {
		if err := r.requireAccess(ctx, id, user, rbac.AccessWrite); err != nil {
			return err
		}
		if err := r.graph.SoftDeleteVertex(ctx, id, Authorizations(user, id)); err != nil {
			return err
		}
		if err := r.graph.Flush(ctx); err != nil {
			return err
		}
		r.log.Info().Str("workspaceId", id).Str("user", user.ID).Msg("workspace deleted")
		return nil
	})
}

func entityEdgeID(workspaceID, vertexID string) string {
	return workspaceID + "_TO_ENTITY_" + vertexID
}

// FindEntities returns the workspace's entities sorted by vertex id.
func (r *Repository) FindEntities(ctx context.Context, workspaceID string, user rbac.User) ([]Entity, error) {
	edges, err := r.graph.EdgesOf(ctx, workspaceID, graph.DirectionOut, LabelWorkspaceToEntity, graph.FetchDefault, Authorizations(user, workspaceID))
	if err != nil {
		return nil, err
	}
	entities := make([]Entity, 0, len(edges))
	for _, e := range edges {
		ent := Entity{
			VertexID:        e.InVertexID,
			GraphLayoutJSON: stringProperty(&e.Element, propGraphLayoutJSON),
			GraphPositionX:  intProperty(&e.Element, propGraphPositionX),
			GraphPositionY:  intProperty(&e.Element, propGraphPositionY),
		}
		ent.Visible, _ = e.PropertyValue(propEntityVisible).(bool)
		entities = append(entities, ent)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].VertexID < entities[j].VertexID })
	return entities, nil
}

// UpdateEntitiesOnWorkspace upserts entity edges. Updates naming vertices
// user cannot load are skipped.
func (r *Repository) UpdateEntitiesOnWorkspace(ctx context.Context, workspaceID string, updates []EntityUpdate, user rbac.User) error {
	auths := Authorizations(user, workspaceID)
	for _, u := range updates {
		if _, err := r.graph.GetVertex(ctx, u.VertexID, graph.FetchIncludeHidden, auths); err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				r.log.Warn().Str("workspaceId", workspaceID).Str("vertexId", u.VertexID).Msg("could not load entity vertex")
				continue
			}
			return err
		}
		b := r.graph.PrepareEdge(entityEdgeID(workspaceID, u.VertexID), workspaceID, u.VertexID, LabelWorkspaceToEntity, VisibilityString)
		if u.Visible != nil {
			b.AddPropertyValue("", propEntityVisible, *u.Visible, nil, "")
		}
		if u.GraphPositionX != nil {
			b.AddPropertyValue("", propGraphPositionX, *u.GraphPositionX, nil, "")
		}
		if u.GraphPositionY != nil {
			b.AddPropertyValue("", propGraphPositionY, *u.GraphPositionY, nil, "")
		}
		if u.GraphLayoutJSON != nil {
			b.AddPropertyValue("", propGraphLayoutJSON, *u.GraphLayoutJSON, nil, "")
		}
		if _, err := b.Save(ctx, auths); err != nil {
			return fmt.Errorf("update entity %s on %s: %w", u.VertexID, workspaceID, err)
		}
	}
	return r.graph.Flush(ctx)
}

// UpdateEntityOnWorkspace makes sure vertexID is on the workspace without
// changing its canvas state.
func (r *Repository) UpdateEntityOnWorkspace(ctx context.Context, workspaceID, vertexID string, user rbac.User) error {
	if workspaceID == "" {
		return nil
	}
	return r.UpdateEntitiesOnWorkspace(ctx, workspaceID, []EntityUpdate{{VertexID: vertexID}}, user)
}

// FindModifiedEdges returns the edges, hidden ones included, joining two
// entities of the workspace. They are sorted by id.
func (r *Repository) FindModifiedEdges(ctx context.Context, workspaceID string, entities []Entity, user rbac.User) ([]*graph.Edge, error) {
	auths := Authorizations(user, workspaceID)
	onWorkspace := make(map[string]bool, len(entities))
	for _, e := range entities {
		onWorkspace[e.VertexID] = true
	}
	seen := make(map[string]bool)
	var out []*graph.Edge
	for _, ent := range entities {
		edges, err := r.graph.EdgesOf(ctx, ent.VertexID, graph.DirectionBoth, "", graph.FetchIncludeHidden, auths)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if seen[e.ID] || !onWorkspace[e.OutVertexID] || !onWorkspace[e.InVertexID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteVertex deletes a vertex in the workspace. A public vertex is hidden
// for the workspace until the deletion is published.
func (r *Repository) DeleteVertex(ctx context.Context, workspaceID, vertexID string, user rbac.User) error {
	return r.withLock(ctx, workspaceID, func(ctx context.Context) error {
		if err := r.requireAccess(ctx, workspaceID, user, rbac.AccessWrite); err != nil {
			return err
		}
		auths := Authorizations(user, workspaceID)
		v, err := r.graph.GetVertex(ctx, vertexID, graph.FetchIncludeHidden, auths)
		if err != nil {
			return fmt.Errorf("vertex %s: %w", vertexID, err)
		}
		isPublic := ElementSandboxStatus(&v.Element, workspaceID) == StatusPublic
		return r.helper.DeleteVertex(ctx, v, workspaceID, isPublic, workqueue.PriorityHigh, auths, user)
	})
}

// DeleteEdge deletes an edge in the workspace. A public edge is hidden for
// the workspace until the deletion is published.
func (r *Repository) DeleteEdge(ctx context.Context, workspaceID, edgeID string, user rbac.User) error {
	return r.withLock(ctx, workspaceID, func(ctx context.Context) error {
		if err := r.requireAccess(ctx, workspaceID, user, rbac.AccessWrite); err != nil {
			return err
		}
		auths := Authorizations(user, workspaceID)
		edge, err := r.graph.GetEdge(ctx, edgeID, graph.FetchIncludeHidden, auths)
		if err != nil {
			return fmt.Errorf("edge %s: %w", edgeID, err)
		}
		out, err := r.graph.GetVertex(ctx, edge.OutVertexID, graph.FetchIncludeHidden, auths)
		if err != nil {
			return fmt.Errorf("edge %s source: %w", edgeID, err)
		}
		in, err := r.graph.GetVertex(ctx, edge.InVertexID, graph.FetchIncludeHidden, auths)
		if err != nil {
			return fmt.Errorf("edge %s destination: %w", edgeID, err)
		}
		isPublic := ElementSandboxStatus(&edge.Element, workspaceID) == StatusPublic
		return r.helper.DeleteEdge(ctx, workspaceID, edge, out, in, isPublic, workqueue.PriorityHigh, auths, user)
	})
}

// DeleteProperty deletes every copy of (key, name) on the element as seen
// from the workspace.
func (r *Repository) DeleteProperty(ctx context.Context, workspaceID string, ref graph.ElementRef, key, name string, user rbac.User) error {
	return r.withLock(ctx, workspaceID, func(ctx context.Context) error {
		if err := r.requireAccess(ctx, workspaceID, user, rbac.AccessWrite); err != nil {
			return err
		}
		return r.helper.DeleteProperties(ctx, ref, key, name, workspaceID, Authorizations(user, workspaceID), user)
	})
}

func stringProperty(el *graph.Element, name string) string {
	s, _ := el.PropertyValue(name).(string)
	return s
}

// intProperty accepts the numeric forms a value takes after a JSON round
// trip through a storage backend.
func intProperty(el *graph.Element, name string) *int {
	var n int
	switch v := el.PropertyValue(name).(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		n = int(v)
	default:
		return nil
	}
	return &n
}
