package app

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"graphdesk/api/internal/auth"
	"graphdesk/api/internal/config"
	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/rbac"
	"graphdesk/api/internal/search"
	"graphdesk/api/internal/session"
	"graphdesk/api/internal/workspace"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	JTI       string
	ExpiresAt time.Time
	User      rbac.User
}

// Pinger is a dependency the readiness check covers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Service struct {
	cfg         config.Config
	workspaces  *workspace.Repository
	revocations session.Revocations
	checks      map[string]Pinger
	search      search.Index
	log         zerolog.Logger
}

func New(cfg config.Config, workspaces *workspace.Repository, revocations session.Revocations, log zerolog.Logger) *Service {
	if revocations == nil {
		revocations = session.NewMemoryStore()
	}
	return &Service{
		cfg:         cfg,
		workspaces:  workspaces,
		revocations: revocations,
		checks:      map[string]Pinger{},
		log:         log.With().Str("component", "app").Logger(),
	}
}

// AddCheck registers a dependency reported by the readiness check.
func (s *Service) AddCheck(name string, p Pinger) {
	s.checks[name] = p
}

// SetSearch enables /api/search.
func (s *Service) SetSearch(idx search.Index) {
	s.search = idx
}

// Ping runs every readiness check and returns the failures by name.
func (s *Service) Ping(ctx context.Context) (map[string]error, []string) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	failed := map[string]error{}
	for _, name := range names {
		if err := s.checks[name].Ping(ctx); err != nil {
			failed[name] = err
		}
	}
	return failed, names
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
		User:      claims.User(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" {
		return nil
	}
	return s.revocations.Revoke(ctx, session.JTI, session.ExpiresAt)
}

func (s *Service) CreateWorkspace(ctx context.Context, session Session, title string) (*workspace.Workspace, error) {
	if err := requirePrivilege(session, rbac.PrivilegeRead); err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		return nil, validationError("title is required")
	}
	return s.workspaces.Add(ctx, title, session.User)
}

func (s *Service) GetWorkspace(ctx context.Context, session Session, workspaceID string) (*workspace.Workspace, error) {
	if err := requirePrivilege(session, rbac.PrivilegeRead); err != nil {
		return nil, err
	}
	return s.workspaces.FindByID(ctx, workspaceID, session.User)
}

func (s *Service) DeleteWorkspace(ctx context.Context, session Session, workspaceID string) error {
	if err := requirePrivilege(session, rbac.PrivilegeEdit); err != nil {
		return err
	}
	return s.workspaces.Delete(ctx, workspaceID, session.User)
}

func (s *Service) UpdateWorkspaceUser(ctx context.Context, session Session, workspaceID, userID, access string) (*workspace.Workspace, error) {
	if err := requirePrivilege(session, rbac.PrivilegeEdit); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, validationError("userId is required")
	}
	if err := s.workspaces.UpdateUserOnWorkspace(ctx, workspaceID, userID, rbac.NormalizeAccess(access), session.User); err != nil {
		return nil, err
	}
	return s.workspaces.FindByID(ctx, workspaceID, session.User)
}

func (s *Service) Entities(ctx context.Context, session Session, workspaceID string) ([]workspace.Entity, error) {
	if err := s.requireWorkspace(ctx, session, workspaceID, rbac.PrivilegeRead, rbac.AccessRead); err != nil {
		return nil, err
	}
	return s.workspaces.FindEntities(ctx, workspaceID, session.User)
}

func (s *Service) UpdateEntities(ctx context.Context, session Session, workspaceID string, updates []workspace.EntityUpdate) ([]workspace.Entity, error) {
	if err := s.requireWorkspace(ctx, session, workspaceID, rbac.PrivilegeEdit, rbac.AccessWrite); err != nil {
		return nil, err
	}
	for _, u := range updates {
		if strings.TrimSpace(u.VertexID) == "" {
			return nil, validationError("vertexId is required")
		}
	}
	if err := s.workspaces.UpdateEntitiesOnWorkspace(ctx, workspaceID, updates, session.User); err != nil {
		return nil, err
	}
	return s.workspaces.FindEntities(ctx, workspaceID, session.User)
}

func (s *Service) Diff(ctx context.Context, session Session, workspaceID, locale, timeZone string) (*workspace.Diff, error) {
	if err := requirePrivilege(session, rbac.PrivilegeRead); err != nil {
		return nil, err
	}
	return s.workspaces.GetDiff(ctx, workspaceID, session.User, locale, timeZone)
}

func (s *Service) Publish(ctx context.Context, session Session, workspaceID string, items workspace.Items) (*workspace.PublishResponse, error) {
	if err := requirePrivilege(session, rbac.PrivilegePublish); err != nil {
		return nil, err
	}
	resp, err := s.workspaces.Publish(ctx, items, session.User, workspaceID)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("workspaceId", workspaceID).Str("user", session.UserID).
		Int("items", len(items)).Int("failures", len(resp.Failures)).Msg("publish")
	return resp, nil
}

func (s *Service) Undo(ctx context.Context, session Session, workspaceID string, items workspace.Items) (*workspace.UndoResponse, error) {
	if err := requirePrivilege(session, rbac.PrivilegeEdit); err != nil {
		return nil, err
	}
	resp, err := s.workspaces.Undo(ctx, items, session.User, workspaceID)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("workspaceId", workspaceID).Str("user", session.UserID).
		Int("items", len(items)).Int("failures", len(resp.Failures)).Msg("undo")
	return resp, nil
}

// Search queries the published-vertex index. Results are public state
// only, so no workspace is involved.
func (s *Service) Search(ctx context.Context, session Session, q search.Query) (*search.Response, error) {
	if err := requirePrivilege(session, rbac.PrivilegeRead); err != nil {
		return nil, err
	}
	if s.search == nil || !s.search.Healthy() {
		return nil, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not available", nil)
	}
	if q.Text == "" {
		return &search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	results, total, err := s.search.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	return &search.Response{Results: results, Total: total, Query: q.Text}, nil
}

type AddVertexInput struct {
	VertexID         string `json:"vertexId"`
	ConceptType      string `json:"conceptType"`
	VisibilitySource string `json:"visibilitySource"`
}

func (s *Service) AddVertex(ctx context.Context, session Session, workspaceID string, in AddVertexInput) (*graph.Vertex, error) {
	if err := requirePrivilege(session, rbac.PrivilegeEdit); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.ConceptType) == "" {
		return nil, validationError("conceptType is required")
	}
	return s.workspaces.AddVertex(ctx, workspaceID, in.VertexID, in.ConceptType, in.VisibilitySource, session.User)
}

type AddEdgeInput struct {
	EdgeID           string `json:"edgeId"`
	OutVertexID      string `json:"outVertexId"`
	InVertexID       string `json:"inVertexId"`
	Label            string `json:"label"`
	VisibilitySource string `json:"visibilitySource"`
}

func (s *Service) AddEdge(ctx context.Context, session Session, workspaceID string, in AddEdgeInput) (*graph.Edge, error) {
	if err := requirePrivilege(session, rbac.PrivilegeEdit); err != nil {
		return nil, err
	}
	switch {
	case in.OutVertexID == "":
		return nil, validationError("outVertexId is required")
	case in.InVertexID == "":
		return nil, validationError("inVertexId is required")
	case in.Label == "":
		return nil, validationError("label is required")
	}
	return s.workspaces.AddEdge(ctx, workspaceID, in.EdgeID, in.OutVertexID, in.InVertexID, in.Label, in.VisibilitySource, session.User)
}

func (s *Service) SetProperty(ctx context.Context, session Session, workspaceID string, ref graph.ElementRef, edit workspace.PropertyEdit) error {
	if err := requirePrivilege(session, rbac.PrivilegeEdit); err != nil {
		return err
	}
	if edit.Name == "" {
		return validationError("propertyName is required")
	}
	return s.workspaces.SetProperty(ctx, workspaceID, ref, edit, session.User)
}

func (s *Service) DeleteVertex(ctx context.Context, session Session, workspaceID, vertexID string) error {
	if err := requirePrivilege(session, rbac.PrivilegeEdit); err != nil {
		return err
	}
	return s.workspaces.DeleteVertex(ctx, workspaceID, vertexID, session.User)
}

func (s *Service) DeleteEdge(ctx context.Context, session Session, workspaceID, edgeID string) error {
	if err := requirePrivilege(session, rbac.PrivilegeEdit); err != nil {
		return err
	}
	return s.workspaces.DeleteEdge(ctx, workspaceID, edgeID, session.User)
}

func (s *Service) DeleteProperty(ctx context.Context, session Session, workspaceID string, ref graph.ElementRef, key, name string) error {
	if err := requirePrivilege(session, rbac.PrivilegeEdit); err != nil {
		return err
	}
	if name == "" {
		return validationError("name is required")
	}
	return s.workspaces.DeleteProperty(ctx, workspaceID, ref, key, name, session.User)
}

// requireWorkspace checks both the privilege and the access the user holds
// on the workspace, for repository calls that do not check access
// themselves.
func (s *Service) requireWorkspace(ctx context.Context, session Session, workspaceID string, p rbac.Privilege, required rbac.Access) error {
	if err := requirePrivilege(session, p); err != nil {
		return err
	}
	access, err := s.workspaces.Access(ctx, workspaceID, session.User)
	if err != nil {
		return err
	}
	if !rbac.Allows(access, required) {
		return workspace.ErrAccessDenied
	}
	return nil
}
