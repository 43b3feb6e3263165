package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"graphdesk/api/internal/auth"
	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/metrics"
	"graphdesk/api/internal/search"
	"graphdesk/api/internal/util"
	"graphdesk/api/internal/workspace"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewHTTPServer builds the transport. A nil m disables /metrics and
// request timing.
func NewHTTPServer(service *Service, corsOrigin string, m *metrics.Metrics, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		metrics:    m,
		log:        log.With().Str("component", "http").Logger(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.metrics != nil {
		s.metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"privileges":    session.User.Privileges,
			"expiresAt":     session.ExpiresAt.Unix(),
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		if err := s.service.Logout(r.Context(), session); err != nil {
			s.log.Error().Err(err).Str("user", session.UserID).Msg("logout failed")
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Logout failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/workspaces" {
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ws, err := s.service.CreateWorkspace(r.Context(), session, body.Title)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, ws)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r, session)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "workspaces" {
		s.handleWorkspace(w, r, session, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	q := search.Query{
		Text:        strings.TrimSpace(query.Get("q")),
		ConceptType: strings.TrimSpace(query.Get("conceptType")),
		Limit:       20,
	}
	for _, param := range []struct {
		name string
		dst  *int
	}{{"limit", &q.Limit}, {"offset", &q.Offset}} {
		raw := strings.TrimSpace(query.Get(param.name))
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", param.name+" must be a non-negative integer", nil)
			return
		}
		*param.dst = parsed
	}

	resp, err := s.service.Search(r.Context(), session, q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	failed, names := s.service.Ping(ctx)
	checks := make(map[string]any, len(names))
	for _, name := range names {
		if err, bad := failed[name]; bad {
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	status, statusCode := "ready", http.StatusOK
	if len(failed) > 0 {
		status, statusCode = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleWorkspace serves /api/workspaces/{id}/...; rest is the path after
// the workspace id.
func (s *HTTPServer) handleWorkspace(w http.ResponseWriter, r *http.Request, session Session, workspaceID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			ws, err := s.service.GetWorkspace(ctx, session, workspaceID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, ws)
		case http.MethodDelete:
			if err := s.service.DeleteWorkspace(ctx, session, workspaceID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch {
	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "users":
		var body struct {
			UserID string `json:"userId"`
			Access string `json:"access"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ws, err := s.service.UpdateWorkspaceUser(ctx, session, workspaceID, body.UserID, body.Access)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ws)

	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "entities":
		entities, err := s.service.Entities(ctx, session, workspaceID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entities": entities})

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "entities":
		var body struct {
			EntityUpdates []workspace.EntityUpdate `json:"entityUpdates"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		entities, err := s.service.UpdateEntities(ctx, session, workspaceID, body.EntityUpdates)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entities": entities})

	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "diff":
		q := r.URL.Query()
		diff, err := s.service.Diff(ctx, session, workspaceID, q.Get("locale"), q.Get("timeZone"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, diff)

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "publish":
		var body struct {
			PublishData workspace.Items `json:"publishData"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		resp, err := s.service.Publish(ctx, session, workspaceID, body.PublishData)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "undo":
		var body struct {
			UndoData workspace.Items `json:"undoData"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		resp, err := s.service.Undo(ctx, session, workspaceID, body.UndoData)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)

	case rest[0] == "vertices" || rest[0] == "edges":
		s.handleElements(w, r, session, workspaceID, rest)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleElements serves vertices and edges:
//
//	POST   .../vertices | .../edges
//	DELETE .../vertices/{id} | .../edges/{id}
//	POST   .../{vertices|edges}/{id}/properties
//	DELETE .../{vertices|edges}/{id}/properties?key=&name=
func (s *HTTPServer) handleElements(w http.ResponseWriter, r *http.Request, session Session, workspaceID string, rest []string) {
	ctx := r.Context()
	isVertex := rest[0] == "vertices"

	switch {
	case r.Method == http.MethodPost && len(rest) == 1 && isVertex:
		var body AddVertexInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		v, err := s.service.AddVertex(ctx, session, workspaceID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)

	case r.Method == http.MethodPost && len(rest) == 1:
		var body AddEdgeInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		e, err := s.service.AddEdge(ctx, session, workspaceID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)

	case r.Method == http.MethodDelete && len(rest) == 2:
		var err error
		if isVertex {
			err = s.service.DeleteVertex(ctx, session, workspaceID, rest[1])
		} else {
			err = s.service.DeleteEdge(ctx, session, workspaceID, rest[1])
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 3 && rest[2] == "properties":
		ref := graph.ElementRef{Type: graph.ElementTypeEdge, ID: rest[1]}
		if isVertex {
			ref.Type = graph.ElementTypeVertex
		}
		switch r.Method {
		case http.MethodPost:
			var edit workspace.PropertyEdit
			if err := decodeBody(r, &edit); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.SetProperty(ctx, session, workspaceID, ref, edit); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		case http.MethodDelete:
			q := r.URL.Query()
			if err := s.service.DeleteProperty(ctx, session, workspaceID, ref, q.Get("key"), q.Get("name")); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.log.Error().Err(err).Msg("session lookup failed")
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		route := routeLabel(r.URL.Path)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, writer.status, elapsed)
		}
		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", writer.status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

// RequestID returns the id the middleware assigned to the request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// routeLabel replaces path ids with placeholders to keep metric label
// cardinality bounded.
func routeLabel(path string) string {
	parts := splitPath(path)
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "workspaces" {
		if len(parts) > 3 {
			return "other"
		}
		return "/" + strings.Join(parts, "/")
	}
	parts[2] = "{workspaceId}"
	if len(parts) >= 5 && (parts[3] == "vertices" || parts[3] == "edges") {
		parts[4] = "{elementId}"
	}
	return "/" + strings.Join(parts, "/")
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
