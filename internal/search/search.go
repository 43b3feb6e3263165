// Package search keeps a full-text index of published vertices. Only
// public state is indexed: workspace-private values never reach it.
package search

import (
	"context"
	"encoding/base64"
)

// Record is the document indexed for one vertex.
type Record struct {
	ID          string   `json:"id"`
	VertexID    string   `json:"vertexId"`
	ConceptType string   `json:"conceptType"`
	Title       string   `json:"title"`
	Text        []string `json:"text"`
}

// Result is a single search hit returned to the caller.
type Result struct {
	VertexID    string `json:"vertexId"`
	ConceptType string `json:"conceptType"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text        string
	ConceptType string // empty = all concepts
	Limit       int
	Offset      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Index stores records and answers queries. Meili implements it.
type Index interface {
	IndexVertex(ctx context.Context, r Record) error
	DeleteVertex(ctx context.Context, vertexID string) error
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// documentID maps a vertex id onto the characters index ids allow.
func documentID(vertexID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(vertexID))
}
