package search

import (
	"encoding/json"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
)

func hit(t *testing.T, raw string) meili.Hit {
	t.Helper()
	var h meili.Hit
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		t.Fatalf("decode hit: %v", err)
	}
	return h
}

func TestHitToResultPrefersHighlights(t *testing.T) {
	h := hit(t, `{
		"vertexId": "v1",
		"conceptType": "http://graphdesk.io#thing",
		"title": "Alice",
		"text": ["first", "met in Lisbon"],
		"_formatted": {"title": "<mark>Alice</mark>", "text": ["first", "met in <mark>Lisbon</mark>"]}
	}`)
	r := hitToResult(h)
	assert.Equal(t, "v1", r.VertexID)
	assert.Equal(t, "http://graphdesk.io#thing", r.ConceptType)
	assert.Equal(t, "<mark>Alice</mark>", r.Title)
	assert.Equal(t, "met in <mark>Lisbon</mark>", r.Snippet)
}

func TestHitToResultFallsBackToStoredFields(t *testing.T) {
	r := hitToResult(hit(t, `{"vertexId": "v2", "title": "Bob", "text": ["plain"]}`))
	assert.Equal(t, "Bob", r.Title)
	assert.Equal(t, "plain", r.Snippet)
	assert.Empty(t, r.ConceptType)
}

func TestDocumentIDIsURLSafe(t *testing.T) {
	id := documentID("a/b+c d")
	assert.NotContains(t, id, "/")
	assert.NotContains(t, id, "+")
	assert.NotContains(t, id, " ")
	assert.NotEqual(t, documentID("a"), documentID("b"))
}
