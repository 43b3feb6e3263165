package graph

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps element documents in process memory.
type MemoryBackend struct {
	mu       sync.RWMutex
	vertices map[string]*Vertex
	edges    map[string]*Edge
	incident map[string]map[string]struct{}
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		vertices: make(map[string]*Vertex),
		edges:    make(map[string]*Edge),
		incident: make(map[string]map[string]struct{}),
	}
}

func (b *MemoryBackend) LoadVertex(_ context.Context, id string) (*Vertex, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.vertices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v.clone(), nil
}

func (b *MemoryBackend) LoadEdge(_ context.Context, id string) (*Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.edges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.clone(), nil
}

func (b *MemoryBackend) EdgeIDs(_ context.Context, vertexID string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.incident[vertexID]))
	for id := range b.incident[vertexID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *MemoryBackend) Apply(_ context.Context, batch Batch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range batch.DeletedEdges {
		if e, ok := b.edges[id]; ok {
			b.unlink(e)
			delete(b.edges, id)
		}
	}
	for _, id := range batch.DeletedVertices {
		delete(b.vertices, id)
	}
	for _, v := range batch.Vertices {
		b.vertices[v.ID] = v.clone()
	}
	for _, e := range batch.Edges {
		b.edges[e.ID] = e.clone()
		b.link(e.OutVertexID, e.ID)
		b.link(e.InVertexID, e.ID)
	}
	return nil
}

func (b *MemoryBackend) link(vertexID, edgeID string) {
	set, ok := b.incident[vertexID]
	if !ok {
		set = make(map[string]struct{})
		b.incident[vertexID] = set
	}
	set[edgeID] = struct{}{}
}

func (b *MemoryBackend) unlink(e *Edge) {
	for _, vertexID := range []string{e.OutVertexID, e.InVertexID} {
		delete(b.incident[vertexID], e.ID)
		if len(b.incident[vertexID]) == 0 {
			delete(b.incident, vertexID)
		}
	}
}
