package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphdesk/api/internal/formula"
	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/ontology"
	"graphdesk/api/internal/visibility"
	"graphdesk/api/internal/workqueue"
)

type fakeIndex struct {
	mu      sync.Mutex
	records map[string]Record
	deleted []string
	failErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{records: map[string]Record{}}
}

func (f *fakeIndex) IndexVertex(_ context.Context, r Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.records[r.VertexID] = r
	return nil
}

func (f *fakeIndex) DeleteVertex(_ context.Context, vertexID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, vertexID)
	f.deleted = append(f.deleted, vertexID)
	return nil
}

func (f *fakeIndex) Search(context.Context, Query) ([]Result, int, error) {
	return nil, 0, nil
}

func (f *fakeIndex) Healthy() bool { return true }

func (f *fakeIndex) record(id string) (Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	return r, ok
}

func newIndexer(t *testing.T) (*Indexer, *graph.Graph, *fakeIndex) {
	t.Helper()
	g := graph.New(graph.NewMemoryBackend(), zerolog.Nop())
	reg := ontology.NewDefaultRegistry()
	idx := newFakeIndex()
	return NewIndexer(g, idx, reg, formula.NewPropertyTitle(reg), zerolog.Nop()), g, idx
}

var allAuths = visibility.NewAuthorizations("ws1")

func TestReindexPublicVertex(t *testing.T) {
	ctx := context.Background()
	x, g, idx := newIndexer(t)

	_, err := g.PrepareVertex("v/1", "").
		AddPropertyValue("", ontology.ConceptType, "http://graphdesk.io#thing", nil, "").
		AddPropertyValue("k", ontology.Title, "Alice", nil, "").
		AddPropertyValue("k", "http://graphdesk.io/test#note", "met in Lisbon", nil, "").
		AddPropertyValue("k", "http://graphdesk.io/test#draft", "sandboxed", nil, "ws1").
		Save(ctx, allAuths)
	require.NoError(t, err)

	require.NoError(t, x.Reindex(ctx, "v/1"))

	r, ok := idx.record("v/1")
	require.True(t, ok)
	assert.Equal(t, documentID("v/1"), r.ID)
	assert.NotContains(t, r.ID, "/")
	assert.Equal(t, "http://graphdesk.io#thing", r.ConceptType)
	assert.Equal(t, "Alice", r.Title)
	assert.Equal(t, []string{"met in Lisbon"}, r.Text)
}

func TestReindexSandboxedVertexDeletes(t *testing.T) {
	ctx := context.Background()
	x, g, idx := newIndexer(t)

	_, err := g.PrepareVertex("v1", "ws1").Save(ctx, allAuths)
	require.NoError(t, err)

	require.NoError(t, x.Reindex(ctx, "v1"))
	_, ok := idx.record("v1")
	assert.False(t, ok)
	assert.Equal(t, []string{"v1"}, idx.deleted)
}

func TestHandleCollectsVertexIDs(t *testing.T) {
	ctx := context.Background()
	x, g, idx := newIndexer(t)
	for _, id := range []string{"v1", "v2"} {
		_, err := g.PrepareVertex(id, "").Save(ctx, allAuths)
		require.NoError(t, err)
	}

	err := x.Handle(ctx, workqueue.Message{
		Kind:        workqueue.KindPublishVertex,
		ElementType: "VERTEX",
		ElementID:   "v1",
		VertexIDs:   []string{"v1", "v2", "gone"},
	})
	require.NoError(t, err)

	_, ok := idx.record("v1")
	assert.True(t, ok)
	_, ok = idx.record("v2")
	assert.True(t, ok)
	assert.Equal(t, []string{"gone"}, idx.deleted)
}

func TestHandleIgnoresEdgeElement(t *testing.T) {
	assert.Empty(t, vertexIDs(workqueue.Message{ElementType: "EDGE", ElementID: "e1"}))
}

func TestHandleReportsIndexFailures(t *testing.T) {
	ctx := context.Background()
	x, g, idx := newIndexer(t)
	_, err := g.PrepareVertex("v1", "").Save(ctx, allAuths)
	require.NoError(t, err)
	idx.failErr = errors.New("index down")

	err = x.Handle(ctx, workqueue.Message{ElementType: "VERTEX", ElementID: "v1"})
	assert.ErrorContains(t, err, "index down")
}

type fakeSource struct {
	queued     chan workqueue.Message
	broadcasts chan workqueue.Message
}

func (s *fakeSource) Pop(ctx context.Context, p workqueue.Priority, timeout time.Duration) (workqueue.Message, bool, error) {
	if p != workqueue.PriorityHigh {
		return workqueue.Message{}, false, nil
	}
	select {
	case msg := <-s.queued:
		return msg, true, nil
	case <-time.After(10 * time.Millisecond):
		return workqueue.Message{}, false, nil
	case <-ctx.Done():
		return workqueue.Message{}, false, ctx.Err()
	}
}

func (s *fakeSource) Subscribe(ctx context.Context, fn func(workqueue.Message)) error {
	for {
		select {
		case msg := <-s.broadcasts:
			fn(msg)
		case <-ctx.Done():
			return nil
		}
	}
}

func TestRunConsumesQueueAndBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	x, g, idx := newIndexer(t)
	for _, id := range []string{"queued", "broadcast"} {
		_, err := g.PrepareVertex(id, "").Save(ctx, allAuths)
		require.NoError(t, err)
	}

	src := &fakeSource{
		queued:     make(chan workqueue.Message, 1),
		broadcasts: make(chan workqueue.Message, 1),
	}
	done := make(chan error, 1)
	go func() { done <- x.Run(ctx, src) }()

	src.queued <- workqueue.Message{ElementType: "VERTEX", ElementID: "queued"}
	src.broadcasts <- workqueue.Message{Kind: workqueue.KindPublishVertex, ElementType: "VERTEX", ElementID: "broadcast"}

	require.Eventually(t, func() bool {
		_, a := idx.record("queued")
		_, b := idx.record("broadcast")
		return a && b
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
