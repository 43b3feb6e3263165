package termmention

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/visibility"
)

type fixture struct {
	g     *graph.Graph
	repo  *Repository
	auths visibility.Authorizations
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	g := graph.New(graph.NewMemoryBackend(), zerolog.Nop())
	f := fixture{g: g, repo: NewRepository(g, zerolog.Nop()), auths: visibility.NewAuthorizations("ws1")}
	ctx := context.Background()
	for _, id := range []string{"doc", "person", "place"} {
		_, err := g.PrepareVertex(id, "").Save(ctx, f.auths)
		require.NoError(t, err)
	}
	_, err := g.PrepareEdge("e1", "doc", "person", "mentions", "").Save(ctx, f.auths)
	require.NoError(t, err)
	require.NoError(t, g.Flush(ctx))
	return f
}

func TestAddAndFind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tm, err := f.repo.Add(ctx, TermMention{
		OutVertexID:        "doc",
		ResolvedToVertexID: "person",
		ResolvedEdgeID:     "e1",
		ForElementID:       "doc",
		ForType:            ForProperty,
		PropertyKey:        "k",
		PropertyName:       "text",
		RefPropertyKey:     "k",
		RefPropertyName:    "text",
		Sign:               "Alice",
		Start:              3,
		End:                8,
	}, "ws1", f.auths)
	require.NoError(t, err)
	assert.Equal(t, visibility.Visibility("ws1&termMention"), tm.Visibility)
	require.NoError(t, f.g.Flush(ctx))

	byDoc, err := f.repo.FindByVertexID(ctx, "doc", f.auths)
	require.NoError(t, err)
	require.Len(t, byDoc, 1)
	got := byDoc[0]
	assert.Equal(t, "doc", got.OutVertexID)
	assert.Equal(t, "person", got.ResolvedToVertexID)
	assert.Equal(t, int64(3), got.Start)
	assert.Equal(t, int64(8), got.End)
	assert.Equal(t, "Alice", got.Sign)

	resolved, err := f.repo.FindResolvedTo(ctx, "person", f.auths)
	require.NoError(t, err)
	require.Len(t, resolved, 1)

	byEdge, err := f.repo.FindByEdgeID(ctx, "doc", "e1", f.auths)
	require.NoError(t, err)
	require.Len(t, byEdge, 1)

	byProp, err := f.repo.FindByVertexIDAndProperty(ctx, "doc", "k", "text", "", f.auths)
	require.NoError(t, err)
	require.Len(t, byProp, 1)
	none, err := f.repo.FindByVertexIDAndProperty(ctx, "doc", "k", "text", "other", f.auths)
	require.NoError(t, err)
	assert.Empty(t, none)

	out, err := f.repo.FindOutVertex(ctx, tm.ID, f.auths)
	require.NoError(t, err)
	assert.Equal(t, "doc", out.ID)
}

func TestMentionsNeedWorkspaceAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.repo.Add(ctx, TermMention{OutVertexID: "doc", ResolvedToVertexID: "person", Sign: "Alice"}, "ws1", f.auths)
	require.NoError(t, err)

	found, err := f.repo.FindByVertexID(ctx, "doc", visibility.NewAuthorizations())
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestFindByEdgeForEdge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.repo.Add(ctx, TermMention{OutVertexID: "doc", ForElementID: "e1", ForType: ForEdge, Sign: "knows"}, "", f.auths)
	require.NoError(t, err)
	_, err = f.repo.Add(ctx, TermMention{OutVertexID: "doc", ForElementID: "doc", ForType: ForVertex, Sign: "doc"}, "", f.auths)
	require.NoError(t, err)

	edge, err := f.g.GetEdge(ctx, "e1", graph.FetchDefault, f.auths)
	require.NoError(t, err)
	all, err := f.repo.FindByEdge(ctx, edge, f.auths)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	forEdge, err := f.repo.FindByEdgeForEdge(ctx, edge, f.auths)
	require.NoError(t, err)
	require.Len(t, forEdge, 1)
	assert.Equal(t, "knows", forEdge[0].Sign)
}

func TestUpdateVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tm, err := f.repo.Add(ctx, TermMention{OutVertexID: "doc", ResolvedToVertexID: "person", ForElementID: "doc", ForType: ForProperty, RefPropertyKey: "k", RefPropertyName: "text", RefPropertyVisibility: "ws1"}, "ws1", f.auths)
	require.NoError(t, err)

	require.NoError(t, f.repo.UpdateVisibility(ctx, tm, "", f.auths))
	require.NoError(t, f.g.Flush(ctx))

	public := visibility.NewAuthorizations()
	found, err := f.repo.FindByVertexIDAndProperty(ctx, "doc", "k", "text", "", public)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, Visibility, found[0].Visibility)
	assert.Equal(t, "person", found[0].ResolvedToVertexID, "edges follow the mention")
}

func TestDeleteAndMarkHidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.repo.Add(ctx, TermMention{OutVertexID: "doc", Sign: "a"}, "", f.auths)
	require.NoError(t, err)
	b, err := f.repo.Add(ctx, TermMention{OutVertexID: "doc", Sign: "b"}, "", f.auths)
	require.NoError(t, err)

	require.NoError(t, f.repo.Delete(ctx, a, f.auths))
	require.NoError(t, f.repo.MarkHidden(ctx, b, "ws1", f.auths))
	require.NoError(t, f.g.Flush(ctx))

	found, err := f.repo.FindByVertexID(ctx, "doc", f.auths)
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = f.g.GetVertex(ctx, b.ID, graph.FetchIncludeHidden, Authorizations(f.auths))
	assert.NoError(t, err, "hidden mention is still stored")
	_, err = f.g.GetVertex(ctx, a.ID, graph.FetchIncludeHidden, Authorizations(f.auths))
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestAddRequiresOutVertex(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.Add(context.Background(), TermMention{Sign: "x"}, "", f.auths)
	assert.Error(t, err)
}

func TestUpdateVisibilityKeepsMissingRefVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tm, err := f.repo.Add(ctx, TermMention{OutVertexID: "doc", ResolvedToVertexID: "person", ForElementID: "doc", ForType: ForVertex, Sign: "Alice"}, "ws1", f.auths)
	require.NoError(t, err)

	require.NoError(t, f.repo.UpdateVisibility(ctx, tm, "", f.auths))
	require.NoError(t, f.g.Flush(ctx))
	assert.Empty(t, tm.RefPropertyVisibility)

	v, err := f.g.GetVertex(ctx, tm.ID, graph.FetchDefault, Authorizations(visibility.NewAuthorizations()))
	require.NoError(t, err)
	assert.Nil(t, v.Property("", propRefPropertyVisibility))
}

func TestMarkVisibleRestoresHiddenResolvedMention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tm, err := f.repo.Add(ctx, TermMention{OutVertexID: "doc", ResolvedToVertexID: "person", ResolvedEdgeID: "e1", Sign: "Alice"}, "", f.auths)
	require.NoError(t, err)
	require.NoError(t, f.g.Flush(ctx))

	hidden, err := f.repo.FindHiddenResolvedTo(ctx, "person", f.auths)
	require.NoError(t, err)
	assert.Empty(t, hidden)

	require.NoError(t, f.repo.MarkHidden(ctx, tm, "ws1", f.auths))
	require.NoError(t, f.g.Flush(ctx))

	resolved, err := f.repo.FindResolvedTo(ctx, "person", f.auths)
	require.NoError(t, err)
	assert.Empty(t, resolved)
	resolved, err = f.repo.FindResolvedTo(ctx, "person", visibility.NewAuthorizations())
	require.NoError(t, err)
	assert.Len(t, resolved, 1, "other readers still see the mention")

	hidden, err = f.repo.FindHiddenResolvedTo(ctx, "person", f.auths)
	require.NoError(t, err)
	require.Len(t, hidden, 1)
	assert.Equal(t, tm.ID, hidden[0].ID)
	assert.Equal(t, "e1", hidden[0].ResolvedEdgeID)

	require.NoError(t, f.repo.MarkVisible(ctx, hidden[0], "ws1", f.auths))
	require.NoError(t, f.g.Flush(ctx))
	resolved, err = f.repo.FindResolvedTo(ctx, "person", f.auths)
	require.NoError(t, err)
	assert.Len(t, resolved, 1)
}
