package workspace

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/ontology"
	"graphdesk/api/internal/termmention"
	"graphdesk/api/internal/visibility"
)

func (f *fixture) mentions() *termmention.Repository {
	return termmention.NewRepository(f.g, zerolog.Nop())
}

func (f *fixture) addMention(tm termmention.TermMention, vis visibility.Visibility) *termmention.TermMention {
	f.t.Helper()
	if tm.ForElementID == "" {
		tm.ForElementID = tm.OutVertexID
		tm.ForType = termmention.ForVertex
	}
	out, err := f.mentions().Add(f.ctx, tm, vis, f.auths())
	require.NoError(f.t, err)
	require.NoError(f.t, f.g.Flush(f.ctx))
	return out
}

// publicEdge stores an already published edge.
func (f *fixture) publicEdge(id, out, in, label string) {
	f.t.Helper()
	_, err := f.g.PrepareEdge(id, out, in, label, "").
		AddPropertyValue("", ontology.VisibilityJSON, visibility.NewVisibilityJSON("").String(), nil, "").
		Save(f.ctx, f.auths())
	require.NoError(f.t, err)
	require.NoError(f.t, f.g.Flush(f.ctx))
}

func publicAuths() visibility.Authorizations {
	return visibility.NewAuthorizations()
}

func (f *fixture) resolvedTo(vertexID string, auths visibility.Authorizations) []*termmention.TermMention {
	f.t.Helper()
	found, err := f.mentions().FindResolvedTo(f.ctx, vertexID, auths)
	require.NoError(f.t, err)
	return found
}

func (f *fixture) byEdge(outVertexID, edgeID string, auths visibility.Authorizations) []*termmention.TermMention {
	f.t.Helper()
	found, err := f.mentions().FindByEdgeID(f.ctx, outVertexID, edgeID, auths)
	require.NoError(f.t, err)
	return found
}

func (f *fixture) vertex(id string, auths visibility.Authorizations) *graph.Vertex {
	f.t.Helper()
	v, err := f.g.GetVertex(f.ctx, id, graph.FetchDefault, auths)
	require.NoError(f.t, err)
	return v
}

func (f *fixture) requireMentionGone(id string) {
	f.t.Helper()
	_, err := f.g.GetVertex(f.ctx, id, graph.FetchIncludeHidden, termmention.Authorizations(f.auths()))
	require.ErrorIs(f.t, err, graph.ErrNotFound)
}

func TestPublicVertexDeleteHidesResolvedMention(t *testing.T) {
	f := newFixture(t)
	f.publicVertex("src")
	f.publicVertex("p1")
	f.publicEdge("r1", "src", "p1", "knows")
	tm := f.addMention(termmention.TermMention{OutVertexID: "src", ResolvedToVertexID: "p1", ResolvedEdgeID: "r1"}, "")

	require.NoError(t, f.repo.DeleteVertex(f.ctx, f.wsID, "p1", f.user))
	assert.Len(t, f.resolvedTo("p1", publicAuths()), 1, "others keep the mention")
	assert.Empty(t, f.resolvedTo("p1", f.auths()))
	_, err := f.g.GetEdge(f.ctx, "r1", graph.FetchDefault, publicAuths())
	require.NoError(t, err)
	_, err = f.g.GetEdge(f.ctx, "r1", graph.FetchDefault, f.auths())
	require.ErrorIs(t, err, graph.ErrNotFound)

	resp, err := f.repo.Undo(f.ctx, undoItems(f.diff()), f.user, f.wsID)
	require.NoError(t, err)
	assert.True(t, resp.Success, "failures: %v", resp.Failures)
	assert.Empty(t, f.diff())

	found := f.resolvedTo("p1", f.auths())
	require.Len(t, found, 1)
	assert.Equal(t, tm.ID, found[0].ID)
	_, err = f.g.GetEdge(f.ctx, "r1", graph.FetchDefault, f.auths())
	assert.NoError(t, err)
}

func TestPublishedVertexDeleteRemovesResolvedMention(t *testing.T) {
	f := newFixture(t)
	f.publicVertex("src")
	f.publicVertex("p1")
	f.publicEdge("r1", "src", "p1", "knows")
	tm := f.addMention(termmention.TermMention{OutVertexID: "src", ResolvedToVertexID: "p1", ResolvedEdgeID: "r1"}, "")

	require.NoError(t, f.repo.DeleteVertex(f.ctx, f.wsID, "p1", f.user))
	resp, err := f.repo.Publish(f.ctx, publishItems(f.diff()), f.user, f.wsID)
	require.NoError(t, err)
	assert.True(t, resp.Success, "failures: %v", resp.Failures)
	assert.Empty(t, f.diff())

	f.requireMentionGone(tm.ID)
	_, err = f.g.GetEdge(f.ctx, "r1", graph.FetchIncludeHidden, publicAuths())
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestPublicVertexDeleteHidesDetectedObjects(t *testing.T) {
	f := newFixture(t)
	f.publicVertex("ent", &graph.Property{Name: ontology.RowKey, Value: "rk1"})
	f.publicVertex("art", &graph.Property{Key: "rk1", Name: ontology.DetectedObject, Value: map[string]any{"edgeId": "ed"}})
	f.publicEdge("ed", "art", "ent", ontology.ArtifactContainsImageOfEntity)

	require.NoError(t, f.repo.DeleteVertex(f.ctx, f.wsID, "ent", f.user))
	assert.Empty(t, f.vertex("art", f.auths()).PropertiesNamed(ontology.DetectedObject))
	assert.Len(t, f.vertex("art", publicAuths()).PropertiesNamed(ontology.DetectedObject), 1)
	_, err := f.g.GetEdge(f.ctx, "ed", graph.FetchDefault, f.auths())
	require.ErrorIs(t, err, graph.ErrNotFound)

	resp, err := f.repo.Undo(f.ctx, undoItems(f.diff()), f.user, f.wsID)
	require.NoError(t, err)
	assert.True(t, resp.Success, "failures: %v", resp.Failures)
	assert.Empty(t, f.diff())
	assert.Len(t, f.vertex("art", f.auths()).PropertiesNamed(ontology.DetectedObject), 1)
	_, err = f.g.GetEdge(f.ctx, "ed", graph.FetchDefault, f.auths())
	assert.NoError(t, err)
}

func imageFixture(t *testing.T) (*fixture, *termmention.TermMention) {
	f := newFixture(t)
	f.publicVertex("img")
	f.publicVertex("src", &graph.Property{Name: ontology.EntityImageVertexID, Value: "img"})
	f.publicEdge("e1", "src", "img", ontology.EntityHasImageRaw)
	tm := f.addMention(termmention.TermMention{OutVertexID: "src", ResolvedToVertexID: "img", ResolvedEdgeID: "e1"}, "")
	require.NoError(t, f.repo.DeleteEdge(f.ctx, f.wsID, "e1", f.user))
	return f, tm
}

func TestPublicEdgeDeleteHidesImageAndMention(t *testing.T) {
	f, tm := imageFixture(t)
	assert.Nil(t, f.vertex("src", f.auths()).PropertyValue(ontology.EntityImageVertexID))
	assert.Equal(t, "img", f.vertex("src", publicAuths()).PropertyValue(ontology.EntityImageVertexID))
	assert.Empty(t, f.byEdge("src", "e1", f.auths()))
	assert.Len(t, f.byEdge("src", "e1", publicAuths()), 1)

	resp, err := f.repo.Undo(f.ctx, undoItems(f.diff()), f.user, f.wsID)
	require.NoError(t, err)
	assert.True(t, resp.Success, "failures: %v", resp.Failures)
	assert.Empty(t, f.diff())

	assert.Equal(t, "img", f.vertex("src", f.auths()).PropertyValue(ontology.EntityImageVertexID))
	found := f.byEdge("src", "e1", f.auths())
	require.Len(t, found, 1)
	assert.Equal(t, tm.ID, found[0].ID)
}

func TestPublishedEdgeDeleteRemovesImageAndMention(t *testing.T) {
	f, tm := imageFixture(t)

	resp, err := f.repo.Publish(f.ctx, publishItems(f.diff()), f.user, f.wsID)
	require.NoError(t, err)
	assert.True(t, resp.Success, "failures: %v", resp.Failures)
	assert.Empty(t, f.diff())

	assert.Nil(t, f.vertex("src", publicAuths()).PropertyValue(ontology.EntityImageVertexID))
	f.requireMentionGone(tm.ID)
}

func TestPrivateEdgeDeleteRemovesMention(t *testing.T) {
	f := newFixture(t)
	f.publicVertex("a")
	f.publicVertex("b")
	_, err := f.repo.AddEdge(f.ctx, f.wsID, "e1", "a", "b", "knows", "", f.user)
	require.NoError(t, err)
	tm := f.addMention(termmention.TermMention{OutVertexID: "a", ResolvedToVertexID: "b", ResolvedEdgeID: "e1"}, visibility.Visibility(f.wsID))

	require.NoError(t, f.repo.DeleteEdge(f.ctx, f.wsID, "e1", f.user))
	_, err = f.g.GetEdge(f.ctx, "e1", graph.FetchIncludeHidden, f.auths())
	assert.ErrorIs(t, err, graph.ErrNotFound)
	f.requireMentionGone(tm.ID)
	assert.Empty(t, f.diff())
}

func detectedObjectFixture(t *testing.T) *fixture {
	f := newFixture(t)
	f.publicVertex("ent")
	f.publicVertex("art", &graph.Property{Key: "do1", Name: ontology.DetectedObject, Value: map[string]any{"edgeId": "ed"}})
	f.publicEdge("ed", "art", "ent", ontology.ArtifactContainsImageOfEntity)
	require.NoError(t, f.repo.DeleteEdge(f.ctx, f.wsID, "ed", f.user))
	return f
}

func TestPublicEdgeDeleteHidesDetectedObject(t *testing.T) {
	f := detectedObjectFixture(t)
	assert.Empty(t, f.vertex("art", f.auths()).PropertiesNamed(ontology.DetectedObject))
	assert.Len(t, f.vertex("art", publicAuths()).PropertiesNamed(ontology.DetectedObject), 1)

	resp, err := f.repo.Undo(f.ctx, undoItems(f.diff()), f.user, f.wsID)
	require.NoError(t, err)
	assert.True(t, resp.Success, "failures: %v", resp.Failures)
	assert.Empty(t, f.diff())
	assert.Len(t, f.vertex("art", f.auths()).PropertiesNamed(ontology.DetectedObject), 1)
}

func TestPublishedEdgeDeleteRemovesDetectedObject(t *testing.T) {
	f := detectedObjectFixture(t)

	resp, err := f.repo.Publish(f.ctx, publishItems(f.diff()), f.user, f.wsID)
	require.NoError(t, err)
	assert.True(t, resp.Success, "failures: %v", resp.Failures)
	assert.Empty(t, f.vertex("art", publicAuths()).PropertiesNamed(ontology.DetectedObject))
	assert.Empty(t, f.diff())
}

func propertyMentionFixture(t *testing.T) (*fixture, *termmention.TermMention) {
	f := newFixture(t)
	f.publicVertex("src")
	f.publicVertex("p1", &graph.Property{Key: "k", Name: propA, Value: "v"})
	tm := f.addMention(termmention.TermMention{
		OutVertexID:        "src",
		ResolvedToVertexID: "p1",
		ForElementID:       "p1",
		ForType:            termmention.ForProperty,
		RefPropertyKey:     "k",
		RefPropertyName:    propA,
	}, "")
	ref := graph.ElementRef{Type: graph.ElementTypeVertex, ID: "p1"}
	require.NoError(t, f.repo.DeleteProperty(f.ctx, f.wsID, ref, "k", propA, f.user))
	return f, tm
}

func TestPublicPropertyDeleteHidesMention(t *testing.T) {
	f, tm := propertyMentionFixture(t)
	assert.Empty(t, f.resolvedTo("p1", f.auths()))
	assert.Len(t, f.resolvedTo("p1", publicAuths()), 1)

	resp, err := f.repo.Undo(f.ctx, undoItems(f.diff()), f.user, f.wsID)
	require.NoError(t, err)
	assert.True(t, resp.Success, "failures: %v", resp.Failures)
	assert.Empty(t, f.diff())

	found := f.resolvedTo("p1", f.auths())
	require.Len(t, found, 1)
	assert.Equal(t, tm.ID, found[0].ID)
}

func TestPublishedPropertyDeleteUnresolvesMention(t *testing.T) {
	f, tm := propertyMentionFixture(t)

	resp, err := f.repo.Publish(f.ctx, publishItems(f.diff()), f.user, f.wsID)
	require.NoError(t, err)
	assert.True(t, resp.Success, "failures: %v", resp.Failures)
	assert.Empty(t, f.diff())
	assert.Nil(t, f.vertex("p1", publicAuths()).PropertyValue(propA))
	f.requireMentionGone(tm.ID)
}

func TestPrivatePropertyDeleteUnresolvesMention(t *testing.T) {
	f := newFixture(t)
	f.publicVertex("src")
	f.publicVertex("p1")
	f.setProperty("p1", "k2", propB, "x")
	props := propertyDiffs(f.diff())
	require.Len(t, props, 1)
	tm := f.addMention(termmention.TermMention{
		OutVertexID:           "src",
		ResolvedToVertexID:    "p1",
		ForElementID:          "p1",
		ForType:               termmention.ForProperty,
		RefPropertyKey:        "k2",
		RefPropertyName:       propB,
		RefPropertyVisibility: props[0].VisibilityString,
	}, visibility.Visibility(f.wsID))

	ref := graph.ElementRef{Type: graph.ElementTypeVertex, ID: "p1"}
	require.NoError(t, f.repo.DeleteProperty(f.ctx, f.wsID, ref, "k2", propB, f.user))
	f.requireMentionGone(tm.ID)
	assert.Empty(t, f.diff())
}

func TestPublishVertexMovesMentions(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.AddVertex(f.ctx, f.wsID, "v1", "person", "", f.user)
	require.NoError(t, err)
	tm := f.addMention(termmention.TermMention{OutVertexID: "v1"}, visibility.Visibility(f.wsID))

	found, err := f.mentions().FindByVertexID(f.ctx, "v1", publicAuths())
	require.NoError(t, err)
	assert.Empty(t, found)

	resp, err := f.repo.Publish(f.ctx, publishItems(f.diff()), f.user, f.wsID)
	require.NoError(t, err)
	assert.True(t, resp.Success, "failures: %v", resp.Failures)

	found, err = f.mentions().FindByVertexID(f.ctx, "v1", publicAuths())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, tm.ID, found[0].ID)
}

func TestPublishEdgeMovesResolvedMentions(t *testing.T) {
	f := newFixture(t)
	f.publicVertex("a")
	f.publicVertex("b")
	_, err := f.repo.AddEdge(f.ctx, f.wsID, "e1", "a", "b", "knows", "", f.user)
	require.NoError(t, err)
	tm := f.addMention(termmention.TermMention{OutVertexID: "a", ResolvedToVertexID: "b", ResolvedEdgeID: "e1"}, visibility.Visibility(f.wsID))
	assert.Empty(t, f.resolvedTo("b", publicAuths()))

	resp, err := f.repo.Publish(f.ctx, []Item{&RelationshipItem{EdgeID: "e1"}}, f.user, f.wsID)
	require.NoError(t, err)
	assert.True(t, resp.Success, "failures: %v", resp.Failures)

	found := f.resolvedTo("b", publicAuths())
	require.Len(t, found, 1)
	assert.Equal(t, tm.ID, found[0].ID)
}

func TestPublishImageEdgePublishesGlyphIcon(t *testing.T) {
	f := newFixture(t)
	f.publicVertex("src")
	f.publicVertex("img")
	_, err := f.repo.AddEdge(f.ctx, f.wsID, "e1", "src", "img", ontology.EntityHasImageRaw, "", f.user)
	require.NoError(t, err)
	f.setProperty("src", "", ontology.EntityImageVertexID, "img")
	assert.Nil(t, f.vertex("src", publicAuths()).PropertyValue(ontology.EntityImageVertexID))

	resp, err := f.repo.Publish(f.ctx, publishItems(f.diff()), f.user, f.wsID)
	require.NoError(t, err)
	assert.True(t, resp.Success, "failures: %v", resp.Failures)

	assert.Equal(t, "img", f.vertex("src", publicAuths()).PropertyValue(ontology.EntityImageVertexID))
	assert.Empty(t, f.diff())
}

func TestPublishUnknownPropertyFails(t *testing.T) {
	f := newFixture(t)
	f.publicVertex("p1")
	const unknown = "http://graphdesk.io/test#unknown"

	items := []Item{&PropertyItem{ElementID: "p1", Key: "k", Name: unknown}}
	resp, err := f.repo.Publish(f.ctx, items, f.user, f.wsID)
	require.NoError(t, err)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "Could not find ontology property: "+unknown, ErrorMessage(items[0]))
}
