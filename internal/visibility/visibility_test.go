package visibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanRead(t *testing.T) {
	auths := NewAuthorizations("secret", "WORKSPACE_1")
	cases := []struct {
		expr  Visibility
		allow bool
	}{
		{expr: "", allow: true},
		{expr: "secret", allow: true},
		{expr: "other", allow: false},
		{expr: "secret&WORKSPACE_1", allow: true},
		{expr: "secret&other", allow: false},
		{expr: "other|secret", allow: true},
		{expr: "(other|secret)&WORKSPACE_1", allow: true},
		{expr: "other|secret&nope", allow: false},
		{expr: "(secret", allow: false},
		{expr: "secret&&x", allow: false},
	}
	for _, tc := range cases {
		t.Run(string(tc.expr), func(t *testing.T) {
			assert.Equal(t, tc.allow, tc.expr.CanRead(auths))
		})
	}
}

func TestHasTerm(t *testing.T) {
	cases := []struct {
		expr Visibility
		term string
		want bool
	}{
		{expr: "", term: "ws1", want: false},
		{expr: "ws1", term: "ws1", want: true},
		{expr: "ws10", term: "ws1", want: false},
		{expr: "(secret|ws1)&termMention", term: "ws1", want: true},
		{expr: "secret&(a|(b&ws-1))", term: "ws-1", want: true},
		{expr: "secret&ws", term: "ws1", want: false},
		{expr: "(ws1", term: "ws1", want: false},
	}
	for _, tc := range cases {
		t.Run(string(tc.expr)+"/"+tc.term, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.expr.HasTerm(tc.term))
		})
	}
}

func TestParseReportsOffset(t *testing.T) {
	_, err := Parse("a&(b|")
	require.Error(t, err)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 5, parseErr.Offset)

	v, err := Parse("a&(b|c)")
	require.NoError(t, err)
	assert.Equal(t, Visibility("a&(b|c)"), v)
}

func TestAnd(t *testing.T) {
	assert.Equal(t, Visibility("a"), And("", "a"))
	assert.Equal(t, Visibility("a"), And("a", ""))
	assert.Equal(t, Visibility("termMention&(a|b)"), And("termMention", "a|b"))
}

func TestAuthorizationsWith(t *testing.T) {
	base := NewAuthorizations("a", " ", "b")
	extended := base.With("c", "a")
	assert.Equal(t, []string{"a", "b"}, base.Terms())
	assert.Equal(t, []string{"a", "b", "c"}, extended.Terms())
	assert.Equal(t, "a,b,c", extended.String())
}

func TestVisibilityJSONWorkspaces(t *testing.T) {
	vj := NewVisibilityJSON("secret", "ws2", "ws1", "ws2")
	assert.Equal(t, []string{"ws1", "ws2"}, vj.Workspaces)
	assert.True(t, vj.HasWorkspace("ws1"))

	removed := vj.RemoveWorkspace("ws1")
	assert.Equal(t, []string{"ws2"}, removed.Workspaces)
	assert.True(t, vj.HasWorkspace("ws1"), "original must not change")

	assert.Empty(t, vj.RemoveAllWorkspaces().Workspaces)
	assert.True(t, NewVisibilityJSON("secret", "ws1", "ws2").Equal(vj))
	assert.False(t, NewVisibilityJSON("", "ws1", "ws2").Equal(vj))
}

func TestVisibilityJSONStringRoundTrip(t *testing.T) {
	vj := NewVisibilityJSON("secret", "ws1")
	assert.Equal(t, `{"source":"secret","workspaces":["ws1"]}`, vj.String())
	assert.Equal(t, `{"source":"","workspaces":[]}`, VisibilityJSON{}.String())

	parsed, err := ParseJSON(vj.String())
	require.NoError(t, err)
	require.NotNil(t, parsed)
	assert.True(t, parsed.Equal(vj))

	empty, err := ParseJSON("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = ParseJSON("{")
	assert.Error(t, err)
}

func TestDirectTranslator(t *testing.T) {
	tr := DirectTranslator{}
	assert.Equal(t, Visibility(""), tr.DefaultVisibility())
	assert.Equal(t, Visibility(""), tr.ToVisibility(VisibilityJSON{}))
	assert.Equal(t, Visibility("ws1"), tr.ToVisibility(NewVisibilityJSON("", "ws1")))
	assert.Equal(t, Visibility("other&ws1"), tr.ToVisibility(NewVisibilityJSON("other", "ws1")))
	assert.Equal(t, Visibility("(a|b)&ws1&ws2"), tr.ToVisibility(NewVisibilityJSON("a|b", "ws2", "ws1")))

	readable := tr.ToVisibility(NewVisibilityJSON("other", "ws1"))
	assert.True(t, readable.CanRead(NewAuthorizations("other", "ws1")))
	assert.False(t, readable.CanRead(NewAuthorizations("other")))
}
