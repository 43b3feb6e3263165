package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphdesk/api/internal/auth"
	"graphdesk/api/internal/config"
	"graphdesk/api/internal/rbac"
)

func TestMintsParseableToken(t *testing.T) {
	cfg := config.Config{TokenSecret: "s3cret", AccessTTL: 15 * time.Minute}
	cmd := newRootCmd(cfg, time.Now)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"alice", "--privileges", "edit,publish", "--authorizations", "secret"})
	require.NoError(t, cmd.Execute())

	claims, err := auth.ParseToken([]byte("s3cret"), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Sub)
	assert.Equal(t, "alice", claims.Name)
	assert.NotEmpty(t, claims.JTI)
	assert.Equal(t, []string{"secret"}, claims.Authorizations)
	assert.Equal(t, []rbac.Privilege{rbac.PrivilegeEdit, rbac.PrivilegePublish}, claims.User().Privileges)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), time.Unix(claims.Exp, 0), time.Minute)
}

func TestRequiresUserID(t *testing.T) {
	cmd := newRootCmd(config.Config{TokenSecret: "x"}, time.Now)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(nil)
	assert.Error(t, cmd.Execute())
}

func TestTTLFlag(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cmd := newRootCmd(config.Config{TokenSecret: "x", AccessTTL: time.Minute}, func() time.Time { return now })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"bob", "--ttl", "2h", "--name", "Bob"})
	require.NoError(t, cmd.Execute())

	parts := strings.Split(strings.TrimSpace(out.String()), ".")
	require.Len(t, parts, 3)
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims auth.Claims
	require.NoError(t, json.Unmarshal(raw, &claims))
	assert.Equal(t, "Bob", claims.Name)
	assert.Equal(t, now.Add(2*time.Hour).Unix(), claims.Exp)
	assert.Equal(t, []string{"READ"}, claims.Privileges)
}
