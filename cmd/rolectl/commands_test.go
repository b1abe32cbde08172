package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdahabbo/rolesync/internal/config"
	"github.com/cdahabbo/rolesync/internal/tokens"
)

const secret = "rolectl-test-secret-0123"

func withConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	profilesFile := filepath.Join(dir, "server.json")
	require.NoError(t, os.WriteFile(profilesFile, []byte(`{
  "verified_users": [{"user_id": 100, "habbo": "Alice"}, {"user_id": "200", "habbo": "Bob"}],
  "channels": {"verification": "1"}
}`), 0o644))

	prev := loadConfig
	loadConfig = func() (*config.Config, error) {
		return &config.Config{
			Data:  config.DataConfig{Dir: dir, ProfilesFile: profilesFile, PolicyFile: filepath.Join(dir, "rolesbadges.json"), ProfileStore: "file"},
			Admin: config.AdminConfig{JWTSecret: secret},
		}, nil
	}
	t.Cleanup(func() { loadConfig = prev })
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	withConfig(t)

	out, err := execute(t, "token", "--sub", "alice", "--ttl", "5m")
	require.NoError(t, err)

	tm, err := tokens.NewManager(secret, nil)
	require.NoError(t, err)
	tok, err := tm.Verify(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	var claims map[string]interface{}
	require.NoError(t, tok.Claims(&claims))
	assert.Equal(t, "alice", claims["sub"])
	assert.Equal(t, tokens.ScopeAdmin, claims["scope"])

	_, err = execute(t, "token")
	require.Error(t, err)
}

func TestPolicyCheck(t *testing.T) {
	dir := withConfig(t)
	good := filepath.Join(dir, "rolesbadges.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"roles":{"EmployeeRoles":[{"group_id":"g1","role_id":1}],"DonatorRoles":[],"Misc":[],"SpecialUnits":[]}}`), 0o644))

	out, err := execute(t, "policy", "check", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok, 1 entries")
	assert.Contains(t, out, "EmployeeRoles")

	// defaults to POLICY_FILE
	_, err = execute(t, "policy", "check")
	require.NoError(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"roles":{"EmployeeRoles":{}}}`), 0o644))
	_, err = execute(t, "policy", "check", bad)
	require.Error(t, err)
}

func TestProfilesListAndRemove(t *testing.T) {
	dir := withConfig(t)

	out, err := execute(t, "profiles", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "Bob")

	out, err = execute(t, "profiles", "remove", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 100")

	_, err = execute(t, "profiles", "remove", "100")
	require.Error(t, err)

	out, err = execute(t, "profiles", "list", "--json")
	require.NoError(t, err)
	assert.NotContains(t, out, "Alice")
	assert.Contains(t, out, `"habbo": "Bob"`)

	// other keys in the shared file survive the rewrite
	raw, err := os.ReadFile(filepath.Join(dir, "server.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "channels")
}
