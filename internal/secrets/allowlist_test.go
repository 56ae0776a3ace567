package secrets_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/secrets"
)

func TestLoadAllowlists_MissingFilesIgnored(t *testing.T) {
	allowlist, err := secrets.LoadAllowlists(t.TempDir(), filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Empty(t, allowlist.Paths)
	assert.Empty(t, allowlist.Regexes)
}

func TestLoadAllowlists_MergesProjectAndUser(t *testing.T) {
	projectDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".gitleaks.toml"), []byte(`
[allowlist]
paths = ["testdata/.*"]
regexes = ["EXAMPLE_KEY"]
`), 0o600))

	userDir := t.TempDir()
	userPath := filepath.Join(userDir, "allowlist.toml")
	require.NoError(t, os.WriteFile(userPath, []byte(`
[allowlist]
regexes = ["DEMO_TOKEN"]
`), 0o600))

	allowlist, err := secrets.LoadAllowlists(projectDir, userPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"testdata/.*"}, allowlist.Paths)
	assert.ElementsMatch(t, []string{"EXAMPLE_KEY", "DEMO_TOKEN"}, allowlist.Regexes)
}

func TestLoadAllowlists_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitleaks.toml"), []byte("not [valid toml"), 0o600))

	_, err := secrets.LoadAllowlists(dir, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, secrets.ErrInvalidTOML)
}

func TestLoadAllowlists_InvalidRegex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitleaks.toml"), []byte(`
[allowlist]
regexes = ["[unclosed"]
`), 0o600))

	_, err := secrets.LoadAllowlists(dir, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, secrets.ErrInvalidRegex)
}
