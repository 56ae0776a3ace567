package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T, dir string) *git.Repository {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return repo
}

func commitFile(t *testing.T, repo *git.Repository, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	_, err = wt.Commit("add "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

func TestDetectValidatesPath(t *testing.T) {
	_, err := Detect("")
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = Detect(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "afile")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = Detect(file)
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestDetectOutsideRepository(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "My-App")
	require.NoError(t, os.Mkdir(dir, 0o755))

	ident, err := Detect(dir)
	require.NoError(t, err)

	assert.Equal(t, "my_app", ident.Name)
	assert.Equal(t, "my_app_"+hashID(ident.Path), ident.ID)
	assert.Empty(t, ident.Branch)
	assert.Empty(t, ident.RemoteURL)
	assert.True(t, filepath.IsAbs(ident.Path))
	assert.False(t, ident.IsMainBranch())

	again, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, ident.ID, again.ID)

	other := filepath.Join(t.TempDir(), "My-App")
	require.NoError(t, os.Mkdir(other, 0o755))
	elsewhere, err := Detect(other)
	require.NoError(t, err)
	assert.NotEqual(t, ident.ID, elsewhere.ID)
}

func TestDetectRemoteAnchorsIdentity(t *testing.T) {
	dirA := filepath.Join(t.TempDir(), "clone-a")
	require.NoError(t, os.Mkdir(dirA, 0o755))
	repoA := initRepo(t, dirA)
	_, err := repoA.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{"git@github.com:acme/payments-api.git"},
	})
	require.NoError(t, err)

	identA, err := Detect(dirA)
	require.NoError(t, err)
	assert.Equal(t, "payments_api", identA.Name)
	assert.Equal(t, "git@github.com:acme/payments-api.git", identA.RemoteURL)
	assert.Equal(t, "payments_api_"+hashID("github.com/acme/payments-api"), identA.ID)

	// A second clone of the same repository, over https and with different
	// casing, resolves to the same project id.
	dirB := filepath.Join(t.TempDir(), "clone-b")
	require.NoError(t, os.Mkdir(dirB, 0o755))
	repoB := initRepo(t, dirB)
	_, err = repoB.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{"https://github.com/Acme/Payments-API.git"},
	})
	require.NoError(t, err)

	identB, err := Detect(dirB)
	require.NoError(t, err)
	assert.Equal(t, identA.ID, identB.ID)
}

func TestDetectBranch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "svc")
	require.NoError(t, os.Mkdir(dir, 0o755))
	repo := initRepo(t, dir)
	commitFile(t, repo, dir, "README.md", "# svc\n")

	ident, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, "master", ident.Branch)
	assert.True(t, ident.IsMainBranch())

	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName("feature/sync"),
		Create: true,
	}))

	ident, err = Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, "feature/sync", ident.Branch)
	assert.False(t, ident.IsMainBranch())
}

func TestDetectEmptyRepositoryHasNoBranch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "fresh")
	require.NoError(t, os.Mkdir(dir, 0o755))
	initRepo(t, dir)

	ident, err := Detect(dir)
	require.NoError(t, err)
	assert.Empty(t, ident.Branch)
	assert.Equal(t, "fresh", ident.Name)
}

func TestNormalizeRemoteURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{url: "git@github.com:acme/api.git", want: "github.com/acme/api"},
		{url: "https://github.com/acme/api.git", want: "github.com/acme/api"},
		{url: "ssh://git@github.com/acme/api", want: "github.com/acme/api"},
		{url: "http://gitlab.local/team/api/", want: "gitlab.local/team/api"},
		{url: "HTTPS://GitHub.com/Acme/API.git", want: "github.com/acme/api"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeRemoteURL(tt.url))
		})
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "My App", want: "my_app"},
		{in: "acme-api", want: "acme_api"},
		{in: "v2.0", want: "v2_0"},
		{in: "API", want: "api"},
		{in: "???", want: "project"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, slug(tt.in))
	}
}

func TestRepoName(t *testing.T) {
	assert.Equal(t, "api", repoName("github.com/acme/api"))
	assert.Equal(t, "", repoName("api"))
	assert.Equal(t, "", repoName("github.com/acme/"))
}

func TestHashIDLength(t *testing.T) {
	id := hashID("seed")
	assert.Len(t, id, 16)
	assert.Equal(t, id, hashID("seed"))
	assert.NotEqual(t, id, hashID("other"))
	assert.False(t, strings.ContainsAny(id, "GHIJKLMNOPQRSTUVWXYZ"))
}
