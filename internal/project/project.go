// Package project derives a stable identity for the codebase memoryd
// serves. Inside a git worktree the identity is anchored on the origin
// remote, so every clone of a repository shares one project id and its
// memories. Outside a repository, or when no remote is configured, the id
// falls back to the directory path.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

var (
	// ErrEmptyPath is returned when no project path is given.
	ErrEmptyPath = errors.New("project: path cannot be empty")

	// ErrNotDirectory is returned when the path is not a directory.
	ErrNotDirectory = errors.New("project: path must be a directory")
)

// Identity describes the project a memory store belongs to.
type Identity struct {
	// ID is the stable identifier stamped on stored items, e.g.
	// "api_3f9ab2c4e1d05876". Derived from the origin remote when one
	// exists, so it survives re-clones and directory renames.
	ID string

	// Name is the human-readable project name: the repository name from
	// the remote, or the directory name outside a repo.
	Name string

	// Path is the cleaned absolute worktree path.
	Path string

	// RemoteURL is the origin remote URL, empty when none is configured.
	RemoteURL string

	// Branch is the current branch, "detached" for a detached HEAD, and
	// empty outside a repository or before the first commit.
	Branch string
}

// IsMainBranch reports whether the worktree is on a main branch.
func (id *Identity) IsMainBranch() bool {
	return id.Branch == "main" || id.Branch == "master"
}

// Detect derives the project identity for a directory.
//
// Not being a git repository is not an error; the identity then keys off
// the directory itself and carries no remote or branch.
func Detect(path string) (*Identity, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	cleanPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, cleanPath)
	}

	ident := &Identity{
		Name: slug(filepath.Base(cleanPath)),
		Path: cleanPath,
	}

	repo, err := git.PlainOpen(cleanPath)
	if err != nil {
		ident.ID = ident.Name + "_" + hashID(cleanPath)
		return ident, nil
	}

	if head, err := repo.Head(); err == nil {
		if head.Name().IsBranch() {
			ident.Branch = head.Name().Short()
		} else {
			ident.Branch = "detached"
		}
	}

	if remote, err := repo.Remote("origin"); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			ident.RemoteURL = urls[0]
		}
	}

	if ident.RemoteURL != "" {
		normalized := normalizeRemoteURL(ident.RemoteURL)
		if name := repoName(normalized); name != "" {
			ident.Name = name
		}
		ident.ID = ident.Name + "_" + hashID(normalized)
	} else {
		ident.ID = ident.Name + "_" + hashID(cleanPath)
	}
	return ident, nil
}

// normalizeRemoteURL reduces the ssh and https spellings of a remote to one
// canonical "host/owner/repo" form so both hash to the same project id.
func normalizeRemoteURL(url string) string {
	url = strings.ToLower(strings.TrimSpace(url))
	url = strings.TrimSuffix(url, ".git")
	for _, prefix := range []string{"https://", "http://", "ssh://", "git://"} {
		url = strings.TrimPrefix(url, prefix)
	}
	url = strings.TrimPrefix(url, "git@")
	url = strings.Replace(url, ":", "/", 1)
	return strings.TrimSuffix(url, "/")
}

// repoName returns the last path segment of a normalized remote URL,
// slugged, or "" when the URL has no usable segment.
func repoName(normalized string) string {
	i := strings.LastIndex(normalized, "/")
	if i < 0 || i == len(normalized)-1 {
		return ""
	}
	return slug(normalized[i+1:])
}

// hashID derives the stable id suffix from a seed string.
func hashID(seed string) string {
	hash := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(hash[:])[:16]
}

// slug lowercases a name and keeps only alphanumerics and underscores, so
// ids are safe in collection names and log fields. Spaces, dots and hyphens
// become underscores.
func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '.':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "project"
	}
	return b.String()
}
