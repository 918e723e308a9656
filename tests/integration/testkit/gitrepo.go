package testkit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitRepo is a local git repository the river reads through a git+file URL.
// Every commit is one revision.
type GitRepo struct {
	t    testing.TB
	dir  string
	repo *git.Repository
	when time.Time
}

// NewGitRepo initializes an empty repository in a temp dir.
func NewGitRepo(t testing.TB) *GitRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to init git repository: %v", err)
	}
	return &GitRepo{t: t, dir: dir, repo: repo, when: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// URL returns the repository URL.
func (r *GitRepo) URL() string {
	return "git+file://" + r.dir
}

// Write creates or overwrites a file of the worktree.
func (r *GitRepo) Write(path, content string) *GitRepo {
	r.t.Helper()
	full := filepath.Join(r.dir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		r.t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		r.t.Fatalf("Failed to write %s: %v", path, err)
	}
	return r
}

// Remove deletes a file of the worktree.
func (r *GitRepo) Remove(path string) *GitRepo {
	r.t.Helper()
	wt, err := r.repo.Worktree()
	if err != nil {
		r.t.Fatalf("Failed to open worktree: %v", err)
	}
	if _, err := wt.Remove(path); err != nil {
		r.t.Fatalf("Failed to remove %s: %v", path, err)
	}
	return r
}

// Commit stages everything and commits it as author.
func (r *GitRepo) Commit(author, message string) {
	r.t.Helper()
	wt, err := r.repo.Worktree()
	if err != nil {
		r.t.Fatalf("Failed to open worktree: %v", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		r.t.Fatalf("Failed to stage changes: %v", err)
	}
	r.when = r.when.Add(time.Hour)
	_, err = wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: author, Email: author + "@example.com", When: r.when},
	})
	if err != nil {
		r.t.Fatalf("Failed to commit: %v", err)
	}
}

// Name implements Service.
func (r *GitRepo) Name() string { return "git-repo" }

// Start implements Service. It publishes the repository URL.
func (r *GitRepo) Start(context.Context, Properties) (Properties, error) {
	return Properties{PropRepoURL: r.URL()}, nil
}

// Stop implements Service.
func (r *GitRepo) Stop() error { return nil }
