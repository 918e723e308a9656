package revsource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sha1n/svn-river/internal/domain"
)

// gitFixture is a local repository driven through go-git worktree commits.
type gitFixture struct {
	t    *testing.T
	dir  string
	repo *git.Repository
	when time.Time
}

func newGitFixture(t *testing.T) *gitFixture {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit() error = %v", err)
	}
	return &gitFixture{t: t, dir: dir, repo: repo, when: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *gitFixture) write(path, content string) {
	f.t.Helper()
	full := filepath.Join(f.dir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		f.t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		f.t.Fatalf("WriteFile() error = %v", err)
	}
}

func (f *gitFixture) remove(path string) {
	f.t.Helper()
	wt, err := f.repo.Worktree()
	if err != nil {
		f.t.Fatalf("Worktree() error = %v", err)
	}
	if _, err := wt.Remove(path); err != nil {
		f.t.Fatalf("Remove() error = %v", err)
	}
}

func (f *gitFixture) commit(message string) {
	f.t.Helper()
	wt, err := f.repo.Worktree()
	if err != nil {
		f.t.Fatalf("Worktree() error = %v", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		f.t.Fatalf("Add() error = %v", err)
	}
	f.when = f.when.Add(time.Hour)
	_, err = wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "jdoe", Email: "jdoe@example.com", When: f.when},
	})
	if err != nil {
		f.t.Fatalf("Commit() error = %v", err)
	}
}

func (f *gitFixture) source(path string) *GitSource {
	f.t.Helper()
	src, err := NewGitSource(Options{URL: "git+file://" + f.dir, Path: path})
	if err != nil {
		f.t.Fatalf("NewGitSource() error = %v", err)
	}
	return src
}

func TestGitSource_History(t *testing.T) {
	f := newGitFixture(t)
	f.write("module1/a.txt", "alpha")
	f.write("module2/b.txt", "beta")
	f.commit("initial")
	f.write("module1/a.txt", "alpha v2")
	f.commit("edit a")
	f.remove("module2/b.txt")
	f.commit("drop b")

	src := f.source("/")
	ctx := context.Background()

	head, err := src.LatestRevision(ctx)
	if err != nil {
		t.Fatalf("LatestRevision() error = %v", err)
	}
	if head != 3 {
		t.Fatalf("LatestRevision() = %d, want 3", head)
	}

	first, err := src.ChangedPaths(ctx, 1)
	if err != nil {
		t.Fatalf("ChangedPaths(1) error = %v", err)
	}
	if len(first.Changes) != 2 {
		t.Fatalf("revision 1 changes = %+v, want 2 additions", first.Changes)
	}
	for _, c := range first.Changes {
		if c.Kind != domain.ChangeAdded {
			t.Errorf("revision 1 entry %s kind = %s, want A", c.Path, c.Kind)
		}
	}
	if first.Author != "jdoe" || first.Message != "initial" {
		t.Errorf("revision 1 metadata = %+v", first)
	}

	second, err := src.ChangedPaths(ctx, 2)
	if err != nil {
		t.Fatalf("ChangedPaths(2) error = %v", err)
	}
	if len(second.Changes) != 1 || second.Changes[0] != (domain.ChangeEntry{Path: "/module1/a.txt", Kind: domain.ChangeModified}) {
		t.Errorf("revision 2 changes = %+v", second.Changes)
	}

	third, err := src.ChangedPaths(ctx, 3)
	if err != nil {
		t.Fatalf("ChangedPaths(3) error = %v", err)
	}
	if len(third.Changes) != 1 || third.Changes[0].Kind != domain.ChangeDeleted {
		t.Errorf("revision 3 changes = %+v", third.Changes)
	}

	if _, err := src.ChangedPaths(ctx, 4); !errors.Is(err, ErrRevisionNotFound) {
		t.Errorf("ChangedPaths(4) error = %v, want ErrRevisionNotFound", err)
	}
}

func TestGitSource_ScopedChanges(t *testing.T) {
	f := newGitFixture(t)
	f.write("module1/a.txt", "alpha")
	f.write("module2/b.txt", "beta")
	f.commit("initial")
	f.write("module2/b.txt", "beta v2")
	f.commit("only module2")

	src := f.source("module1")
	ctx := context.Background()

	if _, err := src.LatestRevision(ctx); err != nil {
		t.Fatalf("LatestRevision() error = %v", err)
	}
	commit, err := src.ChangedPaths(ctx, 2)
	if err != nil {
		t.Fatalf("ChangedPaths() error = %v", err)
	}
	if len(commit.Changes) != 0 {
		t.Errorf("changes outside module1 leaked: %+v", commit.Changes)
	}

	commits, err := FetchWindow(ctx, src, 1, 2)
	if err != nil {
		t.Fatalf("FetchWindow() error = %v", err)
	}
	if len(commits) != 1 || commits[0].Revision != 1 {
		t.Errorf("FetchWindow() = %+v, want only revision 1", commits)
	}
}

func TestGitSource_MissingScope(t *testing.T) {
	f := newGitFixture(t)
	f.write("module1/a.txt", "alpha")
	f.commit("initial")

	_, err := f.source("nope").LatestRevision(context.Background())
	if !errors.Is(err, ErrPathNotFound) {
		t.Errorf("LatestRevision() error = %v, want ErrPathNotFound", err)
	}
}

func TestGitSource_StatAndRead(t *testing.T) {
	f := newGitFixture(t)
	f.write("module1/a.txt", "alpha")
	f.write("module1/bin.dat", "\x00\x01\x02\x03")
	f.commit("initial")

	src := f.source("/")
	ctx := context.Background()
	if _, err := src.LatestRevision(ctx); err != nil {
		t.Fatalf("LatestRevision() error = %v", err)
	}

	info, err := src.Stat(ctx, "/module1/a.txt", 1)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Kind != KindFile || info.Size != 5 {
		t.Errorf("Stat(file) = %+v", info)
	}

	dir, err := src.Stat(ctx, "/module1", 1)
	if err != nil {
		t.Fatalf("Stat(dir) error = %v", err)
	}
	if dir.Kind != KindDir {
		t.Errorf("Stat(dir) kind = %s, want dir", dir.Kind)
	}

	if _, err := src.Stat(ctx, "/module1/missing.txt", 1); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Stat(missing) error = %v, want ErrEntryNotFound", err)
	}

	content, hint, err := src.ReadEntry(ctx, "/module1/a.txt", 1)
	if err != nil {
		t.Fatalf("ReadEntry() error = %v", err)
	}
	if string(content) != "alpha" || hint != "" {
		t.Errorf("ReadEntry() = %q, %q", content, hint)
	}

	_, hint, err = src.ReadEntry(ctx, "/module1/bin.dat", 1)
	if err != nil {
		t.Fatalf("ReadEntry(binary) error = %v", err)
	}
	if hint != "application/octet-stream" {
		t.Errorf("binary hint = %q", hint)
	}
}

func TestGitSource_Unreachable(t *testing.T) {
	src, err := NewGitSource(Options{URL: "git+file://" + filepath.Join(t.TempDir(), "missing")})
	if err != nil {
		t.Fatalf("NewGitSource() error = %v", err)
	}
	if _, err := src.LatestRevision(context.Background()); !errors.Is(err, ErrRepositoryUnreachable) {
		t.Errorf("LatestRevision() error = %v, want ErrRepositoryUnreachable", err)
	}
}
