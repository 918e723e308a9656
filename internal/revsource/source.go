// Package revsource provides read-only access to the revision history of a
// repository: the latest revision, the change set of a revision, and the
// content of an entry at a revision.
package revsource

import (
	"context"
	"errors"
	"fmt"

	"github.com/sha1n/svn-river/internal/domain"
)

var (
	// ErrRepositoryUnreachable indicates a transport failure. Transient: retried next tick.
	ErrRepositoryUnreachable = errors.New("repository unreachable")

	// ErrPathNotFound indicates the watched sub-path does not exist at HEAD.
	ErrPathNotFound = errors.New("path not found")

	// ErrRevisionNotFound indicates a revision outside the repository's range.
	ErrRevisionNotFound = errors.New("revision not found")

	// ErrEntryNotFound indicates a path@revision that does not resolve to a file.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrUnsupportedScheme indicates no source is registered for a URL scheme.
	ErrUnsupportedScheme = errors.New("unsupported repository scheme")
)

// EntryKind is the node kind of a repository entry.
type EntryKind string

const (
	KindFile EntryKind = "file"
	KindDir  EntryKind = "dir"
)

// EntryInfo is the metadata of an entry at a revision.
type EntryInfo struct {
	Kind EntryKind
	Size int64
}

// Source is read-only access to a repository's revision history, scoped to a
// watched sub-path.
type Source interface {
	// LatestRevision returns the latest revision of the watched sub-path.
	LatestRevision(ctx context.Context) (domain.Revision, error)

	// ChangedPaths returns the log entry of a revision with its changed paths,
	// in the order reported by the repository, limited to the watched sub-path.
	ChangedPaths(ctx context.Context, rev domain.Revision) (domain.Commit, error)

	// Stat returns the metadata of a root-relative path at a revision.
	Stat(ctx context.Context, path string, rev domain.Revision) (EntryInfo, error)

	// ReadEntry returns the content of a file at a revision and a content type
	// hint (a MIME type, or "" when the repository does not know).
	ReadEntry(ctx context.Context, path string, rev domain.Revision) ([]byte, string, error)
}

// WindowLister is implemented by sources that can list a whole revision range
// in one round trip.
type WindowLister interface {
	// Log returns the commits in [from, to] that touched the watched sub-path,
	// in increasing revision order.
	Log(ctx context.Context, from, to domain.Revision) ([]domain.Commit, error)
}

// Options configures a source.
type Options struct {
	// URL is the repository URL.
	URL string
	// Path is the watched sub-path below URL.
	Path     string
	Login    string
	Password string
	// Executor runs external commands. Nil means the default executor.
	Executor CommandExecutor
}

// FetchWindow returns the commits of [from, to] that touched the watched
// sub-path. Sources implementing WindowLister answer in one call; otherwise
// revisions are fetched one by one and the context is checked between them.
func FetchWindow(ctx context.Context, src Source, from, to domain.Revision) ([]domain.Commit, error) {
	if from > to {
		return nil, nil
	}
	if lister, ok := src.(WindowLister); ok {
		return lister.Log(ctx, from, to)
	}

	commits := make([]domain.Commit, 0, to-from+1)
	for rev := from; rev <= to; rev++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		commit, err := src.ChangedPaths(ctx, rev)
		if err != nil {
			return nil, fmt.Errorf("revision %d: %w", rev, err)
		}
		if len(commit.Changes) == 0 {
			continue
		}
		commits = append(commits, commit)
	}
	return commits, nil
}

// inScope reports whether a root-relative path lies below the scope path.
func inScope(scope, path string) bool {
	if scope == "/" || scope == "" {
		return true
	}
	return path == scope || len(path) > len(scope) && path[:len(scope)] == scope && path[len(scope)] == '/'
}
