package revsource

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/sha1n/svn-river/internal/domain"
)

// MemoryChange is one change applied by MemorySource.Commit.
type MemoryChange struct {
	Path               string
	Kind               domain.ChangeKind
	Content            []byte
	MimeType           string
	CopiedFromPath     string
	CopiedFromRevision domain.Revision
	// Dir records a directory change. Directories exist while files lie below them.
	Dir bool
}

type memoryFile struct {
	content  []byte
	mimeType string
}

// MemorySource is an in-memory repository with scripted history. It is used by
// tests and by the "mem" scheme in integration setups.
type MemorySource struct {
	mu        sync.Mutex
	scope     string
	commits   []domain.Commit
	snapshots []map[string]memoryFile

	latestErr error
	readErrs  map[string]error
	statCalls int
	readCalls int
}

// NewMemorySource creates an empty repository watched at path.
func NewMemorySource(path string) *MemorySource {
	return &MemorySource{
		scope:    domain.NormalizePath(path),
		readErrs: make(map[string]error),
	}
}

// Commit appends a revision and returns its number.
func (m *MemorySource) Commit(author, message string, date time.Time, changes ...MemoryChange) domain.Revision {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string]memoryFile)
	if n := len(m.snapshots); n > 0 {
		maps.Copy(snapshot, m.snapshots[n-1])
	}

	rev := domain.Revision(len(m.commits) + 1)
	commit := domain.Commit{Revision: rev, Author: author, Date: date, Message: message}
	for _, c := range changes {
		path := domain.NormalizePath(c.Path)
		switch {
		case c.Dir:
			// implied by the files below it
		case c.Kind.HasContent() || c.Kind == domain.ChangeReplaced:
			snapshot[path] = memoryFile{content: c.Content, mimeType: c.MimeType}
		case c.Kind == domain.ChangeDeleted:
			delete(snapshot, path)
		}
		commit.Changes = append(commit.Changes, domain.ChangeEntry{
			Path:               path,
			Kind:               c.Kind,
			CopiedFromPath:     c.CopiedFromPath,
			CopiedFromRevision: c.CopiedFromRevision,
		})
	}

	m.commits = append(m.commits, commit)
	m.snapshots = append(m.snapshots, snapshot)
	return rev
}

// FailLatest makes LatestRevision return err until cleared with nil.
func (m *MemorySource) FailLatest(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestErr = err
}

// FailRead makes ReadEntry of path return err until cleared with nil.
func (m *MemorySource) FailRead(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.readErrs, domain.NormalizePath(path))
		return
	}
	m.readErrs[domain.NormalizePath(path)] = err
}

// LatestRevision returns the number of committed revisions.
func (m *MemorySource) LatestRevision(_ context.Context) (domain.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latestErr != nil {
		return 0, m.latestErr
	}
	if m.scope != "/" && len(m.snapshots) > 0 && !m.existsLocked(m.scope, len(m.snapshots)) {
		return 0, fmt.Errorf("%s at HEAD: %w", m.scope, ErrPathNotFound)
	}
	return domain.Revision(len(m.commits)), nil
}

// ChangedPaths returns a revision's changes within the watched path.
func (m *MemorySource) ChangedPaths(_ context.Context, rev domain.Revision) (domain.Commit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rev < 1 || rev > domain.Revision(len(m.commits)) {
		return domain.Commit{}, fmt.Errorf("revision %d: %w", rev, ErrRevisionNotFound)
	}

	commit := m.commits[rev-1]
	scoped := commit
	scoped.Changes = nil
	for _, c := range commit.Changes {
		if inScope(m.scope, c.Path) {
			scoped.Changes = append(scoped.Changes, c)
		}
	}
	return scoped, nil
}

// Stat returns the kind and size of a path at a revision.
func (m *MemorySource) Stat(_ context.Context, path string, rev domain.Revision) (EntryInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statCalls++

	if rev < 1 || rev > domain.Revision(len(m.snapshots)) {
		return EntryInfo{}, fmt.Errorf("revision %d: %w", rev, ErrRevisionNotFound)
	}
	path = domain.NormalizePath(path)
	if file, ok := m.snapshots[rev-1][path]; ok {
		return EntryInfo{Kind: KindFile, Size: int64(len(file.content))}, nil
	}
	if m.existsLocked(path, int(rev)) {
		return EntryInfo{Kind: KindDir}, nil
	}
	return EntryInfo{}, fmt.Errorf("%s@%d: %w", path, rev, ErrEntryNotFound)
}

// ReadEntry returns the content and MIME type of a file at a revision.
func (m *MemorySource) ReadEntry(_ context.Context, path string, rev domain.Revision) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++

	path = domain.NormalizePath(path)
	if err, ok := m.readErrs[path]; ok {
		return nil, "", err
	}
	if rev < 1 || rev > domain.Revision(len(m.snapshots)) {
		return nil, "", fmt.Errorf("revision %d: %w", rev, ErrRevisionNotFound)
	}
	file, ok := m.snapshots[rev-1][path]
	if !ok {
		return nil, "", fmt.Errorf("%s@%d: %w", path, rev, ErrEntryNotFound)
	}
	return file.content, file.mimeType, nil
}

// Calls returns how many Stat and ReadEntry calls were made.
func (m *MemorySource) Calls() (stats, reads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statCalls, m.readCalls
}

// existsLocked reports whether path is a file or a directory holding files at rev.
func (m *MemorySource) existsLocked(path string, rev int) bool {
	snapshot := m.snapshots[rev-1]
	if _, ok := snapshot[path]; ok {
		return true
	}
	prefix := strings.TrimSuffix(path, "/") + "/"
	for p := range snapshot {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
