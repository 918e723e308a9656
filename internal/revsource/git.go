package revsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"github.com/sha1n/svn-river/internal/domain"
)

// GitSource exposes the first-parent history of a git repository's HEAD as
// numbered revisions: the root commit is revision 1, HEAD is the latest.
// History rewrites are not supported.
type GitSource struct {
	url    string
	scope  string
	remote bool
	auth   transport.AuthMethod

	mu      sync.Mutex
	repo    *git.Repository
	head    plumbing.Hash
	history []plumbing.Hash
}

// NewGitSource creates a source for a git URL. "git+file://" URLs open a local
// repository, other URLs are cloned in memory and fetched on every
// LatestRevision call.
func NewGitSource(opts Options) (*GitSource, error) {
	raw := strings.TrimSpace(opts.URL)
	if raw == "" {
		return nil, fmt.Errorf("repository URL cannot be empty")
	}

	src := &GitSource{scope: domain.NormalizePath(opts.Path)}
	switch {
	case strings.HasPrefix(raw, "git+file://"):
		src.url = strings.TrimPrefix(raw, "git+file://")
	case strings.HasPrefix(raw, "git+"):
		src.url = strings.TrimPrefix(raw, "git+")
		src.remote = true
	default:
		src.url = raw
		src.remote = true
	}
	if opts.Login != "" {
		src.auth = &http.BasicAuth{Username: opts.Login, Password: opts.Password}
	}
	return src, nil
}

// LatestRevision refreshes the repository and returns the number of
// first-parent commits of HEAD.
func (g *GitSource) LatestRevision(ctx context.Context) (domain.Revision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.open(ctx); err != nil {
		return 0, err
	}
	if err := g.refresh(ctx); err != nil {
		return 0, err
	}
	if len(g.history) == 0 {
		return 0, fmt.Errorf("%s has no commits: %w", g.url, ErrPathNotFound)
	}

	if g.scope != "/" {
		tree, err := g.treeAt(domain.Revision(len(g.history)))
		if err != nil {
			return 0, err
		}
		if _, err := tree.FindEntry(strings.TrimPrefix(g.scope, "/")); err != nil {
			return 0, fmt.Errorf("%s at HEAD: %w", g.scope, ErrPathNotFound)
		}
	}

	return domain.Revision(len(g.history)), nil
}

// ChangedPaths diffs a revision against its first parent.
func (g *GitSource) ChangedPaths(ctx context.Context, rev domain.Revision) (domain.Commit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	commit, err := g.commitAt(rev)
	if err != nil {
		return domain.Commit{}, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return domain.Commit{}, fmt.Errorf("revision %d tree: %w", rev, err)
	}

	var parent *object.Tree
	if rev > 1 {
		parent, err = g.treeAt(rev - 1)
		if err != nil {
			return domain.Commit{}, err
		}
	}

	changes, err := object.DiffTreeWithOptions(ctx, parent, tree, nil)
	if err != nil {
		return domain.Commit{}, fmt.Errorf("revision %d diff: %w", rev, err)
	}

	result := domain.Commit{
		Revision: rev,
		Author:   commit.Author.Name,
		Date:     commit.Author.When.UTC(),
		Message:  strings.TrimSpace(commit.Message),
	}
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return domain.Commit{}, fmt.Errorf("revision %d change: %w", rev, err)
		}
		var entry domain.ChangeEntry
		switch action {
		case merkletrie.Insert:
			entry = domain.ChangeEntry{Path: "/" + change.To.Name, Kind: domain.ChangeAdded}
		case merkletrie.Delete:
			entry = domain.ChangeEntry{Path: "/" + change.From.Name, Kind: domain.ChangeDeleted}
		case merkletrie.Modify:
			entry = domain.ChangeEntry{Path: "/" + change.To.Name, Kind: domain.ChangeModified}
		default:
			continue
		}
		if inScope(g.scope, entry.Path) {
			result.Changes = append(result.Changes, entry)
		}
	}
	return result, nil
}

// Stat returns the kind and size of a path at a revision.
func (g *GitSource) Stat(_ context.Context, path string, rev domain.Revision) (EntryInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tree, err := g.treeAt(rev)
	if err != nil {
		return EntryInfo{}, err
	}
	name := strings.TrimPrefix(path, "/")

	file, err := tree.File(name)
	if err == nil {
		return EntryInfo{Kind: KindFile, Size: file.Size}, nil
	}
	if _, dirErr := tree.Tree(name); dirErr == nil {
		return EntryInfo{Kind: KindDir}, nil
	}
	return EntryInfo{}, fmt.Errorf("%s@%d: %w", path, rev, ErrEntryNotFound)
}

// ReadEntry returns a file's content. The hint is "application/octet-stream"
// for blobs git considers binary.
func (g *GitSource) ReadEntry(_ context.Context, path string, rev domain.Revision) ([]byte, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tree, err := g.treeAt(rev)
	if err != nil {
		return nil, "", err
	}
	file, err := tree.File(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, "", fmt.Errorf("%s@%d: %w", path, rev, ErrEntryNotFound)
	}

	reader, err := file.Reader()
	if err != nil {
		return nil, "", fmt.Errorf("%s@%d: %w", path, rev, err)
	}
	defer func() { _ = reader.Close() }()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("%s@%d: %w", path, rev, err)
	}

	hint := ""
	if binary, err := file.IsBinary(); err == nil && binary {
		hint = "application/octet-stream"
	}
	return content, hint, nil
}

// open opens or clones the repository once.
func (g *GitSource) open(ctx context.Context) error {
	if g.repo != nil {
		return nil
	}

	var (
		repo *git.Repository
		err  error
	)
	if g.remote {
		repo, err = git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
			URL:  g.url,
			Auth: g.auth,
		})
	} else {
		repo, err = git.PlainOpen(g.url)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRepositoryUnreachable, g.url, err)
	}
	g.repo = repo
	return nil
}

// refresh fetches remote updates and rebuilds the first-parent history when HEAD moved.
func (g *GitSource) refresh(ctx context.Context) error {
	ref, err := g.repo.Head()
	if err != nil {
		return fmt.Errorf("%w: resolve HEAD: %v", ErrRepositoryUnreachable, err)
	}

	if g.remote {
		err := g.repo.FetchContext(ctx, &git.FetchOptions{Auth: g.auth})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("%w: fetch: %v", ErrRepositoryUnreachable, err)
		}
		remoteRef, err := g.repo.Reference(plumbing.NewRemoteReferenceName("origin", ref.Name().Short()), true)
		if err == nil {
			ref = remoteRef
		}
	}

	if ref.Hash() == g.head && g.history != nil {
		return nil
	}

	var history []plumbing.Hash
	hash := ref.Hash()
	for {
		commit, err := g.repo.CommitObject(hash)
		if err != nil {
			return fmt.Errorf("%w: commit %s: %v", ErrRepositoryUnreachable, hash, err)
		}
		history = append(history, hash)
		if len(commit.ParentHashes) == 0 {
			break
		}
		hash = commit.ParentHashes[0]
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	g.head = ref.Hash()
	g.history = history
	return nil
}

func (g *GitSource) commitAt(rev domain.Revision) (*object.Commit, error) {
	if g.repo == nil || rev < 1 || rev > domain.Revision(len(g.history)) {
		return nil, fmt.Errorf("revision %d: %w", rev, ErrRevisionNotFound)
	}
	commit, err := g.repo.CommitObject(g.history[rev-1])
	if err != nil {
		return nil, fmt.Errorf("revision %d: %w", rev, err)
	}
	return commit, nil
}

func (g *GitSource) treeAt(rev domain.Revision) (*object.Tree, error) {
	commit, err := g.commitAt(rev)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("revision %d tree: %w", rev, err)
	}
	return tree, nil
}
