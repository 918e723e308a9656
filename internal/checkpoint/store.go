// Package checkpoint persists the last fully processed revision of every
// synchronized identity.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sha1n/svn-river/internal/domain"
	"github.com/sha1n/svn-river/internal/sink"
)

// Backend names.
const (
	BackendManifest = "manifest"
	BackendBadger   = "badger"
	BackendIndex    = "index"
	BackendMemory   = "memory"
)

// ErrInvalidRevision indicates an attempt to store a negative revision.
var ErrInvalidRevision = errors.New("invalid checkpoint revision")

// Store reads and writes checkpoints. Get returns 0 for an identity that was
// never checkpointed. Set stores the value as given: lowering a checkpoint is
// how an operator triggers a re-sync.
type Store interface {
	Get(ctx context.Context, identity domain.Identity) (domain.Revision, error)
	Set(ctx context.Context, identity domain.Identity, rev domain.Revision) error
	Close() error
}

// Open creates the store of a backend below baseDir. The index backend keeps
// checkpoints inside the identities' own indexes.
func Open(backend, baseDir string, indexer *sink.Indexer) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendManifest, "":
		return NewManifestStore(filepath.Join(baseDir, ManifestFilename))
	case BackendBadger:
		return OpenBadgerStore(filepath.Join(baseDir, "checkpoints"))
	case BackendIndex:
		if indexer == nil {
			return nil, fmt.Errorf("index checkpoint backend requires an indexer")
		}
		return NewIndexStore(indexer), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", backend)
	}
}

// Shared reports whether a backend can be written by another process while a
// river runs. The other backends are held open by the running river.
func Shared(backend string) bool {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendManifest, "":
		return true
	default:
		return false
	}
}

func validate(rev domain.Revision) error {
	if rev < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRevision, rev)
	}
	return nil
}
