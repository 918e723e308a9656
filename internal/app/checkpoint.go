package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sha1n/svn-river/internal/checkpoint"
	"github.com/sha1n/svn-river/internal/config"
	"github.com/sha1n/svn-river/internal/domain"
	"github.com/sha1n/svn-river/internal/river"
	"github.com/sha1n/svn-river/internal/sink"
)

var (
	// ErrNoSuchRepository indicates a repository filter that matches no configured source.
	ErrNoSuchRepository = errors.New("no configured repository matches")

	// ErrRiverRunning indicates a checkpoint backend held open by a running river.
	ErrRiverRunning = errors.New("a running river holds the checkpoint; stop it first")
)

// CheckpointAdmin reads and overrides the checkpoints of the configured sources.
type CheckpointAdmin struct {
	settings *config.RiverSettings
	indexer  *sink.Indexer
	store    checkpoint.Store
}

// OpenCheckpointAdmin opens the checkpoint store of the settings.
func OpenCheckpointAdmin(settings *config.RiverSettings) (*CheckpointAdmin, error) {
	indexer := sink.NewIndexer(settings.BaseDir)
	store, err := checkpoint.Open(settings.CheckpointBackend, settings.BaseDir, indexer)
	if err != nil {
		_ = indexer.Close()
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	return &CheckpointAdmin{settings: settings, indexer: indexer, store: store}, nil
}

// Close releases the store and any index it opened.
func (a *CheckpointAdmin) Close() error {
	return errors.Join(a.store.Close(), a.indexer.Close())
}

// Select returns the identities matching repository: an identity ID, its
// display form or its URL. The empty filter matches every source.
func (a *CheckpointAdmin) Select(repository string) ([]domain.Identity, error) {
	repository = strings.TrimRight(strings.TrimSpace(repository), "/")

	var matched []domain.Identity
	for _, src := range a.settings.Sources {
		id := src.Identity()
		if repository == "" || id.ID == repository || id.Display() == repository || id.URL == repository {
			matched = append(matched, id)
		}
	}
	if len(matched) == 0 {
		if repository == "" {
			return nil, errors.New("no repository sources configured")
		}
		return nil, fmt.Errorf("%w: %s", ErrNoSuchRepository, repository)
	}
	return matched, nil
}

// Print writes the checkpoint of every matching identity.
func (a *CheckpointAdmin) Print(ctx context.Context, out io.Writer, repository string) error {
	identities, err := a.Select(repository)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREPOSITORY\tCHECKPOINT")
	for _, id := range identities {
		var rev domain.Revision
		err := a.withStore(id, func() (err error) {
			rev, err = a.store.Get(ctx, id)
			return err
		})
		if err != nil {
			return fmt.Errorf("%s: %w", id.Display(), err)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", id.ID, id.Display(), rev)
	}
	return w.Flush()
}

// Set overrides the checkpoint of exactly one identity. With the manifest
// backend the value is written while the river runs and its next tick starts
// from there; the other backends require the river to be stopped. Lowering
// the checkpoint makes the river re-sync from there.
func (a *CheckpointAdmin) Set(ctx context.Context, repository string, rev domain.Revision) (domain.Identity, error) {
	identities, err := a.Select(repository)
	if err != nil {
		return domain.Identity{}, err
	}
	if len(identities) > 1 {
		names := make([]string, len(identities))
		for i, id := range identities {
			names[i] = id.Display()
		}
		return domain.Identity{}, fmt.Errorf("several repositories match, choose one of: %s", strings.Join(names, ", "))
	}
	identity := identities[0]

	err = a.withStore(identity, func() error {
		return a.store.Set(ctx, identity, rev)
	})
	if err != nil {
		return identity, fmt.Errorf("%s: %w", identity.Display(), err)
	}
	return identity, nil
}

// withStore runs fn against the store. Backends a river holds open are only
// touched while the identity's lock is free, and the lock is kept meanwhile.
func (a *CheckpointAdmin) withStore(identity domain.Identity, fn func() error) error {
	if checkpoint.Shared(a.settings.CheckpointBackend) {
		return fn()
	}

	lock := river.IdentityLock(a.settings.BaseDir, identity)
	acquired, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !acquired {
		return ErrRiverRunning
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}
