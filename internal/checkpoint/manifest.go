package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sha1n/svn-river/internal/domain"
	"github.com/sha1n/svn-river/internal/filelock"
)

const (
	// ManifestVersion is the current schema version
	ManifestVersion = 1

	// ManifestFilename is the default manifest filename
	ManifestFilename = "manifest.json"
)

// Manifest stores the sync state of all identities.
type Manifest struct {
	Version  int                  `json:"version"`
	LastSync time.Time            `json:"last_sync"`
	Repos    map[string]RepoState `json:"repos"`
}

// RepoState is the sync state of one identity.
type RepoState struct {
	URL       string          `json:"url"`
	Path      string          `json:"path"`
	Revision  domain.Revision `json:"revision"`
	UpdatedAt time.Time       `json:"updated_at"`
	Error     string          `json:"error,omitempty"`
}

// NewManifest creates a new empty manifest.
func NewManifest() *Manifest {
	return &Manifest{
		Version: ManifestVersion,
		Repos:   make(map[string]RepoState),
	}
}

// LoadManifest reads a manifest from disk, or creates a new one if it doesn't exist.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewManifest(), nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if manifest.Repos == nil {
		manifest.Repos = make(map[string]RepoState)
	}
	return &manifest, nil
}

// Save writes the manifest to disk through a temp file and a rename.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename manifest file: %w", err)
	}
	return nil
}

// ManifestLockTimeout bounds the wait for the manifest write lock.
const ManifestLockTimeout = 10 * time.Second

// ManifestStore keeps checkpoints in a JSON manifest file shared by every
// process using the same base directory. Reads go to disk, so a checkpoint
// written by another process is seen on the next Get. Writes reload the file
// and rewrite it under a file lock, keeping other identities' states intact.
type ManifestStore struct {
	path string
	lock *filelock.FileLock

	mu       sync.Mutex
	manifest *Manifest
}

// NewManifestStore loads or creates the manifest at path.
func NewManifestStore(path string) (*ManifestStore, error) {
	manifest, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return &ManifestStore{
		path:     path,
		lock:     filelock.New(path + ".lock"),
		manifest: manifest,
	}, nil
}

// Get returns the checkpoint of an identity, 0 when absent.
func (s *ManifestStore) Get(_ context.Context, identity domain.Identity) (domain.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reload(); err != nil {
		return 0, err
	}
	return s.manifest.Repos[identity.ID].Revision, nil
}

// Set stores the checkpoint of an identity and clears its error.
func (s *ManifestStore) Set(ctx context.Context, identity domain.Identity, rev domain.Revision) error {
	if err := validate(rev); err != nil {
		return err
	}

	return s.update(ctx, func(m *Manifest) bool {
		now := time.Now().UTC()
		m.Repos[identity.ID] = RepoState{
			URL:       identity.URL,
			Path:      identity.Path,
			Revision:  rev,
			UpdatedAt: now,
		}
		m.LastSync = now
		return true
	})
}

// RecordError stores the last error of an identity without touching its checkpoint.
func (s *ManifestStore) RecordError(identity domain.Identity, tickErr error) error {
	return s.update(context.Background(), func(m *Manifest) bool {
		prev, ok := m.Repos[identity.ID]
		state := prev
		state.URL = identity.URL
		state.Path = identity.Path
		state.Error = ""
		if tickErr != nil {
			state.Error = tickErr.Error()
		}
		if ok && prev.Error == state.Error {
			return false
		}
		m.Repos[identity.ID] = state
		return true
	})
}

// States returns a copy of every stored state keyed by identity ID.
func (s *ManifestStore) States() map[string]RepoState {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.reload()
	return maps.Clone(s.manifest.Repos)
}

// Close is a no-op: every change is already on disk.
func (s *ManifestStore) Close() error {
	return nil
}

// update applies fn to the manifest on disk and saves it when fn reports a change.
func (s *ManifestStore) update(ctx context.Context, fn func(*Manifest) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.LockWithContext(ctx, ManifestLockTimeout); err != nil {
		return fmt.Errorf("failed to lock manifest: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	if err := s.reload(); err != nil {
		return err
	}
	if !fn(s.manifest) {
		return nil
	}
	return s.manifest.Save(s.path)
}

func (s *ManifestStore) reload() error {
	manifest, err := LoadManifest(s.path)
	if err != nil {
		return err
	}
	s.manifest = manifest
	return nil
}
