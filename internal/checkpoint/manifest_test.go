package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sha1n/svn-river/internal/domain"
	"github.com/sha1n/svn-river/internal/filelock"
)

func TestNewManifest(t *testing.T) {
	m := NewManifest()

	if m.Version != ManifestVersion {
		t.Errorf("Version = %d, want %d", m.Version, ManifestVersion)
	}
	if m.Repos == nil {
		t.Error("Repos should be initialized")
	}
}

func TestLoadManifest_NewFile(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "nonexistent.json"))
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if len(m.Repos) != 0 {
		t.Errorf("Expected empty repos, got %d", len(m.Repos))
	}
}

func TestLoadManifest_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := LoadManifest(path); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestLoadManifest_NilRepos(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte(`{"version": 1}`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if m.Repos == nil {
		t.Error("Repos should be initialized even if missing from JSON")
	}
}

func TestManifest_Save_CreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "manifest.json")
	if err := NewManifest().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Manifest file should exist: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file should not exist after save")
	}
}

func TestManifestStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFilename)
	identity := domain.NewIdentity("svn://example.com/repos", "/module1")

	store, err := NewManifestStore(path)
	if err != nil {
		t.Fatalf("NewManifestStore failed: %v", err)
	}
	if err := store.Set(context.Background(), identity, 42); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reopened, err := NewManifestStore(path)
	if err != nil {
		t.Fatalf("NewManifestStore failed: %v", err)
	}
	rev, err := reopened.Get(context.Background(), identity)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rev != 42 {
		t.Errorf("Get() = %d, want 42", rev)
	}

	state := reopened.States()[identity.ID]
	if state.URL != "svn://example.com/repos" || state.Path != "/module1" {
		t.Errorf("state = %+v", state)
	}
	if state.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}
}

func TestManifestStore_RecordError(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFilename)
	identity := domain.NewIdentity("svn://example.com/repos", "/")
	ctx := context.Background()

	store, err := NewManifestStore(path)
	if err != nil {
		t.Fatalf("NewManifestStore failed: %v", err)
	}
	if err := store.Set(ctx, identity, 5); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.RecordError(identity, errors.New("repository unreachable")); err != nil {
		t.Fatalf("RecordError failed: %v", err)
	}

	state := store.States()[identity.ID]
	if state.Error != "repository unreachable" {
		t.Errorf("Error = %q", state.Error)
	}
	if state.Revision != 5 {
		t.Errorf("RecordError changed the checkpoint to %d", state.Revision)
	}

	if err := store.Set(ctx, identity, 6); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if state := store.States()[identity.ID]; state.Error != "" {
		t.Errorf("Set should clear the error, got %q", state.Error)
	}
}

func TestManifestStore_LoadError(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFilename)
	if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := NewManifestStore(path); err == nil {
		t.Error("Expected error for a corrupt manifest")
	}
}

func TestManifestStore_SeesExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFilename)
	trunk := domain.NewIdentity("svn://example.com/repos", "/trunk")
	branch := domain.NewIdentity("svn://example.com/repos", "/branches/b")
	ctx := context.Background()

	running, err := NewManifestStore(path)
	if err != nil {
		t.Fatalf("NewManifestStore failed: %v", err)
	}
	if err := running.Set(ctx, trunk, 50); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	operator, err := NewManifestStore(path)
	if err != nil {
		t.Fatalf("NewManifestStore failed: %v", err)
	}
	if err := operator.Set(ctx, trunk, 10); err != nil {
		t.Fatalf("operator Set failed: %v", err)
	}

	if rev, err := running.Get(ctx, trunk); err != nil || rev != 10 {
		t.Errorf("Get() = %d, %v, want the operator's 10", rev, err)
	}

	if err := running.Set(ctx, branch, 7); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := running.RecordError(branch, errors.New("boom")); err != nil {
		t.Fatalf("RecordError failed: %v", err)
	}

	onDisk, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if got := onDisk.Repos[trunk.ID].Revision; got != 10 {
		t.Errorf("trunk on disk = %d, want 10 kept across other writes", got)
	}
	if got := onDisk.Repos[branch.ID]; got.Revision != 7 || got.Error != "boom" {
		t.Errorf("branch on disk = %+v", got)
	}
}

func TestManifestStore_SetWaitsForWriteLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFilename)
	identity := domain.NewIdentity("svn://example.com/repos", "/")

	store, err := NewManifestStore(path)
	if err != nil {
		t.Fatalf("NewManifestStore failed: %v", err)
	}

	holder := filelock.New(path + ".lock")
	if ok, err := holder.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	defer func() { _ = holder.Unlock() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := store.Set(ctx, identity, 3); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Set() error = %v, want context.DeadlineExceeded", err)
	}
}
