package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/sha1n/svn-river/internal/domain"
	"github.com/sha1n/svn-river/internal/sink"
)

func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"manifest": func() Store {
			s, err := NewManifestStore(filepath.Join(t.TempDir(), ManifestFilename))
			if err != nil {
				t.Fatalf("NewManifestStore failed: %v", err)
			}
			return s
		},
		"badger": func() Store {
			db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
			if err != nil {
				t.Fatalf("badger.Open failed: %v", err)
			}
			t.Cleanup(func() { _ = db.Close() })
			return NewBadgerStore(db)
		},
		"index": func() Store {
			indexer := sink.NewIndexer(t.TempDir())
			t.Cleanup(func() { _ = indexer.Close() })
			return NewIndexStore(indexer)
		},
		"memory": func() Store {
			return NewMemoryStore()
		},
	}
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()
	first := domain.NewIdentity("svn://example.com/repos", "/module1")
	second := domain.NewIdentity("svn://example.com/repos", "/module2")

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory()
			defer func() { _ = store.Close() }()

			rev, err := store.Get(ctx, first)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if rev != domain.NotIndexedRevision {
				t.Errorf("Get() = %d for a new identity, want 0", rev)
			}

			if err := store.Set(ctx, first, 7); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if rev, _ := store.Get(ctx, first); rev != 7 {
				t.Errorf("Get() = %d, want 7", rev)
			}
			if rev, _ := store.Get(ctx, second); rev != 0 {
				t.Errorf("Get(other identity) = %d, want 0", rev)
			}

			// operator reset
			if err := store.Set(ctx, first, 2); err != nil {
				t.Fatalf("Set(lower) failed: %v", err)
			}
			if rev, _ := store.Get(ctx, first); rev != 2 {
				t.Errorf("Get() after reset = %d, want 2", rev)
			}

			if err := store.Set(ctx, first, -1); !errors.Is(err, ErrInvalidRevision) {
				t.Errorf("Set(-1) error = %v, want ErrInvalidRevision", err)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	indexer := sink.NewIndexer(dir)
	defer func() { _ = indexer.Close() }()

	tests := []struct {
		backend string
		want    string
		wantErr bool
	}{
		{"", "*checkpoint.ManifestStore", false},
		{"manifest", "*checkpoint.ManifestStore", false},
		{"BADGER", "*checkpoint.BadgerStore", false},
		{"index", "*checkpoint.IndexStore", false},
		{"memory", "*checkpoint.MemoryStore", false},
		{"redis", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			store, err := Open(tt.backend, filepath.Join(dir, tt.backend), indexer)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open(%q) error = %v, wantErr %v", tt.backend, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer func() { _ = store.Close() }()
			if got := typeName(store); got != tt.want {
				t.Errorf("Open(%q) = %s, want %s", tt.backend, got, tt.want)
			}
		})
	}

	if _, err := Open(BackendIndex, dir, nil); err == nil {
		t.Error("Open(index) without indexer should fail")
	}
}

func typeName(s Store) string {
	switch s.(type) {
	case *ManifestStore:
		return "*checkpoint.ManifestStore"
	case *BadgerStore:
		return "*checkpoint.BadgerStore"
	case *IndexStore:
		return "*checkpoint.IndexStore"
	case *MemoryStore:
		return "*checkpoint.MemoryStore"
	default:
		return "unknown"
	}
}

func TestMemoryStore_History(t *testing.T) {
	store := NewMemoryStore()
	identity := domain.NewIdentity("mem://repo", "/")
	for _, rev := range []domain.Revision{3, 5, 9} {
		if err := store.Set(context.Background(), identity, rev); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	got := store.History(identity)
	if len(got) != 3 || got[0] != 3 || got[2] != 9 {
		t.Errorf("History() = %v", got)
	}
}

func TestShared(t *testing.T) {
	tests := []struct {
		backend string
		want    bool
	}{
		{"", true},
		{BackendManifest, true},
		{" Manifest ", true},
		{BackendBadger, false},
		{BackendIndex, false},
		{BackendMemory, false},
	}
	for _, tt := range tests {
		if got := Shared(tt.backend); got != tt.want {
			t.Errorf("Shared(%q) = %v, want %v", tt.backend, got, tt.want)
		}
	}
}
