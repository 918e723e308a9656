package sink

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/sha1n/svn-river/internal/domain"
)

func TestIndexer_Open_New(t *testing.T) {
	dir := t.TempDir()
	indexer := NewIndexer(dir)
	defer func() { _ = indexer.Close() }()

	if indexer.IndexExists("testrepo") {
		t.Error("IndexExists() = true before Open")
	}

	if _, err := indexer.Open("testrepo"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	indexPath := filepath.Join(dir, "indexes", "testrepo.bleve")
	if _, err := os.Stat(indexPath); err != nil {
		t.Errorf("Index directory should exist: %v", err)
	}
	if !indexer.IndexExists("testrepo") {
		t.Error("IndexExists() = false after Open")
	}
}

func TestIndexer_Open_Shared(t *testing.T) {
	indexer := NewIndexer(t.TempDir())
	defer func() { _ = indexer.Close() }()

	first, err := indexer.Open("testrepo")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	second, err := indexer.Open("testrepo")
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	if first != second {
		t.Error("Open should return the shared index")
	}
}

func TestIndexer_Reopen(t *testing.T) {
	dir := t.TempDir()
	indexer := NewIndexer(dir)

	index, err := indexer.Open("testrepo")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := index.Index("doc1", domain.CheckpointMarker{Type: domain.TypeCheckpoint, Repository: "testrepo", Revision: 3}); err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if err := indexer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := NewIndexer(dir)
	defer func() { _ = reopened.Close() }()
	count, err := reopened.DocumentCount("testrepo")
	if err != nil {
		t.Fatalf("DocumentCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("DocumentCount() = %d, want 1", count)
	}
}

func TestIndexer_DocumentCount_Missing(t *testing.T) {
	indexer := NewIndexer(t.TempDir())
	count, err := indexer.DocumentCount("nope")
	if err != nil || count != 0 {
		t.Errorf("DocumentCount() = %d, %v", count, err)
	}
}

func TestIndexer_Alias(t *testing.T) {
	indexer := NewIndexer(t.TempDir())
	defer func() { _ = indexer.Close() }()

	for _, id := range []string{"repo1", "repo2"} {
		index, err := indexer.Open(id)
		if err != nil {
			t.Fatalf("Open(%s) failed: %v", id, err)
		}
		doc := domain.Document{
			Type:       domain.TypeDocument,
			FullName:   "/trunk/readme.txt",
			Name:       "readme.txt",
			Repository: id,
			Revision:   1,
			Date:       time.Now(),
		}
		content := "hello from " + id
		doc.Content = &content
		if err := index.Index(doc.ID(), doc); err != nil {
			t.Fatalf("Index failed: %v", err)
		}
	}

	alias, err := indexer.Alias([]string{"repo1", "repo2", "missing"})
	if err != nil {
		t.Fatalf("Alias failed: %v", err)
	}

	result, err := alias.Search(bleve.NewSearchRequest(bleve.NewMatchQuery("hello")))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if result.Total != 2 {
		t.Errorf("Search total = %d, want 2", result.Total)
	}

	if _, err := indexer.Alias([]string{"missing"}); err == nil {
		t.Error("Alias() expected error without indexes")
	}
}

func TestIndexer_DeleteIndex(t *testing.T) {
	indexer := NewIndexer(t.TempDir())
	defer func() { _ = indexer.Close() }()

	if _, err := indexer.Open("testrepo"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := indexer.DeleteIndex("testrepo"); err != nil {
		t.Fatalf("DeleteIndex failed: %v", err)
	}
	if indexer.IndexExists("testrepo") {
		t.Error("IndexExists() = true after DeleteIndex")
	}
}
