package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/sha1n/svn-river/internal/domain"
)

// IndexSuffix is the suffix for index directories
const IndexSuffix = ".bleve"

// Indexer manages one bleve index per identity. Indexes are opened once and
// shared between the writer and searchers until Close.
type Indexer struct {
	baseDir string

	mu      sync.Mutex
	indexes map[string]bleve.Index
}

// NewIndexer creates an indexer storing indexes below baseDir/indexes.
func NewIndexer(baseDir string) *Indexer {
	return &Indexer{
		baseDir: baseDir,
		indexes: make(map[string]bleve.Index),
	}
}

// indexPath returns the path to the index of an identity.
func (i *Indexer) indexPath(id string) string {
	return filepath.Join(i.baseDir, "indexes", id+IndexSuffix)
}

// CreateIndexMapping creates the mapping of the revision, document and
// checkpoint types, selected by the "type" field.
func CreateIndexMapping() mapping.IndexMapping {
	keywordField := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		return f
	}
	textField := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = standard.Name
		f.Store = true
		f.IncludeTermVectors = true
		return f
	}
	numericField := func() *mapping.FieldMapping {
		f := bleve.NewNumericFieldMapping()
		f.Store = true
		return f
	}
	dateField := func() *mapping.FieldMapping {
		f := bleve.NewDateTimeFieldMapping()
		f.Store = true
		return f
	}

	revisionMapping := bleve.NewDocumentMapping()
	revisionMapping.AddFieldMappingsAt(domain.FieldType, keywordField())
	revisionMapping.AddFieldMappingsAt(domain.FieldRepository, keywordField())
	revisionMapping.AddFieldMappingsAt(domain.FieldLocation, keywordField())
	revisionMapping.AddFieldMappingsAt(domain.FieldRevision, numericField())
	revisionMapping.AddFieldMappingsAt(domain.FieldAuthor, keywordField())
	revisionMapping.AddFieldMappingsAt(domain.FieldDate, dateField())
	revisionMapping.AddFieldMappingsAt(domain.FieldMessage, textField())

	documentMapping := bleve.NewDocumentMapping()
	documentMapping.AddFieldMappingsAt(domain.FieldType, keywordField())
	documentMapping.AddFieldMappingsAt(domain.FieldPath, keywordField())
	documentMapping.AddFieldMappingsAt(domain.FieldName, keywordField())
	documentMapping.AddFieldMappingsAt(domain.FieldFullName, keywordField())
	documentMapping.AddFieldMappingsAt(domain.FieldSize, numericField())
	documentMapping.AddFieldMappingsAt(domain.FieldChange, keywordField())
	documentMapping.AddFieldMappingsAt(domain.FieldContent, textField())
	documentMapping.AddFieldMappingsAt(domain.FieldLanguage, keywordField())
	documentMapping.AddFieldMappingsAt(domain.FieldSymbols, keywordField())
	documentMapping.AddFieldMappingsAt(domain.FieldOrigin, keywordField())
	documentMapping.AddFieldMappingsAt(domain.FieldFrom, numericField())
	documentMapping.AddFieldMappingsAt(domain.FieldAuthor, keywordField())
	documentMapping.AddFieldMappingsAt(domain.FieldRepository, keywordField())
	documentMapping.AddFieldMappingsAt(domain.FieldRevision, numericField())
	documentMapping.AddFieldMappingsAt(domain.FieldDate, dateField())
	documentMapping.AddFieldMappingsAt(domain.FieldMessage, textField())

	checkpointMapping := bleve.NewDocumentMapping()
	checkpointMapping.AddFieldMappingsAt(domain.FieldType, keywordField())
	checkpointMapping.AddFieldMappingsAt(domain.FieldRepository, keywordField())
	checkpointMapping.AddFieldMappingsAt(domain.FieldLocation, keywordField())
	checkpointMapping.AddFieldMappingsAt(domain.FieldRevision, numericField())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.TypeField = domain.FieldType
	indexMapping.DefaultType = domain.TypeDocument
	indexMapping.DefaultAnalyzer = standard.Name
	indexMapping.AddDocumentMapping(domain.TypeRevision, revisionMapping)
	indexMapping.AddDocumentMapping(domain.TypeDocument, documentMapping)
	indexMapping.AddDocumentMapping(domain.TypeCheckpoint, checkpointMapping)

	return indexMapping
}

// Open returns the shared index of an identity, creating it on first use.
func (i *Indexer) Open(id string) (bleve.Index, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if index, ok := i.indexes[id]; ok {
		return index, nil
	}

	indexPath := i.indexPath(id)
	index, err := bleve.Open(indexPath)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		index, err = bleve.New(indexPath, CreateIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	i.indexes[id] = index
	return index, nil
}

// IndexExists checks if an index exists for the given identity.
func (i *Indexer) IndexExists(id string) bool {
	i.mu.Lock()
	_, open := i.indexes[id]
	i.mu.Unlock()
	if open {
		return true
	}
	_, err := os.Stat(i.indexPath(id))
	return err == nil
}

// Alias combines the existing indexes of the given identities for searching.
// Identities without an index are skipped.
func (i *Indexer) Alias(ids []string) (bleve.IndexAlias, error) {
	indexes := make([]bleve.Index, 0, len(ids))
	for _, id := range ids {
		if !i.IndexExists(id) {
			continue
		}
		index, err := i.Open(id)
		if err != nil {
			return nil, fmt.Errorf("failed to open index for %s: %w", id, err)
		}
		indexes = append(indexes, index)
	}

	if len(indexes) == 0 {
		return nil, fmt.Errorf("no indexes to combine")
	}

	return bleve.NewIndexAlias(indexes...), nil
}

// DocumentCount returns the number of documents in the index of an identity.
func (i *Indexer) DocumentCount(id string) (uint64, error) {
	if !i.IndexExists(id) {
		return 0, nil
	}
	index, err := i.Open(id)
	if err != nil {
		return 0, err
	}
	return index.DocCount()
}

// DeleteIndex closes and removes the index of an identity.
func (i *Indexer) DeleteIndex(id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if index, ok := i.indexes[id]; ok {
		delete(i.indexes, id)
		if err := index.Close(); err != nil {
			return fmt.Errorf("failed to close index: %w", err)
		}
	}
	return os.RemoveAll(i.indexPath(id))
}

// Close closes every open index.
func (i *Indexer) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var errs []error
	for id, index := range i.indexes {
		if err := index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index %s: %w", id, err))
		}
		delete(i.indexes, id)
	}
	return errors.Join(errs...)
}
