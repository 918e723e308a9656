package checkpoint

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sha1n/svn-river/internal/domain"
	"github.com/sha1n/svn-river/internal/sink"
)

// indexKey is the bleve internal key holding the checkpoint.
var indexKey = []byte("_indexed_revision")

// IndexStore keeps each checkpoint as an internal value of the identity's own
// index, next to the documents it describes.
type IndexStore struct {
	indexer *sink.Indexer
}

// NewIndexStore creates a store on top of a shared indexer. Close does not
// close the indexer.
func NewIndexStore(indexer *sink.Indexer) *IndexStore {
	return &IndexStore{indexer: indexer}
}

// Get returns the checkpoint of an identity, 0 when absent.
func (s *IndexStore) Get(_ context.Context, identity domain.Identity) (domain.Revision, error) {
	if !s.indexer.IndexExists(identity.ID) {
		return domain.NotIndexedRevision, nil
	}
	index, err := s.indexer.Open(identity.ID)
	if err != nil {
		return 0, err
	}
	val, err := index.GetInternal(indexKey)
	if err != nil {
		return 0, fmt.Errorf("reading checkpoint of %s: %w", identity.Display(), err)
	}
	if len(val) == 0 {
		return domain.NotIndexedRevision, nil
	}
	rev, err := strconv.ParseInt(string(val), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt checkpoint of %s: %w", identity.Display(), err)
	}
	return rev, nil
}

// Set stores the checkpoint of an identity.
func (s *IndexStore) Set(_ context.Context, identity domain.Identity, rev domain.Revision) error {
	if err := validate(rev); err != nil {
		return err
	}
	index, err := s.indexer.Open(identity.ID)
	if err != nil {
		return err
	}
	return index.SetInternal(indexKey, []byte(strconv.FormatInt(rev, 10)))
}

// Close is a no-op.
func (s *IndexStore) Close() error {
	return nil
}
