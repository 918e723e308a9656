package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sha1n/svn-river/internal/domain"
)

const badgerPrefix = "checkpoint"

// BadgerStore keeps checkpoints in a badger database, one JSON value per
// identity under "checkpoint:<id>".
type BadgerStore struct {
	db     *badger.DB
	ownsDB bool
}

// OpenBadgerStore opens or creates a badger database in dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	return &BadgerStore{db: db, ownsDB: true}, nil
}

// NewBadgerStore uses an already open database. Close leaves it open.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) makeKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", badgerPrefix, id))
}

// Get returns the checkpoint of an identity, 0 when absent.
func (s *BadgerStore) Get(_ context.Context, identity domain.Identity) (domain.Revision, error) {
	var cp domain.Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(identity.ID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.NotIndexedRevision, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading checkpoint of %s: %w", identity.Display(), err)
	}
	return cp.Revision, nil
}

// Set stores the checkpoint of an identity.
func (s *BadgerStore) Set(_ context.Context, identity domain.Identity, rev domain.Revision) error {
	if err := validate(rev); err != nil {
		return err
	}

	data, err := json.Marshal(domain.Checkpoint{
		Identity:  identity.ID,
		URL:       identity.URL,
		Path:      identity.Path,
		Revision:  rev,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.makeKey(identity.ID), data)
	})
}

// List returns every stored checkpoint.
func (s *BadgerStore) List() ([]domain.Checkpoint, error) {
	var checkpoints []domain.Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerPrefix + ":")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var cp domain.Checkpoint
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cp)
			}); err != nil {
				return err
			}
			checkpoints = append(checkpoints, cp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	return checkpoints, nil
}

// Close closes the database if the store opened it.
func (s *BadgerStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
