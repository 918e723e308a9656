// Package sink writes batches of revision and document records to the search
// index.
package sink

import (
	"context"
	"errors"

	"github.com/sha1n/svn-river/internal/domain"
)

// ErrUnavailable indicates a batch that could not be written at all.
var ErrUnavailable = errors.New("sink unavailable")

// Write is one document of a batch.
type Write struct {
	// Collection is the document type: revision, document or checkpoint.
	Collection string
	ID         string
	Doc        any
}

// ItemFailure is a write the sink rejected.
type ItemFailure struct {
	Collection string
	ID         string
	Err        error
}

// Result is the outcome of a submission that was not a total failure.
type Result struct {
	Submitted int
	Failures  []ItemFailure
}

// Failed reports whether any write of the collection was rejected.
func (r Result) Failed(collection string) bool {
	for _, f := range r.Failures {
		if f.Collection == collection {
			return true
		}
	}
	return false
}

// Sink accepts batches of writes for an identity. A returned error is a total
// failure; per-item failures are reported in the result.
type Sink interface {
	Submit(ctx context.Context, identity domain.Identity, writes []Write) (Result, error)
}
