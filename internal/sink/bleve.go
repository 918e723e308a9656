package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/sha1n/svn-river/internal/domain"
	"github.com/sha1n/svn-river/internal/metrics"
)

const (
	// MaxBatchSize is the maximum number of documents per bleve batch
	MaxBatchSize = 100

	// MaxBatchBytes is the maximum content bytes per bleve batch (10MB)
	MaxBatchBytes = 10 * 1024 * 1024
)

// BleveSink writes submissions into the identity's bleve index. Large
// submissions are applied as several bleve batches in submission order, so a
// trailing checkpoint marker is only written once everything before it was.
type BleveSink struct {
	indexer *Indexer
	logger  *slog.Logger
}

// NewBleveSink creates a sink on top of an indexer.
func NewBleveSink(indexer *Indexer, logger *slog.Logger) *BleveSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &BleveSink{indexer: indexer, logger: logger}
}

// Submit indexes the writes. Writes bleve rejects are reported as item
// failures; a failed batch is a total failure.
func (s *BleveSink) Submit(ctx context.Context, identity domain.Identity, writes []Write) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	index, err := s.indexer.Open(identity.ID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var (
		result     Result
		batch      = index.NewBatch()
		batchSize  int
		batchBytes int
		totalBytes int
		pending    = make(map[string]int)
	)

	flush := func() error {
		if batchSize == 0 {
			return nil
		}
		if err := index.Batch(batch); err != nil {
			return fmt.Errorf("%w: batch index failed: %v", ErrUnavailable, err)
		}
		for collection, n := range pending {
			metrics.DocumentsSubmitted.WithLabelValues(collection).Add(float64(n))
			result.Submitted += n
		}
		clear(pending)
		batch.Reset()
		batchSize = 0
		batchBytes = 0
		return nil
	}

	for _, w := range writes {
		if err := batch.Index(w.ID, w.Doc); err != nil {
			result.Failures = append(result.Failures, ItemFailure{Collection: w.Collection, ID: w.ID, Err: err})
			continue
		}
		size := approximateSize(w.Doc)
		pending[w.Collection]++
		batchSize++
		batchBytes += size
		totalBytes += size

		if batchSize >= MaxBatchSize || batchBytes >= MaxBatchBytes {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	s.logger.Debug("Batch indexed",
		"repository", identity.Display(),
		"documents", result.Submitted,
		"failures", len(result.Failures),
		"content", humanize.IBytes(uint64(totalBytes)))

	return result, nil
}

// approximateSize estimates the indexed bytes of a write.
func approximateSize(doc any) int {
	switch d := doc.(type) {
	case domain.Document:
		return len(d.ContentString()) + len(d.Message)
	case *domain.Document:
		return len(d.ContentString()) + len(d.Message)
	case domain.RevisionRecord:
		return len(d.Message)
	default:
		return 0
	}
}
