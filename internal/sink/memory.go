package sink

import (
	"context"
	"sync"

	"github.com/sha1n/svn-river/internal/domain"
)

// MemorySink keeps the latest document per identity and ID. Failures can be
// injected for tests.
type MemorySink struct {
	mu          sync.Mutex
	docs        map[string]map[string]Write
	submissions int
	failNext    []error
	rejected    map[string]bool
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		docs:     make(map[string]map[string]Write),
		rejected: make(map[string]bool),
	}
}

// FailNext makes the next submissions fail with the given errors, one per call.
func (m *MemorySink) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = append(m.failNext, errs...)
}

// Reject makes every write of a collection an item failure until cleared with ok=false.
func (m *MemorySink) Reject(collection string, reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[collection] = reject
}

// Submit stores the writes, overwriting documents with the same ID.
func (m *MemorySink) Submit(_ context.Context, identity domain.Identity, writes []Write) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submissions++
	if len(m.failNext) > 0 {
		err := m.failNext[0]
		m.failNext = m.failNext[1:]
		return Result{}, err
	}

	docs, ok := m.docs[identity.ID]
	if !ok {
		docs = make(map[string]Write)
		m.docs[identity.ID] = docs
	}

	var result Result
	for _, w := range writes {
		if m.rejected[w.Collection] {
			result.Failures = append(result.Failures, ItemFailure{Collection: w.Collection, ID: w.ID, Err: ErrUnavailable})
			continue
		}
		docs[w.ID] = w
		result.Submitted++
	}
	return result, nil
}

// Documents returns the stored writes of an identity for a collection.
func (m *MemorySink) Documents(identity domain.Identity, collection string) []Write {
	m.mu.Lock()
	defer m.mu.Unlock()

	var writes []Write
	for _, w := range m.docs[identity.ID] {
		if w.Collection == collection {
			writes = append(writes, w)
		}
	}
	return writes
}

// Get returns a stored write by ID.
func (m *MemorySink) Get(identity domain.Identity, id string) (Write, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.docs[identity.ID][id]
	return w, ok
}

// Submissions returns how many times Submit was called.
func (m *MemorySink) Submissions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submissions
}
