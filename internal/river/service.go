package river

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/sha1n/svn-river/internal/checkpoint"
	"github.com/sha1n/svn-river/internal/config"
	"github.com/sha1n/svn-river/internal/crawler"
	"github.com/sha1n/svn-river/internal/domain"
	"github.com/sha1n/svn-river/internal/filelock"
	"github.com/sha1n/svn-river/internal/revsource"
	"github.com/sha1n/svn-river/internal/sink"
)

// MaxParallelCatchUps is the maximum number of identities caught up concurrently.
const MaxParallelCatchUps = 4

// Option configures a Service.
type Option func(*Service)

// WithRegistry sets the registry used to open repository sources.
func WithRegistry(registry *revsource.Registry) Option {
	return func(s *Service) { s.registry = registry }
}

// WithSink replaces the bleve sink.
func WithSink(snk sink.Sink) Option {
	return func(s *Service) { s.sink = snk }
}

// WithStore replaces the configured checkpoint store. The service does not
// close a store it was given.
func WithStore(store checkpoint.Store) Option {
	return func(s *Service) {
		s.store = store
		s.ownsStore = false
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service runs one SyncLoop per configured source. Loops share the indexer
// and the checkpoint store; each identity is guarded by its own file lock.
type Service struct {
	settings  *config.RiverSettings
	registry  *revsource.Registry
	indexer   *sink.Indexer
	sink      sink.Sink
	store     checkpoint.Store
	ownsStore bool
	logger    *slog.Logger

	loops []*SyncLoop
	mu    sync.Mutex
	locks map[string]*filelock.FileLock
}

// NewService creates the service and a loop per source. Sources are opened
// here, so an unsupported URL or invalid exclusion pattern fails fast.
func NewService(settings *config.RiverSettings, opts ...Option) (*Service, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}

	if err := os.MkdirAll(filepath.Join(settings.BaseDir, "indexes"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	s := &Service{
		settings:  settings,
		indexer:   sink.NewIndexer(settings.BaseDir),
		ownsStore: true,
		locks:     make(map[string]*filelock.FileLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.registry == nil {
		s.registry = revsource.DefaultRegistry()
	}
	if s.sink == nil {
		s.sink = sink.NewBleveSink(s.indexer, s.logger)
	}
	if s.store == nil {
		store, err := checkpoint.Open(settings.CheckpointBackend, settings.BaseDir, s.indexer)
		if err != nil {
			return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
		}
		s.store = store
	}

	mode, err := ParseCheckpointMode(settings.CheckpointMode)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	for _, src := range settings.Sources {
		loop, err := s.newLoop(src, mode)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("source %s: %w", src.Identity().Display(), err)
		}
		s.loops = append(s.loops, loop)
	}
	return s, nil
}

// newLoop wires a source, filter and assembler into a loop.
func (s *Service) newLoop(src config.SourceSettings, mode CheckpointMode) (*SyncLoop, error) {
	identity := src.Identity()

	source, err := s.registry.Open(revsource.Options{
		URL:      src.URL,
		Path:     src.Path,
		Login:    src.Login,
		Password: src.Password,
	})
	if err != nil {
		return nil, err
	}
	cached, err := revsource.NewCachedSource(source, s.settings.StatCacheSize)
	if err != nil {
		return nil, err
	}

	maxFileSize, err := src.MaxFileSizeBytes()
	if err != nil {
		return nil, err
	}
	filter, err := crawler.NewEntryFilter(src.Excludes, maxFileSize)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("identity", identity.ID)
	return NewSyncLoop(LoopConfig{
		Identity:      identity,
		StartRevision: src.StartRevision,
		EndRevision:   src.EndRevision,
		BulkSize:      s.settings.BulkSize,
		UpdateRate:    s.settings.UpdateRate,
		Mode:          mode,
	}, cached, crawler.NewDocumentAssembler(cached, filter, logger), s.sink, s.store, logger), nil
}

// Run locks every identity it can and runs their loops until ctx is
// cancelled. Identities locked by another process are skipped; Run fails
// only when no identity could be locked.
func (s *Service) Run(ctx context.Context) error {
	loops, lockErr := s.acquire()
	if len(loops) == 0 {
		if lockErr == nil {
			return errors.New("no repository sources configured")
		}
		return lockErr
	}
	defer s.release(loops)

	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Go(func() {
			_ = loop.Run(ctx)
		})
	}
	wg.Wait()
	return nil
}

// CatchUp ticks every identity until it reaches head, then returns. Identities
// are caught up in parallel; the first tick failure of an identity stops it.
func (s *Service) CatchUp(ctx context.Context) error {
	loops, lockErr := s.acquire()
	defer s.release(loops)

	sem := make(chan struct{}, MaxParallelCatchUps)
	var wg sync.WaitGroup
	errChan := make(chan error, len(loops))

	for _, loop := range loops {
		wg.Go(func() {
			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if err := catchUp(ctx, loop); err != nil {
				errChan <- fmt.Errorf("catch up %s: %w", loop.Identity().Display(), err)
			}
		})
	}
	wg.Wait()
	close(errChan)

	errs := []error{lockErr}
	for err := range errChan {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func catchUp(ctx context.Context, loop *SyncLoop) error {
	for {
		result, err := loop.Tick(ctx)
		if err != nil {
			return err
		}
		if result.UpToDate {
			return nil
		}
		if !result.Advanced {
			return fmt.Errorf("window %d-%d did not advance", result.Window.From, result.Window.To)
		}
	}
}

// acquire takes the file lock of every loop's identity. Loops whose identity
// is held elsewhere are left out and reported in the returned error.
func (s *Service) acquire() ([]*SyncLoop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		acquired []*SyncLoop
		errs     []error
	)
	for _, loop := range s.loops {
		identity := loop.Identity()
		if _, held := s.locks[identity.ID]; held {
			errs = append(errs, fmt.Errorf("%s: already running", identity.Display()))
			continue
		}

		lock := IdentityLock(s.settings.BaseDir, identity)
		ok, err := lock.TryLock()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", identity.Display(), err))
			continue
		}
		if !ok {
			s.logger.Error("Repository is synced by another process, skipping",
				"repository", identity.Display(), "lock", lock.Path())
			errs = append(errs, fmt.Errorf("%s: %w", identity.Display(), ErrLockHeld))
			continue
		}
		s.locks[identity.ID] = lock
		acquired = append(acquired, loop)
	}
	return acquired, errors.Join(errs...)
}

func (s *Service) release(loops []*SyncLoop) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, loop := range loops {
		id := loop.Identity().ID
		if lock, ok := s.locks[id]; ok {
			if err := lock.Unlock(); err != nil {
				s.logger.Error("Failed to unlock", "lock", lock.Path(), "error", err)
			}
			delete(s.locks, id)
		}
	}
}

// Status returns a snapshot of every loop, in configuration order.
func (s *Service) Status() []LoopStatus {
	statuses := make([]LoopStatus, len(s.loops))
	for i, loop := range s.loops {
		statuses[i] = loop.Status()
	}
	return statuses
}

// Identities returns the identities of the configured sources.
func (s *Service) Identities() []domain.Identity {
	ids := make([]domain.Identity, len(s.loops))
	for i, loop := range s.loops {
		ids[i] = loop.Identity()
	}
	return ids
}

// Loops returns the configured loops.
func (s *Service) Loops() []*SyncLoop {
	return s.loops
}

// Indexer returns the indexer shared by the bleve sink and searchers.
func (s *Service) Indexer() *sink.Indexer {
	return s.indexer
}

// Store returns the checkpoint store.
func (s *Service) Store() checkpoint.Store {
	return s.store
}

// Close releases the checkpoint store and the indexes.
func (s *Service) Close() error {
	var errs []error
	if s.ownsStore && s.store != nil {
		errs = append(errs, s.store.Close())
	}
	errs = append(errs, s.indexer.Close())
	return errors.Join(errs...)
}
