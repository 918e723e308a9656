// Package river runs the synchronization loops that move repository history
// into the search index, one loop per repository identity.
package river

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sha1n/svn-river/internal/checkpoint"
	"github.com/sha1n/svn-river/internal/crawler"
	"github.com/sha1n/svn-river/internal/domain"
	"github.com/sha1n/svn-river/internal/metrics"
	"github.com/sha1n/svn-river/internal/revsource"
	"github.com/sha1n/svn-river/internal/sink"
)

// DefaultUpdateRate is the default sleep between ticks.
const DefaultUpdateRate = 15 * time.Minute

// Sink collections of the writes produced by a tick.
const (
	CollectionRevision   = domain.TypeRevision
	CollectionDocument   = domain.TypeDocument
	CollectionCheckpoint = domain.TypeCheckpoint
)

// ErrMarkerRejected indicates the sink accepted the batch but not its checkpoint marker.
var ErrMarkerRejected = errors.New("checkpoint marker rejected by sink")

// State is the position of a loop in its tick cycle.
type State int32

const (
	StateIdle State = iota
	StatePlanning
	StateFetching
	StateAssembling
	StateSubmitting
	StateCheckpointAdvance
	StateSleeping
	StateStopped
)

var stateNames = [...]string{
	"idle", "planning", "fetching", "assembling",
	"submitting", "checkpoint_advance", "sleeping", "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int32(s))
	}
	return stateNames[s]
}

// CheckpointMode selects when the checkpoint advances relative to the sink write.
type CheckpointMode string

const (
	// ModeConfirm advances the checkpoint after the sink confirmed the batch.
	// A failed batch is retried on the next tick.
	ModeConfirm CheckpointMode = "confirm"
	// ModeOptimistic advances the checkpoint before the batch is submitted.
	// A failed batch is not retried.
	ModeOptimistic CheckpointMode = "optimistic"
)

// ParseCheckpointMode parses a mode name. The empty name is ModeConfirm.
func ParseCheckpointMode(name string) (CheckpointMode, error) {
	switch CheckpointMode(name) {
	case ModeConfirm, "":
		return ModeConfirm, nil
	case ModeOptimistic:
		return ModeOptimistic, nil
	default:
		return "", fmt.Errorf("unknown checkpoint mode %q", name)
	}
}

// ErrorRecorder persists the last tick error of an identity. A nil error
// clears it. checkpoint.ManifestStore implements it.
type ErrorRecorder interface {
	RecordError(identity domain.Identity, err error) error
}

// LoopConfig configures a SyncLoop.
type LoopConfig struct {
	Identity domain.Identity
	// StartRevision is the first revision indexed on a cold start, -1 for head only.
	StartRevision domain.Revision
	// EndRevision caps the head revision, 0 for no cap.
	EndRevision domain.Revision
	// BulkSize bounds the number of revisions past the window start processed per tick.
	BulkSize   int
	UpdateRate time.Duration
	Mode       CheckpointMode
}

// TickResult describes one tick.
type TickResult struct {
	ID         string
	Checkpoint domain.Revision
	Head       domain.Revision
	Window     crawler.Window
	// UpToDate is set when there was nothing to process.
	UpToDate  bool
	Revisions int
	Documents int
	Advanced  bool
	Duration  time.Duration
}

// LoopStatus is a snapshot of a loop for status reporting.
type LoopStatus struct {
	Identity   domain.Identity
	State      State
	Mode       CheckpointMode
	Checkpoint domain.Revision
	Head       domain.Revision
	LastWindow crawler.Window
	LastTick   time.Time
	LastError  string
	Ticks      int
}

// Behind returns the number of revisions between the checkpoint and head.
func (s LoopStatus) Behind() int64 {
	return max(s.Head-s.Checkpoint, 0)
}

// SyncLoop processes the revision history of one identity, one window per tick.
// It owns the identity's checkpoint: nothing else writes it while the loop runs.
type SyncLoop struct {
	cfg       LoopConfig
	source    revsource.Source
	assembler *crawler.DocumentAssembler
	sink      sink.Sink
	store     checkpoint.Store
	recorder  ErrorRecorder
	logger    *slog.Logger

	state  atomic.Int32
	mu     sync.RWMutex
	status LoopStatus
}

// NewSyncLoop creates a loop. A nil assembler reads every entry from source
// without filtering.
func NewSyncLoop(cfg LoopConfig, source revsource.Source, assembler *crawler.DocumentAssembler, snk sink.Sink, store checkpoint.Store, logger *slog.Logger) *SyncLoop {
	if logger == nil {
		logger = slog.Default()
	}
	if assembler == nil {
		assembler = crawler.NewDocumentAssembler(source, nil, logger)
	}
	if cfg.BulkSize <= 0 {
		cfg.BulkSize = crawler.DefaultMaxWindow
	}
	if cfg.UpdateRate <= 0 {
		cfg.UpdateRate = DefaultUpdateRate
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeConfirm
	}
	if cfg.StartRevision == domain.NotIndexedRevision {
		cfg.StartRevision = 1
	}

	l := &SyncLoop{
		cfg:       cfg,
		source:    source,
		assembler: assembler,
		sink:      snk,
		store:     store,
		logger:    logger,
		status:    LoopStatus{Identity: cfg.Identity, Mode: cfg.Mode},
	}
	if recorder, ok := store.(ErrorRecorder); ok {
		l.recorder = recorder
	}
	return l
}

// Identity returns the identity the loop synchronizes.
func (l *SyncLoop) Identity() domain.Identity {
	return l.cfg.Identity
}

// State returns the current state.
func (l *SyncLoop) State() State {
	return State(l.state.Load())
}

// Status returns a snapshot of the loop.
func (l *SyncLoop) Status() LoopStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	status := l.status
	status.State = l.State()
	return status
}

func (l *SyncLoop) setState(s State) {
	l.state.Store(int32(s))
}

// Run ticks until ctx is cancelled and returns nil on shutdown. Tick failures
// are logged and retried after the update rate; they never end the loop.
// Cancellation is observed between ticks and between fetched revisions, never
// during a sink write.
func (l *SyncLoop) Run(ctx context.Context) error {
	defer l.setState(StateStopped)

	l.logger.Info("Starting river",
		"repository", l.cfg.Identity.Display(),
		"mode", l.cfg.Mode,
		"update_rate", l.cfg.UpdateRate.String(),
		"bulk_size", l.cfg.BulkSize)

	for ctx.Err() == nil {
		l.setState(StateIdle)
		_, _ = l.Tick(ctx)

		l.setState(StateSleeping)
		if !sleep(ctx, l.cfg.UpdateRate) {
			break
		}
	}

	l.logger.Info("River stopped", "repository", l.cfg.Identity.Display())
	return nil
}

// Tick processes the next window once: read the checkpoint, read head, plan,
// fetch, assemble, submit and advance the checkpoint.
func (l *SyncLoop) Tick(ctx context.Context) (TickResult, error) {
	identity := l.cfg.Identity
	result := TickResult{ID: uuid.NewString()}
	logger := l.logger.With("tick", result.ID, "repository", identity.Display())
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		metrics.TickDuration.Observe(result.Duration.Seconds())
	}()

	l.setState(StatePlanning)
	last, err := l.store.Get(ctx, identity)
	if err != nil {
		return result, l.fail(ctx, logger, metrics.ErrorKindCheckpoint, fmt.Errorf("failed to read checkpoint: %w", err))
	}
	result.Checkpoint = last

	head, err := l.source.LatestRevision(ctx)
	if err != nil {
		return result, l.fail(ctx, logger, metrics.ErrorKindHead, fmt.Errorf("failed to read head revision: %w", err))
	}
	if l.cfg.EndRevision > 0 && head > l.cfg.EndRevision {
		head = l.cfg.EndRevision
	}
	result.Head = head

	if last >= head {
		result.UpToDate = true
		l.observe(last, head, nil)
		logger.Debug("Repository up to date", "checkpoint", last, "head", head)
		return result, nil
	}

	window := crawler.Plan(crawler.PlanInput{
		LastCheckpoint: last,
		StartRevision:  l.cfg.StartRevision,
		Head:           head,
		MaxWindow:      int64(l.cfg.BulkSize),
	})
	result.Window = window
	if window.Empty() {
		result.UpToDate = true
		l.observe(last, head, &window)
		logger.Debug("Start revision beyond head", "start_revision", l.cfg.StartRevision, "head", head)
		return result, nil
	}

	logger.Info("Processing window",
		"from", window.From,
		"to", window.To,
		"incremental", window.Incremental,
		"behind", humanize.Comma(head-last))

	l.setState(StateFetching)
	commits, err := revsource.FetchWindow(ctx, l.source, window.From, window.To)
	if err != nil {
		return result, l.fail(ctx, logger, metrics.ErrorKindFetch, fmt.Errorf("failed to fetch revisions %d-%d: %w", window.From, window.To, err))
	}

	l.setState(StateAssembling)
	writes := make([]sink.Write, 0, len(commits)*4+1)
	for _, commit := range commits {
		record, err := l.assembler.AssembleRevision(ctx, identity, commit)
		if err != nil {
			return result, l.fail(ctx, logger, metrics.ErrorKindAssemble, fmt.Errorf("failed to assemble revision %d: %w", commit.Revision, err))
		}
		writes = append(writes, sink.Write{Collection: CollectionRevision, ID: record.ID(), Doc: record})
		for _, doc := range record.Documents {
			writes = append(writes, sink.Write{Collection: CollectionDocument, ID: doc.ID(), Doc: doc})
		}
		result.Revisions++
		result.Documents += len(record.Documents)
	}

	// The window is complete: from here on nothing is interrupted by shutdown.
	writeCtx := context.WithoutCancel(ctx)

	if len(commits) == 0 {
		logger.Info("No changes in window", "from", window.From, "to", window.To)
		if err := l.advance(writeCtx, window, head); err != nil {
			return result, l.fail(ctx, logger, metrics.ErrorKindCheckpoint, err)
		}
		result.Advanced = true
		return result, nil
	}

	writes = append(writes, sink.Write{
		Collection: CollectionCheckpoint,
		ID:         domain.CheckpointMarkerID(identity),
		Doc: domain.CheckpointMarker{
			Type:       domain.TypeCheckpoint,
			Repository: identity.ID,
			Location:   identity.Display(),
			Revision:   window.To,
		},
	})

	if l.cfg.Mode == ModeOptimistic {
		if err := l.advance(writeCtx, window, head); err != nil {
			return result, l.fail(ctx, logger, metrics.ErrorKindCheckpoint, err)
		}
		result.Advanced = true
		if err := l.submit(writeCtx, logger, writes); err != nil {
			logger.Warn("Revisions lost: checkpoint already advanced", "from", window.From, "to", window.To)
			return result, l.fail(ctx, logger, sinkErrorKind(err), err)
		}
	} else {
		if err := l.submit(writeCtx, logger, writes); err != nil {
			return result, l.fail(ctx, logger, sinkErrorKind(err), err)
		}
		if err := l.advance(writeCtx, window, head); err != nil {
			return result, l.fail(ctx, logger, metrics.ErrorKindCheckpoint, err)
		}
		result.Advanced = true
	}

	logger.Info("Window processed",
		"from", window.From,
		"to", window.To,
		"revisions", result.Revisions,
		"documents", result.Documents,
		"behind", humanize.Comma(head-window.To),
		"took", time.Since(start).Round(time.Millisecond).String())
	return result, nil
}

// submit writes the batch and checks the checkpoint marker made it.
func (l *SyncLoop) submit(ctx context.Context, logger *slog.Logger, writes []sink.Write) error {
	l.setState(StateSubmitting)
	res, err := l.sink.Submit(ctx, l.cfg.Identity, writes)
	if err != nil {
		return fmt.Errorf("sink submission failed: %w", err)
	}
	if res.Failed(CollectionCheckpoint) {
		return ErrMarkerRejected
	}
	for _, f := range res.Failures {
		logger.Warn("Sink rejected document", "collection", f.Collection, "id", f.ID, "error", f.Err)
	}
	return nil
}

// advance stores the window end as the new checkpoint.
func (l *SyncLoop) advance(ctx context.Context, window crawler.Window, head domain.Revision) error {
	l.setState(StateCheckpointAdvance)
	if err := l.store.Set(ctx, l.cfg.Identity, window.To); err != nil {
		return fmt.Errorf("failed to store checkpoint %d: %w", window.To, err)
	}

	mode := "cold"
	if window.Incremental {
		mode = "incremental"
	}
	metrics.WindowsProcessed.WithLabelValues(l.cfg.Identity.Display(), mode).Inc()
	l.observe(window.To, head, &window)
	return nil
}

// observe records a successful tick outcome.
func (l *SyncLoop) observe(checkpointRev, head domain.Revision, window *crawler.Window) {
	metrics.ObserveProgress(l.cfg.Identity.Display(), checkpointRev, head)

	l.mu.Lock()
	hadError := l.status.LastError != ""
	l.status.Checkpoint = checkpointRev
	l.status.Head = head
	if window != nil {
		l.status.LastWindow = *window
	}
	l.status.LastTick = time.Now()
	l.status.LastError = ""
	l.status.Ticks++
	l.mu.Unlock()

	if hadError && l.recorder != nil {
		if err := l.recorder.RecordError(l.cfg.Identity, nil); err != nil {
			l.logger.Warn("Failed to clear recorded error", "error", err)
		}
	}
}

// fail records a failed tick. Shutdown is not a failure.
func (l *SyncLoop) fail(ctx context.Context, logger *slog.Logger, kind string, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		logger.Info("Tick interrupted by shutdown")
		return err
	}

	metrics.TickErrors.WithLabelValues(kind).Inc()
	logger.Error("Tick failed", "kind", kind, "error", err)

	l.mu.Lock()
	l.status.LastTick = time.Now()
	l.status.LastError = err.Error()
	l.status.Ticks++
	l.mu.Unlock()

	if l.recorder != nil {
		if recErr := l.recorder.RecordError(l.cfg.Identity, err); recErr != nil {
			logger.Warn("Failed to record error", "error", recErr)
		}
	}
	return err
}

// sleep waits for d and reports false when ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func sinkErrorKind(err error) string {
	if errors.Is(err, ErrMarkerRejected) {
		return metrics.ErrorKindMarker
	}
	return metrics.ErrorKindSink
}
