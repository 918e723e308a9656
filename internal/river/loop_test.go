package river

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sha1n/svn-river/internal/checkpoint"
	"github.com/sha1n/svn-river/internal/crawler"
	"github.com/sha1n/svn-river/internal/domain"
	"github.com/sha1n/svn-river/internal/revsource"
	"github.com/sha1n/svn-river/internal/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRepoURL = "svn://example.com/repos"

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func change(kind domain.ChangeKind, path, content string) revsource.MemoryChange {
	return revsource.MemoryChange{Path: path, Kind: kind, Content: []byte(content)}
}

// sevenRevisionHistory commits 7 revisions touching 11 files below /module1/trunk.
func sevenRevisionHistory(src *revsource.MemorySource) {
	const root = "/module1/trunk/"
	src.Commit("alice", "initial import", epoch,
		change(domain.ChangeAdded, root+"watchlist.txt", "alpha\n"),
		change(domain.ChangeAdded, root+"readme.txt", "read me\n"))
	src.Commit("bob", "update watchlist", epoch.Add(time.Hour),
		change(domain.ChangeModified, root+"watchlist.txt", "alpha\nbeta\n"))
	src.Commit("alice", "add sources", epoch.Add(2*time.Hour),
		change(domain.ChangeAdded, root+"src/main.go", "package main\n\nfunc main() {}\n"),
		change(domain.ChangeAdded, root+"src/util.go", "package main\n"))
	src.Commit("carol", "drop readme", epoch.Add(3*time.Hour),
		change(domain.ChangeModified, root+"src/main.go", "package main\n\nfunc main() { run() }\n"),
		change(domain.ChangeDeleted, root+"readme.txt", ""))
	src.Commit("bob", "add logo", epoch.Add(4*time.Hour),
		change(domain.ChangeAdded, root+"logo.png", "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00"))
	src.Commit("alice", "refactor util", epoch.Add(5*time.Hour),
		change(domain.ChangeModified, root+"src/util.go", "package main\n\nfunc run() {}\n"))
	src.Commit("carol", "notes", epoch.Add(6*time.Hour),
		change(domain.ChangeAdded, root+"notes.md", "# Notes\n"),
		change(domain.ChangeModified, root+"watchlist.txt", "alpha\nbeta\ngamma\n"))
}

type loopFixture struct {
	source   *revsource.MemorySource
	sink     *sink.MemorySink
	store    *checkpoint.MemoryStore
	identity domain.Identity
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()
	src := revsource.NewMemorySource("/module1/trunk")
	sevenRevisionHistory(src)
	return &loopFixture{
		source:   src,
		sink:     sink.NewMemorySink(),
		store:    checkpoint.NewMemoryStore(),
		identity: domain.NewIdentity(testRepoURL, "/module1/trunk"),
	}
}

func (f *loopFixture) loop(cfg LoopConfig) *SyncLoop {
	cfg.Identity = f.identity
	return NewSyncLoop(cfg, f.source, nil, f.sink, f.store, nil)
}

func (f *loopFixture) checkpoint(t *testing.T) domain.Revision {
	t.Helper()
	rev, err := f.store.Get(context.Background(), f.identity)
	require.NoError(t, err)
	return rev
}

func tickUntilUpToDate(t *testing.T, loop *SyncLoop) []TickResult {
	t.Helper()
	var results []TickResult
	for range 100 {
		result, err := loop.Tick(context.Background())
		require.NoError(t, err)
		if result.UpToDate {
			return results
		}
		results = append(results, result)
	}
	t.Fatal("loop did not reach head")
	return nil
}

func TestSyncLoop_EndToEnd(t *testing.T) {
	f := newLoopFixture(t)
	loop := f.loop(LoopConfig{StartRevision: 1})

	result, err := loop.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, crawler.Window{From: 1, To: 7}, result.Window)
	assert.Equal(t, 7, result.Revisions)
	assert.Equal(t, 11, result.Documents)
	assert.True(t, result.Advanced)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, domain.Revision(7), f.checkpoint(t))

	assert.Len(t, f.sink.Documents(f.identity, CollectionRevision), 7)
	assert.Len(t, f.sink.Documents(f.identity, CollectionDocument), 11)

	marker, ok := f.sink.Get(f.identity, domain.CheckpointMarkerID(f.identity))
	require.True(t, ok)
	assert.Equal(t, domain.Revision(7), marker.Doc.(domain.CheckpointMarker).Revision)

	next, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, next.UpToDate)
	assert.Equal(t, 1, f.sink.Submissions())
}

func TestSyncLoop_DocumentContent(t *testing.T) {
	f := newLoopFixture(t)
	_, err := f.loop(LoopConfig{}).Tick(context.Background())
	require.NoError(t, err)

	byName := make(map[string][]domain.Document)
	for _, w := range f.sink.Documents(f.identity, CollectionDocument) {
		doc := w.Doc.(domain.Document)
		byName[doc.FullName] = append(byName[doc.FullName], doc)
	}

	logo := byName["/module1/trunk/logo.png"]
	require.Len(t, logo, 1)
	assert.Equal(t, domain.ContentNotText, logo[0].ContentString())

	readme := byName["/module1/trunk/readme.txt"]
	require.Len(t, readme, 2)
	for _, doc := range readme {
		if doc.Change == domain.ChangeDeleted {
			assert.False(t, doc.HasContent())
			assert.Equal(t, domain.Revision(4), doc.Revision)
			assert.Equal(t, "carol", doc.Author)
		} else {
			assert.Equal(t, "read me\n", doc.ContentString())
		}
	}

	watchlist := byName["/module1/trunk/watchlist.txt"]
	require.Len(t, watchlist, 3)
	for _, doc := range watchlist {
		assert.Equal(t, "/module1/trunk", doc.Path)
		assert.Equal(t, "watchlist.txt", doc.Name)
		if doc.Revision == 7 {
			assert.Equal(t, "alpha\nbeta\ngamma\n", doc.ContentString())
			assert.Equal(t, "notes", doc.Message)
		}
	}
}

func TestSyncLoop_Idempotent(t *testing.T) {
	f := newLoopFixture(t)
	loop := f.loop(LoopConfig{})

	_, err := loop.Tick(context.Background())
	require.NoError(t, err)
	first := f.sink.Documents(f.identity, CollectionDocument)
	firstRecords := f.sink.Documents(f.identity, CollectionRevision)

	// operator reset
	require.NoError(t, f.store.Set(context.Background(), f.identity, 0))
	result, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 11, result.Documents)

	second := f.sink.Documents(f.identity, CollectionDocument)
	assert.ElementsMatch(t, first, second)
	assert.ElementsMatch(t, firstRecords, f.sink.Documents(f.identity, CollectionRevision))
	assert.Equal(t, domain.Revision(7), f.checkpoint(t))
}

func TestSyncLoop_MonotonicWindows(t *testing.T) {
	f := newLoopFixture(t)
	loop := f.loop(LoopConfig{BulkSize: 2})

	results := tickUntilUpToDate(t, loop)

	require.Len(t, results, 3)
	assert.Equal(t, crawler.Window{From: 1, To: 3}, results[0].Window)
	assert.Equal(t, crawler.Window{From: 4, To: 6, Incremental: true}, results[1].Window)
	assert.Equal(t, crawler.Window{From: 7, To: 7, Incremental: true}, results[2].Window)

	history := f.store.History(f.identity)
	assert.Equal(t, []domain.Revision{3, 6, 7}, history)
	assert.IsNonDecreasing(t, history)

	assert.Len(t, f.sink.Documents(f.identity, CollectionRevision), 7)
	assert.Len(t, f.sink.Documents(f.identity, CollectionDocument), 11)
}

func TestSyncLoop_HeadOnlyStart(t *testing.T) {
	f := newLoopFixture(t)
	loop := f.loop(LoopConfig{StartRevision: domain.HeadRevision})

	result, err := loop.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, crawler.Window{From: 7, To: 7}, result.Window)
	assert.Equal(t, 1, result.Revisions)
	assert.Equal(t, 2, result.Documents)
	assert.Equal(t, domain.Revision(7), f.checkpoint(t))

	// new commits are picked up incrementally
	f.source.Commit("dave", "more", epoch.Add(7*time.Hour),
		change(domain.ChangeModified, "/module1/trunk/notes.md", "# Notes\nmore\n"))
	result, err = loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Window{From: 8, To: 8, Incremental: true}, result.Window)
	assert.Equal(t, domain.Revision(8), f.checkpoint(t))
}

func TestSyncLoop_StartBeyondHead(t *testing.T) {
	f := newLoopFixture(t)
	loop := f.loop(LoopConfig{StartRevision: 10})

	result, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, result.UpToDate)
	assert.False(t, result.Advanced)
	assert.Equal(t, domain.Revision(0), f.checkpoint(t))
	assert.Zero(t, f.sink.Submissions())
}

func TestSyncLoop_EndRevision(t *testing.T) {
	f := newLoopFixture(t)
	loop := f.loop(LoopConfig{EndRevision: 4})

	results := tickUntilUpToDate(t, loop)
	require.Len(t, results, 1)
	assert.Equal(t, crawler.Window{From: 1, To: 4}, results[0].Window)
	assert.Equal(t, domain.Revision(4), f.checkpoint(t))
	assert.Equal(t, domain.Revision(4), loop.Status().Head)
}

func TestSyncLoop_WindowWithoutChangesInScope(t *testing.T) {
	src := revsource.NewMemorySource("/module1")
	src.Commit("alice", "init", epoch, change(domain.ChangeAdded, "/module1/a.txt", "a"))
	src.Commit("alice", "other", epoch, change(domain.ChangeAdded, "/module2/b.txt", "b"))
	src.Commit("alice", "other", epoch, change(domain.ChangeModified, "/module2/b.txt", "bb"))

	identity := domain.NewIdentity(testRepoURL, "/module1")
	snk := sink.NewMemorySink()
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), identity, 1))

	loop := NewSyncLoop(LoopConfig{Identity: identity}, src, nil, snk, store, nil)
	result, err := loop.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, crawler.Window{From: 2, To: 3, Incremental: true}, result.Window)
	assert.Zero(t, result.Revisions)
	assert.True(t, result.Advanced)
	assert.Zero(t, snk.Submissions())

	rev, err := store.Get(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, domain.Revision(3), rev)
}

const branchInfoXML = `<?xml version="1.0" encoding="UTF-8"?>
<info>
<entry kind="dir" path="b" revision="300">
<url>svn://example.com/repos/branches/b</url>
<relative-url>^/branches/b</relative-url>
<repository>
<root>svn://example.com/repos</root>
</repository>
<commit revision="300"/>
</entry>
</info>`

const trunkOnlyLogXML = `<?xml version="1.0" encoding="UTF-8"?>
<log>
<logentry revision="1">
<author>alice</author>
<date>2024-03-01T10:00:00.000000Z</date>
<paths>
<path action="A" kind="dir">/trunk</path>
</paths>
<msg>layout</msg>
</logentry>
</log>`

func TestSyncLoop_SVNPathCreatedAfterWindow(t *testing.T) {
	mock := revsource.NewMockExecutor()
	mock.AddStickyResponse("svn info", []byte(branchInfoXML), nil)
	mock.AddStickyResponse("svn log --xml --verbose --revision 1:201", []byte(trunkOnlyLogXML), nil)
	mock.AddStickyResponse("svn log --xml --verbose --revision 202:300", []byte(`<log></log>`), nil)

	svn, err := revsource.NewSVNSource(revsource.Options{URL: testRepoURL, Path: "/branches/b", Executor: mock})
	require.NoError(t, err)
	cached, err := revsource.NewCachedSource(svn, revsource.DefaultStatCacheSize)
	require.NoError(t, err)

	identity := domain.NewIdentity(testRepoURL, "/branches/b")
	store := checkpoint.NewMemoryStore()
	loop := NewSyncLoop(LoopConfig{Identity: identity, StartRevision: 1, BulkSize: 200}, cached, nil, sink.NewMemorySink(), store, nil)

	first, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Window{From: 1, To: 201}, first.Window)
	assert.True(t, first.Advanced)

	second, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Window{From: 202, To: 300, Incremental: true}, second.Window)

	rev, err := store.Get(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, domain.Revision(300), rev)
}

func TestSyncLoop_ConfirmMode_SinkFailure(t *testing.T) {
	f := newLoopFixture(t)
	loop := f.loop(LoopConfig{Mode: ModeConfirm})
	f.sink.FailNext(sink.ErrUnavailable)

	result, err := loop.Tick(context.Background())
	require.ErrorIs(t, err, sink.ErrUnavailable)
	assert.False(t, result.Advanced)
	assert.Equal(t, domain.Revision(0), f.checkpoint(t))
	assert.Contains(t, loop.Status().LastError, "sink")

	// the same window is retried
	result, err = loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Window{From: 1, To: 7}, result.Window)
	assert.Equal(t, domain.Revision(7), f.checkpoint(t))
	assert.Empty(t, loop.Status().LastError)
}

func TestSyncLoop_ConfirmMode_MarkerRejected(t *testing.T) {
	f := newLoopFixture(t)
	loop := f.loop(LoopConfig{})
	f.sink.Reject(CollectionCheckpoint, true)

	result, err := loop.Tick(context.Background())
	require.ErrorIs(t, err, ErrMarkerRejected)
	assert.False(t, result.Advanced)
	assert.Equal(t, domain.Revision(0), f.checkpoint(t))
	assert.Empty(t, f.store.History(f.identity))
}

func TestSyncLoop_ConfirmMode_ContentItemFailureStillAdvances(t *testing.T) {
	f := newLoopFixture(t)
	loop := f.loop(LoopConfig{})
	f.sink.Reject(CollectionDocument, true)

	result, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Advanced)
	assert.Equal(t, domain.Revision(7), f.checkpoint(t))
}

func TestSyncLoop_OptimisticMode(t *testing.T) {
	t.Run("advances before submission", func(t *testing.T) {
		f := newLoopFixture(t)
		loop := f.loop(LoopConfig{Mode: ModeOptimistic})

		result, err := loop.Tick(context.Background())
		require.NoError(t, err)
		assert.True(t, result.Advanced)
		assert.Equal(t, domain.Revision(7), f.checkpoint(t))
		assert.Len(t, f.sink.Documents(f.identity, CollectionDocument), 11)
	})

	t.Run("sink failure leaves checkpoint ahead", func(t *testing.T) {
		f := newLoopFixture(t)
		loop := f.loop(LoopConfig{Mode: ModeOptimistic})
		f.sink.FailNext(sink.ErrUnavailable)

		result, err := loop.Tick(context.Background())
		require.ErrorIs(t, err, sink.ErrUnavailable)
		assert.True(t, result.Advanced)
		assert.Equal(t, domain.Revision(7), f.checkpoint(t))

		// lost revisions are not retried
		next, err := loop.Tick(context.Background())
		require.NoError(t, err)
		assert.True(t, next.UpToDate)
		assert.Empty(t, f.sink.Documents(f.identity, CollectionDocument))
	})
}

func TestSyncLoop_HeadFailure(t *testing.T) {
	f := newLoopFixture(t)
	loop := f.loop(LoopConfig{})
	f.source.FailLatest(revsource.ErrRepositoryUnreachable)

	_, err := loop.Tick(context.Background())
	require.ErrorIs(t, err, revsource.ErrRepositoryUnreachable)
	assert.Zero(t, f.sink.Submissions())
	assert.Equal(t, domain.Revision(0), f.checkpoint(t))

	status := loop.Status()
	assert.Contains(t, status.LastError, "unreachable")
	assert.Equal(t, 1, status.Ticks)

	f.source.FailLatest(nil)
	_, err = loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Revision(7), f.checkpoint(t))
}

func TestSyncLoop_UnreachableDuringAssembly(t *testing.T) {
	f := newLoopFixture(t)
	loop := f.loop(LoopConfig{})
	f.source.FailRead("/module1/trunk/src/main.go", revsource.ErrRepositoryUnreachable)

	_, err := loop.Tick(context.Background())
	require.ErrorIs(t, err, revsource.ErrRepositoryUnreachable)
	assert.Zero(t, f.sink.Submissions())
	assert.Equal(t, domain.Revision(0), f.checkpoint(t))
}

func TestSyncLoop_EntryNotFoundIsSwallowed(t *testing.T) {
	f := newLoopFixture(t)
	loop := f.loop(LoopConfig{})
	f.source.FailRead("/module1/trunk/notes.md", revsource.ErrEntryNotFound)

	result, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 11, result.Documents)
	assert.Equal(t, domain.Revision(7), f.checkpoint(t))
}

func TestSyncLoop_CancelledFetch(t *testing.T) {
	f := newLoopFixture(t)
	loop := f.loop(LoopConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loop.Tick(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.Revision(0), f.checkpoint(t))
	assert.Empty(t, loop.Status().LastError)
}

// blockingSink holds every submission until released.
type blockingSink struct {
	*sink.MemorySink
	entered chan struct{}
	release chan struct{}
	ctxErr  error
}

func (b *blockingSink) Submit(ctx context.Context, identity domain.Identity, writes []sink.Write) (sink.Result, error) {
	close(b.entered)
	<-b.release
	b.ctxErr = ctx.Err()
	return b.MemorySink.Submit(ctx, identity, writes)
}

func TestSyncLoop_ShutdownDuringSubmission(t *testing.T) {
	f := newLoopFixture(t)
	snk := &blockingSink{
		MemorySink: f.sink,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	loop := NewSyncLoop(LoopConfig{Identity: f.identity, Mode: ModeConfirm}, f.source, nil, snk, f.store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		result TickResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := loop.Tick(ctx)
		done <- outcome{result, err}
	}()

	select {
	case <-snk.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("submission did not start")
	}
	assert.Equal(t, StateSubmitting, loop.State())
	cancel()
	close(snk.release)

	var out outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tick did not finish")
	}
	require.NoError(t, out.err)
	assert.True(t, out.result.Advanced)
	assert.NoError(t, snk.ctxErr)
	assert.Len(t, f.sink.Documents(f.identity, CollectionDocument), 11)
	assert.Equal(t, domain.Revision(7), f.checkpoint(t))
}

func TestSyncLoop_RecordsErrorsInManifest(t *testing.T) {
	f := newLoopFixture(t)
	store, err := checkpoint.NewManifestStore(filepath.Join(t.TempDir(), checkpoint.ManifestFilename))
	require.NoError(t, err)
	loop := NewSyncLoop(LoopConfig{Identity: f.identity}, f.source, nil, f.sink, store, nil)

	f.source.FailLatest(errors.New("boom"))
	_, err = loop.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, store.States()[f.identity.ID].Error, "boom")

	f.source.FailLatest(nil)
	_, err = loop.Tick(context.Background())
	require.NoError(t, err)
	state := store.States()[f.identity.ID]
	assert.Empty(t, state.Error)
	assert.Equal(t, domain.Revision(7), state.Revision)
}

func TestSyncLoop_FollowsExternalCheckpointReset(t *testing.T) {
	f := newLoopFixture(t)
	path := filepath.Join(t.TempDir(), checkpoint.ManifestFilename)
	running, err := checkpoint.NewManifestStore(path)
	require.NoError(t, err)
	loop := NewSyncLoop(LoopConfig{Identity: f.identity}, f.source, nil, f.sink, running, nil)

	first, err := loop.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.Window{From: 1, To: 7}, first.Window)

	operator, err := checkpoint.NewManifestStore(path)
	require.NoError(t, err)
	require.NoError(t, operator.Set(context.Background(), f.identity, 3))

	second, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.Window{From: 4, To: 7, Incremental: true}, second.Window)
	assert.Equal(t, 4, second.Revisions)

	rev, err := operator.Get(context.Background(), f.identity)
	require.NoError(t, err)
	assert.Equal(t, domain.Revision(7), rev)
}

func TestSyncLoop_RunStopsOnCancel(t *testing.T) {
	f := newLoopFixture(t)
	loop := f.loop(LoopConfig{BulkSize: 1, UpdateRate: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		return loop.Status().Checkpoint == 7
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, StateStopped, loop.State())
	assert.Equal(t, domain.Revision(7), f.checkpoint(t))
}

func TestSyncLoop_Status(t *testing.T) {
	f := newLoopFixture(t)
	loop := f.loop(LoopConfig{BulkSize: 3, Mode: ModeOptimistic})
	assert.Equal(t, StateIdle, loop.State())

	_, err := loop.Tick(context.Background())
	require.NoError(t, err)

	status := loop.Status()
	assert.Equal(t, f.identity, status.Identity)
	assert.Equal(t, ModeOptimistic, status.Mode)
	assert.Equal(t, domain.Revision(4), status.Checkpoint)
	assert.Equal(t, domain.Revision(7), status.Head)
	assert.Equal(t, int64(3), status.Behind())
	assert.Equal(t, crawler.Window{From: 1, To: 4}, status.LastWindow)
	assert.False(t, status.LastTick.IsZero())
}

func TestParseCheckpointMode(t *testing.T) {
	tests := []struct {
		name    string
		want    CheckpointMode
		wantErr bool
	}{
		{"", ModeConfirm, false},
		{"confirm", ModeConfirm, false},
		{"optimistic", ModeOptimistic, false},
		{"eager", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCheckpointMode(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "checkpoint_advance", StateCheckpointAdvance.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "state(42)", State(42).String())
}
