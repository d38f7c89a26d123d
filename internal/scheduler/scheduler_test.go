package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hbomb79/Iris/internal/catalog"
	"github.com/hbomb79/Iris/internal/database"
	"github.com/hbomb79/Iris/internal/geocode"
	"github.com/hbomb79/Iris/internal/library"
	"github.com/hbomb79/Iris/internal/metadata"
	"github.com/hbomb79/Iris/internal/vision"
	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.SetMinLoggingLevel(logger.FATAL.Level())
	m.Run()
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
}

func (clock *fakeClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.t
}

func (clock *fakeClock) Advance(d time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.t = clock.t.Add(d)
}

type fakeSource struct {
	refs []library.FileRef
}

func (source *fakeSource) ListFiles(_ context.Context) ([]library.FileRef, error) {
	return source.refs, nil
}

func (source *fakeSource) Download(_ context.Context, _ library.FileRef) ([]byte, error) {
	return []byte("plain bytes with no embedded metadata"), nil
}

// fakeRemote plays both the existence-probe and sync roles, backed by
// one map so that synced records are visible to subsequent probes the
// way the real metadata store behaves.
type fakeRemote struct {
	mu        sync.Mutex
	records   map[string]map[string]any
	syncOrder []string
	failIDs   map[string]bool
	onSync    func()
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{records: make(map[string]map[string]any), failIDs: make(map[string]bool)}
}

func (remote *fakeRemote) GetMetadata(_ context.Context, fileID string, _ string) (map[string]any, error) {
	remote.mu.Lock()
	defer remote.mu.Unlock()
	if fields, ok := remote.records[fileID]; ok {
		return fields, nil
	}
	return nil, catalog.ErrNotFound
}

func (remote *fakeRemote) Sync(_ context.Context, record *metadata.Record) catalog.SyncResult {
	remote.mu.Lock()
	remote.syncOrder = append(remote.syncOrder, record.FileID)
	failed := remote.failIDs[record.FileID]
	if !failed {
		remote.records[record.FileID] = record.FieldMap()
	}
	onSync := remote.onSync
	remote.mu.Unlock()

	if onSync != nil {
		onSync()
	}
	if failed {
		return catalog.SyncResult{Outcome: catalog.OutcomeFailed, Err: errors.New("remote rejected record")}
	}
	return catalog.SyncResult{Outcome: catalog.OutcomeCreated, Ops: 1}
}

type stubVision struct{}

func (stubVision) Analyze(_ context.Context, _ []byte) (*vision.Analysis, error) {
	return nil, errors.New("vision backend offline")
}

type stubGeocoder struct{}

func (stubGeocoder) ReverseGeocode(_ context.Context, _ float64, _ float64) (*geocode.Place, error) {
	return nil, nil
}

func newTestDB(t *testing.T) database.Manager {
	db := database.New()
	require.NoError(t, db.Connect(database.DatabaseConfig{Path: ":memory:"}))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func refs(ids ...string) []library.FileRef {
	out := make([]library.FileRef, len(ids))
	for i, id := range ids {
		out[i] = library.FileRef{ID: id, Name: id, Path: "photos"}
	}
	return out
}

func newTestService(config Config, db database.Manager, source *fakeSource, remote *fakeRemote, clock *fakeClock) *Service {
	service := New(config, "assetEnrichment", db, NewStore(), source, remote, remote, stubVision{}, stubGeocoder{})
	service.now = clock.Now
	return service
}

func Test_RunOnce_ProcessesEntireLibraryWithinBudget(t *testing.T) {
	db := newTestDB(t)
	remote := newFakeRemote()
	clock := newFakeClock()
	service := newTestService(Config{BudgetSeconds: 600, SchemaVersion: 1}, db, &fakeSource{refs: refs("a.jpg", "b.jpg", "c.jpg")}, remote, clock)

	summary, err := service.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Zero(t, summary.Skipped)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, remote.syncOrder)

	checkpoint, err := NewStore().LoadCheckpoint(db.GetSqlxDb())
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.True(t, checkpoint.CycleComplete)
	assert.Empty(t, checkpoint.Cursor)
}

func Test_RunOnce_BudgetExpiryThenResumeCoversRemainder(t *testing.T) {
	db := newTestDB(t)
	remote := newFakeRemote()
	clock := newFakeClock()
	config := Config{BudgetSeconds: 10, SchemaVersion: 1}
	source := &fakeSource{refs: refs("a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg")}
	service := newTestService(config, db, source, remote, clock)

	// Each sync burns six fake seconds, so the ten second budget
	// expires after the second item.
	remote.onSync = func() { clock.Advance(6 * time.Second) }

	first, err := service.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Processed)

	checkpoint, err := NewStore().LoadCheckpoint(db.GetSqlxDb())
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.False(t, checkpoint.CycleComplete)
	assert.Equal(t, "b.jpg", checkpoint.Cursor)

	// The resumed invocation must process exactly the remaining three
	// files with no duplicates and no gaps.
	remote.onSync = nil
	second, err := service.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, second.Processed)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg"}, remote.syncOrder)

	checkpoint, err = NewStore().LoadCheckpoint(db.GetSqlxDb())
	require.NoError(t, err)
	assert.True(t, checkpoint.CycleComplete)
}

func Test_RunOnce_OrdersByPriorityClass(t *testing.T) {
	db := newTestDB(t)
	remote := newFakeRemote()
	clock := newFakeClock()
	config := Config{BudgetSeconds: 600, SchemaVersion: 2}
	service := newTestService(config, db, &fakeSource{refs: refs("current.jpg", "stale.jpg", "new.jpg")}, remote, clock)

	store := NewStore()
	past := clock.Now().Add(-time.Hour)
	require.NoError(t, store.RecordProcessed(db.GetSqlxDb(), ProcessedFile{
		FileID: "stale.jpg", RunID: "old-run", SchemaVersion: 1, Outcome: "created", ProcessedAt: past,
	}))
	require.NoError(t, store.RecordProcessed(db.GetSqlxDb(), ProcessedFile{
		FileID: "current.jpg", RunID: "old-run", SchemaVersion: 2, Outcome: "created", ProcessedAt: past,
	}))
	remote.records["current.jpg"] = map[string]any{"schemaVersion": float64(2), "processingStage": metadata.StageAIAnalyzed}

	summary, err := service.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"new.jpg", "stale.jpg"}, remote.syncOrder, "never-processed precedes stale; current is verified last and skipped")
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
}

func Test_RunOnce_SyncFailureIsCountedAndBatchContinues(t *testing.T) {
	db := newTestDB(t)
	remote := newFakeRemote()
	remote.failIDs["bad.jpg"] = true
	clock := newFakeClock()
	service := newTestService(Config{BudgetSeconds: 600, SchemaVersion: 1}, db, &fakeSource{refs: refs("bad.jpg", "good.jpg")}, remote, clock)

	summary, err := service.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Processed)
	assert.Contains(t, remote.records, "good.jpg")
	assert.NotContains(t, remote.records, "bad.jpg")
}

type brokenStore struct{ Store }

func (brokenStore) LoadCheckpoint(_ database.Queryable) (*Checkpoint, error) {
	return nil, errors.New("disk corrupt")
}

func Test_RunOnce_CheckpointStoreFailureIsFatal(t *testing.T) {
	db := newTestDB(t)
	remote := newFakeRemote()
	clock := newFakeClock()
	service := newTestService(Config{BudgetSeconds: 600, SchemaVersion: 1}, db, &fakeSource{refs: refs("a.jpg")}, remote, clock)
	service.store = brokenStore{}

	_, err := service.RunOnce(context.Background())

	assert.Error(t, err)
	assert.Empty(t, remote.syncOrder, "no file work may happen without readable scheduler state")
}

func Test_Store_CheckpointRoundTrip(t *testing.T) {
	db := newTestDB(t)
	store := NewStore()

	loaded, err := store.LoadCheckpoint(db.GetSqlxDb())
	require.NoError(t, err)
	assert.Nil(t, loaded, "no checkpoint exists before the first save")

	saved := Checkpoint{
		RunID:          "run-1",
		SchemaVersion:  3,
		Cursor:         "photos/b.jpg",
		CycleComplete:  false,
		CycleStartedAt: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2026, 1, 10, 9, 4, 0, 0, time.UTC),
	}
	require.NoError(t, store.SaveCheckpoint(db.GetSqlxDb(), saved))

	loaded, err = store.LoadCheckpoint(db.GetSqlxDb())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, saved.RunID, loaded.RunID)
	assert.Equal(t, saved.SchemaVersion, loaded.SchemaVersion)
	assert.Equal(t, saved.Cursor, loaded.Cursor)
	assert.False(t, loaded.CycleComplete)

	saved.CycleComplete = true
	saved.Cursor = ""
	require.NoError(t, store.SaveCheckpoint(db.GetSqlxDb(), saved))
	loaded, err = store.LoadCheckpoint(db.GetSqlxDb())
	require.NoError(t, err)
	assert.True(t, loaded.CycleComplete)
	assert.Empty(t, loaded.Cursor)
}
