package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/entries"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/events"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/gateway"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingRecorder struct {
	mu    sync.Mutex
	calls []time.Time
}

func (r *recordingRecorder) RecordSync(_ context.Context, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, at)
	return nil
}

// flakyGateway fails uploads whose file name contains one of the configured markers.
type flakyGateway struct {
	gateway.Gateway
	failUploads  []string
	failFolders  bool
	failDownload map[string]bool
	folderCalls  int
}

func (g *flakyGateway) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	g.folderCalls++
	if g.failFolders {
		return "", &gateway.RemoteRejected{Operation: "ensure_folder", Status: 403, Message: "quota"}
	}
	return g.Gateway.EnsureFolder(ctx, name, parentID)
}

func (g *flakyGateway) UploadBlob(ctx context.Context, folderID, fileName string, data []byte, contentType string) (gateway.Object, error) {
	for _, marker := range g.failUploads {
		if strings.Contains(fileName, marker) {
			return gateway.Object{}, &gateway.NetworkFailure{Operation: "upload_blob", Err: errors.New("connection reset")}
		}
	}
	return g.Gateway.UploadBlob(ctx, folderID, fileName, data, contentType)
}

func (g *flakyGateway) DownloadObject(ctx context.Context, objectID string) ([]byte, error) {
	if g.failDownload[objectID] {
		return nil, &gateway.RemoteRejected{Operation: "download_object", Status: 500}
	}
	return g.Gateway.DownloadObject(ctx, objectID)
}

type harness struct {
	store    *entries.Store
	memory   *gateway.Memory
	remote   *flakyGateway
	recorder *recordingRecorder
	events   *events.Dispatcher
	engine   *Engine
}

func signedIn() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "token"})
}

func newHarness(t *testing.T, tokens oauth2.TokenSource) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:fueltrack_syncer_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entries.FuelEntry{}))

	store, err := entries.NewStore(entries.StoreConfig{Database: db, Clock: func() time.Time { return testNow }})
	require.NoError(t, err)

	memory := gateway.NewMemory(signedIn())
	remote := &flakyGateway{Gateway: memory, failDownload: map[string]bool{}}
	recorder := &recordingRecorder{}
	dispatcher := events.NewDispatcher()
	engine, err := NewEngine(Config{
		Store:    store,
		Remote:   remote,
		Tokens:   tokens,
		Recorder: recorder,
		Events:   dispatcher,
		Clock:    func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return &harness{store: store, memory: memory, remote: remote, recorder: recorder, events: dispatcher, engine: engine}
}

func (h *harness) seed(t *testing.T, entry entries.FuelEntry) {
	t.Helper()
	require.NoError(t, h.store.Put(context.Background(), entry))
}

func (h *harness) dataFolder(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	rootID, err := h.memory.EnsureFolder(ctx, DefaultRootFolder, "")
	require.NoError(t, err)
	dataID, err := h.memory.EnsureFolder(ctx, "data", rootID)
	require.NoError(t, err)
	return dataID
}

func (h *harness) photosFolder(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	rootID, err := h.memory.EnsureFolder(ctx, DefaultRootFolder, "")
	require.NoError(t, err)
	photosID, err := h.memory.EnsureFolder(ctx, "photos", rootID)
	require.NoError(t, err)
	return photosID
}

func (h *harness) get(t *testing.T, localID string) entries.FuelEntry {
	t.Helper()
	entry, err := h.store.Get(context.Background(), entries.LocalID(localID))
	require.NoError(t, err)
	return entry
}

func entry(localID string, createdAt int64, status entries.SyncStatus) entries.FuelEntry {
	seeded := entries.FuelEntry{
		LocalID:       localID,
		VehicleID:     entries.DefaultVehicleID,
		OdometerKm:    1000 + createdAt%1000,
		CreatedAtMsec: createdAt,
		UpdatedAtMsec: createdAt,
		SyncStatus:    status,
	}
	switch status {
	case entries.StatusError:
		message := "previous failure"
		seeded.LastError = &message
	case entries.StatusSynced:
		remoteID := "remote-" + localID
		seeded.RemoteID = &remoteID
	}
	return seeded
}

func TestPushSkipsWithoutCapability(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(t, entry("entry-1", 1, entries.StatusPending))

	result, err := h.engine.Push(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, entries.StatusPending, h.get(t, "entry-1").SyncStatus)
	assert.Empty(t, h.recorder.calls)
}

func TestPushWithoutCandidatesIsNoop(t *testing.T) {
	h := newHarness(t, signedIn())
	h.seed(t, entry("entry-1", 1, entries.StatusSynced))

	result, err := h.engine.Push(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Zero(t, result.Attempted)
	assert.Empty(t, h.recorder.calls, "no-op phase must not touch last_sync_at")
	assert.Zero(t, h.remote.folderCalls, "no-op phase must not touch the remote store")
}

func TestPushIsolatesRecordFailures(t *testing.T) {
	h := newHarness(t, signedIn())
	first := entry("entry-a", 3, entries.StatusPending)
	first.Photo = []byte{0xff, 0xd8, 0xff}
	h.seed(t, first)
	h.seed(t, entry("entry-b", 2, entries.StatusError))
	h.seed(t, entry("entry-c", 1, entries.StatusPending))
	h.remote.failUploads = []string{"entry-b"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := h.events.Subscribe(ctx, events.KindSyncCompleted)
	defer cleanup()

	result, err := h.engine.Push(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	for _, localID := range []string{"entry-a", "entry-c"} {
		synced := h.get(t, localID)
		assert.Equal(t, entries.StatusSynced, synced.SyncStatus, localID)
		require.NotNil(t, synced.RemoteID, localID)
		assert.Nil(t, synced.LastError, localID)
	}
	failed := h.get(t, "entry-b")
	assert.Equal(t, entries.StatusError, failed.SyncStatus)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, "connection reset")

	assert.Equal(t, []string{"entry-a.json", "entry-c.json"}, h.memory.Names(h.dataFolder(t)))
	assert.Equal(t, []string{"entry-a.jpg"}, h.memory.Names(h.photosFolder(t)))
	assert.Equal(t, []time.Time{testNow}, h.recorder.calls)

	select {
	case event := <-stream:
		assert.Equal(t, "2", event.Attrs["succeeded"])
		assert.Len(t, event.LocalIDs, 3)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected sync-completed event")
	}
}

func TestPushPhotoFailureAbortsRecord(t *testing.T) {
	h := newHarness(t, signedIn())
	withPhoto := entry("entry-a", 1, entries.StatusPending)
	withPhoto.Photo = []byte{0xff}
	h.seed(t, withPhoto)
	h.remote.failUploads = []string{".jpg"}

	result, err := h.engine.Push(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, entries.StatusError, h.get(t, "entry-a").SyncStatus)
	assert.Empty(t, h.memory.Names(h.dataFolder(t)), "data document must not be uploaded after photo failure")
}

func TestPushFolderFailureIsPhaseError(t *testing.T) {
	h := newHarness(t, signedIn())
	h.seed(t, entry("entry-a", 1, entries.StatusPending))
	h.remote.failFolders = true

	_, err := h.engine.Push(context.Background(), "")
	require.Error(t, err)
	_, rejected := gateway.IsRemoteRejected(err)
	assert.True(t, rejected)
	assert.Equal(t, entries.StatusPending, h.get(t, "entry-a").SyncStatus)
	assert.Empty(t, h.recorder.calls)
}

func TestPushScopesToVehicle(t *testing.T) {
	h := newHarness(t, signedIn())
	h.seed(t, entry("entry-a", 1, entries.StatusPending))
	other := entry("entry-b", 2, entries.StatusPending)
	other.VehicleID = "scooter"
	h.seed(t, other)

	result, err := h.engine.Push(context.Background(), "scooter")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, entries.StatusPending, h.get(t, "entry-a").SyncStatus)
	assert.Equal(t, entries.StatusSynced, h.get(t, "entry-b").SyncStatus)
}

func TestRestoreRequiresCapability(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.engine.Restore(context.Background())
	assert.ErrorIs(t, err, gateway.ErrUnauthenticated)
}

func TestRestoreMergesWithLastWriteWins(t *testing.T) {
	h := newHarness(t, signedIn())
	dataID := h.dataFolder(t)

	local := entry("entry-newer-remote", 100, entries.StatusError)
	local.Photo = []byte{0x01}
	h.seed(t, local)
	kept := entry("entry-older-remote", 100, entries.StatusPending)
	kept.UpdatedAtMsec = 500
	h.seed(t, kept)

	newerRemote := entry("entry-newer-remote", 100, entries.StatusSynced)
	newerRemote.UpdatedAtMsec = 900
	newerRemote.OdometerKm = 4321
	olderRemote := entry("entry-older-remote", 100, entries.StatusSynced)
	olderRemote.UpdatedAtMsec = 400
	fresh := entry("entry-fresh", 50, entries.StatusSynced)

	putDocument(t, h.memory, dataID, newerRemote)
	putDocument(t, h.memory, dataID, olderRemote)
	freshObject := putDocument(t, h.memory, dataID, fresh)
	h.memory.Put(dataID, "broken.json", []byte("{not json"))
	h.memory.Put(dataID, "anonymous.json", []byte(`{"odometer_km": 10}`))
	unreachable := h.memory.Put(dataID, "unreachable.json", []byte(`{"local_id":"entry-unreachable"}`))
	h.remote.failDownload[unreachable.ID] = true

	result, err := h.engine.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, result.Listed)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Overwritten)
	assert.Equal(t, 1, result.Discarded)
	assert.Equal(t, 3, result.Skipped)
	assert.Equal(t, 2, result.Merged())

	overwritten := h.get(t, "entry-newer-remote")
	assert.Equal(t, int64(4321), overwritten.OdometerKm)
	assert.Equal(t, entries.StatusSynced, overwritten.SyncStatus)
	assert.Nil(t, overwritten.LastError)
	assert.Equal(t, []byte{0x01}, overwritten.Photo)

	untouched := h.get(t, "entry-older-remote")
	assert.Equal(t, entries.StatusPending, untouched.SyncStatus)
	assert.Equal(t, int64(500), untouched.UpdatedAtMsec)

	inserted := h.get(t, "entry-fresh")
	assert.Equal(t, entries.StatusSynced, inserted.SyncStatus)
	require.NotNil(t, inserted.RemoteID)
	assert.Equal(t, freshObject.ID, *inserted.RemoteID)

	_, err = h.store.Get(context.Background(), "entry-unreachable")
	assert.ErrorIs(t, err, entries.ErrNotFound)
}

func TestPushThenRestoreOnFreshDevice(t *testing.T) {
	source := newHarness(t, signedIn())
	source.seed(t, entry("entry-a", 1, entries.StatusPending))
	source.seed(t, entry("entry-b", 2, entries.StatusPending))
	_, err := source.engine.Push(context.Background(), "")
	require.NoError(t, err)

	target := newHarness(t, signedIn())
	target.engine.remote = source.remote

	result, err := target.engine.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)

	restored, err := target.store.List(context.Background(), entries.Filter{})
	require.NoError(t, err)
	require.Len(t, restored, 2)
	for _, item := range restored {
		assert.Equal(t, entries.StatusSynced, item.SyncStatus)
		require.NotNil(t, item.RemoteID)
	}

	again, err := target.engine.Restore(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Merged(), "second restore must discard equal timestamps")
}

func putDocument(t *testing.T, memory *gateway.Memory, folderID string, document entries.FuelEntry) gateway.Object {
	t.Helper()
	payload, err := EncodeEntry(document)
	require.NoError(t, err)
	return memory.Put(folderID, dataFileName(document.LocalID), payload)
}
