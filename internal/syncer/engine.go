// Package syncer replicates the local record store to the remote object store and back.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/entries"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/events"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/gateway"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var errMissingDependency = errors.New("syncer: record store, gateway and sync recorder are required")

// RecordStore is the part of the local store the engine drives.
type RecordStore interface {
	List(ctx context.Context, filter entries.Filter) ([]entries.FuelEntry, error)
	Get(ctx context.Context, localID entries.LocalID) (entries.FuelEntry, error)
	Put(ctx context.Context, entry entries.FuelEntry) error
	Transition(ctx context.Context, localID entries.LocalID, transition entries.Transition, outcome entries.Outcome) (entries.FuelEntry, error)
	ReplaceIfUnchanged(ctx context.Context, entry entries.FuelEntry, expectedUpdatedAt int64) (bool, error)
}

// SyncRecorder persists the time of the last push phase that processed records.
type SyncRecorder interface {
	RecordSync(ctx context.Context, at time.Time) error
}

// Config describes the dependencies of the Engine.
type Config struct {
	Store      RecordStore
	Remote     gateway.Gateway
	Tokens     oauth2.TokenSource
	Recorder   SyncRecorder
	Events     *events.Dispatcher
	RootFolder string
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Engine runs push and restore phases. It holds no lock; callers collapse overlapping
// triggers.
type Engine struct {
	store      RecordStore
	remote     gateway.Gateway
	tokens     oauth2.TokenSource
	recorder   SyncRecorder
	events     *events.Dispatcher
	rootFolder string
	clock      func() time.Time
	logger     *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Remote == nil || cfg.Recorder == nil {
		return nil, errMissingDependency
	}
	rootFolder := cfg.RootFolder
	if rootFolder == "" {
		rootFolder = DefaultRootFolder
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:      cfg.Store,
		remote:     cfg.Remote,
		tokens:     cfg.Tokens,
		recorder:   cfg.Recorder,
		events:     cfg.Events,
		rootFolder: rootFolder,
		clock:      clock,
		logger:     logger,
	}, nil
}

// RecordResult is the outcome of one push candidate.
type RecordResult struct {
	LocalID  string             `json:"local_id"`
	Status   entries.SyncStatus `json:"status"`
	RemoteID string             `json:"remote_id,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// PushResult summarises one push phase.
type PushResult struct {
	Skipped   bool           `json:"skipped"`
	Attempted int            `json:"attempted"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Records   []RecordResult `json:"records,omitempty"`
	SyncedAt  time.Time      `json:"synced_at,omitempty"`
}

// Push uploads every pending or failed entry, optionally scoped to one vehicle. Without a
// capability the phase is skipped. Per-record failures are recorded on the records and
// never abort the batch; only a phase that cannot start returns an error.
func (e *Engine) Push(ctx context.Context, vehicleID string) (PushResult, error) {
	if !e.capable() {
		e.logger.Debug("push skipped: no capability")
		return PushResult{Skipped: true}, nil
	}

	candidates, err := e.store.List(ctx, entries.CandidateFilter(vehicleID))
	if err != nil {
		return PushResult{}, fmt.Errorf("syncer: select candidates: %w", err)
	}
	if len(candidates) == 0 {
		return PushResult{}, nil
	}

	folders, err := resolveFolders(ctx, e.remote, e.rootFolder)
	if err != nil {
		e.logError("push", "folders_unavailable", err)
		return PushResult{}, fmt.Errorf("syncer: %w", err)
	}

	localIDs := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		localIDs = append(localIDs, candidate.LocalID)
	}
	e.publish(events.KindSyncStarted, localIDs, nil)

	result := PushResult{Records: make([]RecordResult, 0, len(candidates))}
	for _, candidate := range candidates {
		record := e.pushOne(ctx, folders, candidate)
		result.Attempted++
		if record.Status == entries.StatusSynced {
			result.Succeeded++
		} else {
			result.Failed++
		}
		result.Records = append(result.Records, record)
	}

	result.SyncedAt = e.clock().UTC()
	if err := e.recorder.RecordSync(ctx, result.SyncedAt); err != nil {
		e.logError("push", "record_sync_failed", err)
	}
	e.logger.Info("push phase completed",
		zap.Int("attempted", result.Attempted),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed))
	e.publish(events.KindSyncCompleted, localIDs, map[string]string{
		"succeeded": fmt.Sprint(result.Succeeded),
		"failed":    fmt.Sprint(result.Failed),
	})
	return result, nil
}

func (e *Engine) pushOne(ctx context.Context, folders Folders, candidate entries.FuelEntry) RecordResult {
	localID := entries.LocalID(candidate.LocalID)
	record := RecordResult{LocalID: candidate.LocalID, Status: candidate.SyncStatus}

	entry, err := e.store.Transition(ctx, localID, entries.TransitionBeginPush, entries.Outcome{})
	if err != nil {
		e.logError("push", "begin_rejected", err, zap.String("local_id", candidate.LocalID))
		record.Error = err.Error()
		return record
	}

	object, uploadErr := e.upload(ctx, folders, entry)
	if uploadErr != nil {
		failed, err := e.store.Transition(ctx, localID, entries.TransitionPushFailed, entries.Outcome{Err: uploadErr})
		if err != nil {
			e.logError("push", "record_stranded", err, zap.String("local_id", candidate.LocalID))
			record.Status = entries.StatusSyncing
		} else {
			record.Status = failed.SyncStatus
		}
		record.Error = uploadErr.Error()
		e.logger.Warn("entry upload failed", zap.String("local_id", candidate.LocalID), zap.Error(uploadErr))
		return record
	}

	synced, err := e.store.Transition(ctx, localID, entries.TransitionPushSucceeded, entries.Outcome{
		RemoteID:        object.ID,
		UploadedVersion: entry.UpdatedAtMsec,
	})
	if err != nil {
		e.logError("push", "record_stranded", err, zap.String("local_id", candidate.LocalID))
		record.Status = entries.StatusSyncing
		record.Error = err.Error()
		return record
	}
	record.Status = synced.SyncStatus
	record.RemoteID = object.ID
	return record
}

func (e *Engine) upload(ctx context.Context, folders Folders, entry entries.FuelEntry) (gateway.Object, error) {
	if entry.HasPhoto() {
		if _, err := e.remote.UploadBlob(ctx, folders.PhotosID, photoFileName(entry.LocalID), entry.Photo, gateway.ContentTypeJPEG); err != nil {
			return gateway.Object{}, fmt.Errorf("upload photo: %w", err)
		}
	}
	payload, err := EncodeEntry(entry)
	if err != nil {
		return gateway.Object{}, fmt.Errorf("encode entry: %w", err)
	}
	object, err := e.remote.UploadBlob(ctx, folders.DataID, dataFileName(entry.LocalID), payload, gateway.ContentTypeJSON)
	if err != nil {
		return gateway.Object{}, fmt.Errorf("upload data: %w", err)
	}
	return object, nil
}

// RestoreResult summarises one restore phase.
type RestoreResult struct {
	Listed      int `json:"listed"`
	Inserted    int `json:"inserted"`
	Overwritten int `json:"overwritten"`
	Discarded   int `json:"discarded"`
	Skipped     int `json:"skipped"`
}

// Merged returns the number of records inserted or overwritten.
func (r RestoreResult) Merged() int {
	return r.Inserted + r.Overwritten
}

// Restore pulls every remote document and merges it into the local store with
// last-write-wins on updated_at. Objects that fail to download or parse are skipped.
func (e *Engine) Restore(ctx context.Context) (RestoreResult, error) {
	if !e.capable() {
		return RestoreResult{}, gateway.ErrUnauthenticated
	}
	folders, err := resolveFolders(ctx, e.remote, e.rootFolder)
	if err != nil {
		e.logError("restore", "folders_unavailable", err)
		return RestoreResult{}, fmt.Errorf("syncer: %w", err)
	}
	objects, err := e.remote.ListJSONObjects(ctx, folders.DataID)
	if err != nil {
		e.logError("restore", "list_failed", err)
		return RestoreResult{}, fmt.Errorf("syncer: list remote documents: %w", err)
	}

	result := RestoreResult{Listed: len(objects)}
	var merged []string
	for _, object := range objects {
		decision, localID, err := e.restoreOne(ctx, object)
		if err != nil {
			result.Skipped++
			e.logger.Warn("remote document skipped", zap.String("object_id", object.ID), zap.Error(err))
			continue
		}
		switch decision {
		case entries.MergeInserted:
			result.Inserted++
			merged = append(merged, localID)
		case entries.MergeOverwritten:
			result.Overwritten++
			merged = append(merged, localID)
		default:
			result.Discarded++
		}
	}

	e.logger.Info("restore phase completed",
		zap.Int("listed", result.Listed),
		zap.Int("merged", result.Merged()),
		zap.Int("skipped", result.Skipped))
	e.publish(events.KindRestoreCompleted, merged, map[string]string{"merged": fmt.Sprint(result.Merged())})
	return result, nil
}

func (e *Engine) restoreOne(ctx context.Context, object gateway.Object) (entries.MergeDecision, string, error) {
	payload, err := e.remote.DownloadObject(ctx, object.ID)
	if err != nil {
		return "", "", err
	}
	remote, err := DecodeEntry(object.ID, payload)
	if err != nil {
		return "", "", err
	}
	localID := entries.LocalID(remote.LocalID)

	var existing *entries.FuelEntry
	stored, err := e.store.Get(ctx, localID)
	switch {
	case err == nil:
		existing = &stored
	case errors.Is(err, entries.ErrNotFound):
	default:
		return "", "", err
	}

	outcome := entries.ResolveRemote(existing, remote, object.ID)
	switch outcome.Decision {
	case entries.MergeInserted:
		if err := e.store.Put(ctx, outcome.Entry); err != nil {
			return "", "", err
		}
	case entries.MergeOverwritten:
		applied, err := e.store.ReplaceIfUnchanged(ctx, outcome.Entry, existing.UpdatedAtMsec)
		if err != nil {
			return "", "", err
		}
		if !applied {
			e.logger.Info("remote overwrite lost to concurrent local edit", zap.String("local_id", remote.LocalID))
			return entries.MergeDiscarded, remote.LocalID, nil
		}
	}
	return outcome.Decision, remote.LocalID, nil
}

func (e *Engine) capable() bool {
	if e.tokens == nil {
		return false
	}
	token, err := e.tokens.Token()
	return err == nil && token.Valid()
}

func (e *Engine) publish(kind events.Kind, localIDs []string, attrs map[string]string) {
	e.events.Publish(events.Event{Kind: kind, LocalIDs: localIDs, Attrs: attrs, Timestamp: e.clock().UTC()})
}

func (e *Engine) logError(phase, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", "syncer."+phase),
		zap.String("reason", reason),
		zap.Error(err),
	}
	e.logger.Error("sync engine error", append(attrs, fields...)...)
}
