package entries

// MergeDecision enumerates the outcomes of merging one remote candidate.
type MergeDecision string

const (
	// MergeInserted means no local record existed and the remote one was adopted.
	MergeInserted MergeDecision = "inserted"
	// MergeOverwritten means the remote candidate was strictly newer and replaced local fields.
	MergeOverwritten MergeDecision = "overwritten"
	// MergeDiscarded means the local record is authoritative and stays unchanged.
	MergeDiscarded MergeDecision = "discarded"
)

// MergeOutcome captures the decision from resolveRemote.
type MergeOutcome struct {
	Decision MergeDecision
	Entry    FuelEntry
}

// Merged reports whether the decision changed the local store.
func (o MergeOutcome) Merged() bool {
	return o.Decision == MergeInserted || o.Decision == MergeOverwritten
}

// ResolveRemote applies last-write-wins on updated_at. remoteObjectID names the remote
// document the candidate was read from and becomes the record's remote id whenever the
// result ends up synced.
func ResolveRemote(existing *FuelEntry, remote FuelEntry, remoteObjectID string) MergeOutcome {
	if existing == nil {
		inserted := remote
		inserted.SyncStatus = restoredStatus(remote.SyncStatus)
		normalizeRestored(&inserted, remoteObjectID)
		return MergeOutcome{Decision: MergeInserted, Entry: inserted}
	}

	if remote.UpdatedAtMsec <= existing.UpdatedAtMsec {
		return MergeOutcome{Decision: MergeDiscarded, Entry: *existing}
	}

	overwritten := remote
	overwritten.LocalID = existing.LocalID
	if len(overwritten.Photo) == 0 {
		overwritten.Photo = existing.Photo
	}
	if overwritten.RemoteID == nil {
		overwritten.RemoteID = existing.RemoteID
	}
	overwritten.SyncStatus = existing.SyncStatus
	if err := applyTransition(&overwritten, TransitionRemoteMerged, Outcome{RemoteID: remoteObjectID}); err != nil {
		overwritten.SyncStatus = StatusSynced
		normalizeRestored(&overwritten, remoteObjectID)
	}
	return MergeOutcome{Decision: MergeOverwritten, Entry: overwritten}
}

// restoredStatus honours the status a remote document declares, defaulting to synced.
// A remote record is never in flight locally, so syncing becomes pending.
func restoredStatus(declared SyncStatus) SyncStatus {
	status, err := ParseSyncStatus(string(declared))
	if err != nil {
		return StatusSynced
	}
	if status == StatusSyncing {
		return StatusPending
	}
	return status
}

func normalizeRestored(entry *FuelEntry, remoteObjectID string) {
	switch entry.SyncStatus {
	case StatusSynced:
		if remoteObjectID != "" {
			entry.RemoteID = pointerTo(remoteObjectID)
		}
		entry.LastError = nil
	case StatusError:
		if entry.LastError == nil || *entry.LastError == "" {
			entry.LastError = pointerTo("restored in error state")
		}
	default:
		entry.LastError = nil
	}
}
