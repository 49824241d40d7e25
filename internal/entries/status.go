package entries

import (
	"errors"
	"fmt"
)

// Transition names one edge of the sync status state machine.
type Transition string

const (
	// TransitionBeginPush starts an upload attempt: pending|error -> syncing.
	TransitionBeginPush Transition = "begin_push"
	// TransitionPushSucceeded records a durable upload: syncing -> synced.
	TransitionPushSucceeded Transition = "push_succeeded"
	// TransitionPushFailed records a failed upload: syncing -> error.
	TransitionPushFailed Transition = "push_failed"
	// TransitionRemoteMerged adopts a newer remote version: any -> synced.
	TransitionRemoteMerged Transition = "remote_merged"
	// TransitionLocalEdit reopens an edited record for upload: pending|synced|error -> pending.
	TransitionLocalEdit Transition = "local_edit"
	// TransitionRecoverStuck is the operator-only escape for records stranded in syncing.
	TransitionRecoverStuck Transition = "recover_stuck"
)

// ErrInvalidTransition indicates a status change outside the transition table.
var ErrInvalidTransition = errors.New("entries: invalid status transition")

var transitionTable = map[Transition]struct {
	from []SyncStatus
	to   SyncStatus
}{
	TransitionBeginPush:     {from: []SyncStatus{StatusPending, StatusError}, to: StatusSyncing},
	TransitionPushSucceeded: {from: []SyncStatus{StatusSyncing}, to: StatusSynced},
	TransitionPushFailed:    {from: []SyncStatus{StatusSyncing}, to: StatusError},
	TransitionRemoteMerged:  {from: []SyncStatus{StatusPending, StatusSyncing, StatusSynced, StatusError}, to: StatusSynced},
	TransitionLocalEdit:     {from: []SyncStatus{StatusPending, StatusSynced, StatusError}, to: StatusPending},
	TransitionRecoverStuck:  {from: []SyncStatus{StatusSyncing}, to: StatusError},
}

// Next returns the status reached by applying transition to current.
func Next(current SyncStatus, transition Transition) (SyncStatus, error) {
	edge, ok := transitionTable[transition]
	if !ok {
		return "", fmt.Errorf("%w: unknown transition %q", ErrInvalidTransition, transition)
	}
	for _, from := range edge.from {
		if from == current {
			return edge.to, nil
		}
	}
	return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, transition, current)
}

// Outcome carries the side data a transition stamps onto the record.
type Outcome struct {
	RemoteID string
	Err      error
	// UploadedVersion is the updated_at of the copy a push sent. When the stored record
	// moved on during the upload, push_succeeded leaves it pending so the edit is re-sent.
	UploadedVersion int64
}

func applyTransition(entry *FuelEntry, transition Transition, outcome Outcome) error {
	next, err := Next(entry.SyncStatus, transition)
	if err != nil {
		return err
	}
	switch next {
	case StatusSynced:
		if outcome.RemoteID != "" {
			entry.RemoteID = pointerTo(outcome.RemoteID)
		}
		if entry.RemoteID == nil {
			return fmt.Errorf("%w: %s requires a remote id", ErrInvalidTransition, transition)
		}
		entry.LastError = nil
	case StatusError:
		message := "unknown error"
		if outcome.Err != nil && outcome.Err.Error() != "" {
			message = outcome.Err.Error()
		}
		entry.LastError = pointerTo(message)
	default:
		entry.LastError = nil
	}
	entry.SyncStatus = next
	if transition == TransitionPushSucceeded && outcome.UploadedVersion != 0 && entry.UpdatedAtMsec != outcome.UploadedVersion {
		return applyTransition(entry, TransitionLocalEdit, Outcome{})
	}
	return nil
}
