package entries

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

const opRecoverStuck = "entries.recover_stuck"

var errStranded = errors.New("push interrupted while syncing; requeued by operator")

// Stranded lists entries left in syncing by a push phase that never finished.
func (s *Store) Stranded(ctx context.Context) ([]FuelEntry, error) {
	return s.List(ctx, Filter{Statuses: []SyncStatus{StatusSyncing}})
}

// RecoverStuck moves every stranded entry to error so the next push retries it. It is
// only ever invoked explicitly by an operator.
func (s *Store) RecoverStuck(ctx context.Context) ([]FuelEntry, error) {
	stranded, err := s.Stranded(ctx)
	if err != nil {
		return nil, err
	}
	recovered := make([]FuelEntry, 0, len(stranded))
	for _, entry := range stranded {
		localID, err := NewLocalID(entry.LocalID)
		if err != nil {
			return recovered, err
		}
		updated, err := s.Transition(ctx, localID, TransitionRecoverStuck, Outcome{Err: errStranded})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			s.logError(opRecoverStuck, "transition_failed", err, zap.String("local_id", entry.LocalID))
			return recovered, err
		}
		s.loggerOrDefault().Warn("stranded entry recovered",
			zap.String("operation", opRecoverStuck),
			zap.String("local_id", updated.LocalID))
		recovered = append(recovered, updated)
	}
	return recovered, nil
}
