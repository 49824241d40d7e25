package entries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errEmptyPatch      = errors.New("patch carries no fields")
	noOpLogger         = zap.NewNop()
)

// ServiceError tags a failure with a stable operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew           = "entries.store.new"
	opPut                = "entries.put"
	opUpdate             = "entries.update"
	opGet                = "entries.get"
	opList               = "entries.list"
	opTransition         = "entries.transition"
	opReplaceIfUnchanged = "entries.replace_if_unchanged"

	columnLocalID       = "local_id"
	queryLocalID        = columnLocalID + " = ?"
	queryLocalIDVersion = columnLocalID + " = ? AND updated_at_ms = ?"
	orderNewestFirst    = "created_at_ms DESC, local_id DESC"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// StoreConfig describes the dependencies of the record store.
type StoreConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Store is the durable local table of fuel entries. It owns the sync status field.
type Store struct {
	db     *gorm.DB
	ids    IDProvider
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, ids: ids, clock: clock, logger: logger}, nil
}

// Now returns the store clock in unix milliseconds.
func (s *Store) Now() int64 {
	return s.clock().UnixMilli()
}

// Put inserts or fully replaces the entry keyed by LocalID.
func (s *Store) Put(ctx context.Context, entry FuelEntry) error {
	if err := entry.Validate(); err != nil {
		return newServiceError(opPut, "invalid_entry", err)
	}
	if err := s.db.WithContext(ctx).Save(&entry).Error; err != nil {
		s.logError(opPut, "save_failed", err, zap.String("local_id", entry.LocalID))
		return newServiceError(opPut, "save_failed", err)
	}
	return nil
}

// Get returns the entry or ErrNotFound.
func (s *Store) Get(ctx context.Context, localID LocalID) (FuelEntry, error) {
	var entry FuelEntry
	err := s.db.WithContext(ctx).Where(queryLocalID, localID.String()).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return FuelEntry{}, ErrNotFound
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("local_id", localID.String()))
		return FuelEntry{}, newServiceError(opGet, "query_failed", err)
	}
	return entry, nil
}

// List returns entries newest first by creation time.
func (s *Store) List(ctx context.Context, filter Filter) ([]FuelEntry, error) {
	query := s.db.WithContext(ctx).Model(&FuelEntry{})
	if filter.VehicleID != "" {
		query = query.Where("vehicle_id = ?", filter.VehicleID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("sync_status IN ?", filter.Statuses)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var result []FuelEntry
	if err := query.Order(orderNewestFirst).Find(&result).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, newServiceError(opList, "query_failed", err)
	}
	return result, nil
}

// Update merges the patch into the stored entry, stamps updated_at and reopens the
// record for upload.
func (s *Store) Update(ctx context.Context, localID LocalID, patch Patch) (FuelEntry, error) {
	if patch.Empty() {
		return FuelEntry{}, newServiceError(opUpdate, "empty_patch", errEmptyPatch)
	}
	return s.mutate(ctx, opUpdate, localID, func(entry *FuelEntry) error {
		patch.apply(entry)
		// A record mid-push keeps syncing; the push outcome settles its status.
		if entry.SyncStatus == StatusSyncing {
			return nil
		}
		return applyTransition(entry, TransitionLocalEdit, Outcome{})
	})
}

// Transition applies one state machine edge and stamps updated_at.
func (s *Store) Transition(ctx context.Context, localID LocalID, transition Transition, outcome Outcome) (FuelEntry, error) {
	return s.mutate(ctx, opTransition, localID, func(entry *FuelEntry) error {
		return applyTransition(entry, transition, outcome)
	})
}

// ReplaceIfUnchanged overwrites the stored entry only while its updated_at still equals
// expectedUpdatedAt. It reports whether the write happened.
func (s *Store) ReplaceIfUnchanged(ctx context.Context, entry FuelEntry, expectedUpdatedAt int64) (bool, error) {
	if err := entry.Validate(); err != nil {
		return false, newServiceError(opReplaceIfUnchanged, "invalid_entry", err)
	}
	result := s.db.WithContext(ctx).
		Model(&FuelEntry{}).
		Where(queryLocalIDVersion, entry.LocalID, expectedUpdatedAt).
		Select("*").
		Updates(&entry)
	if result.Error != nil {
		s.logError(opReplaceIfUnchanged, "update_failed", result.Error, zap.String("local_id", entry.LocalID))
		return false, newServiceError(opReplaceIfUnchanged, "update_failed", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *Store) mutate(ctx context.Context, operation string, localID LocalID, change func(*FuelEntry) error) (FuelEntry, error) {
	var updated FuelEntry
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry FuelEntry
		err := tx.Where(queryLocalID, localID.String()).Take(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return newServiceError(operation, "select_failed", err)
		}
		if err := change(&entry); err != nil {
			return newServiceError(operation, "rejected", err)
		}
		entry.UpdatedAtMsec = s.Now()
		if err := tx.Save(&entry).Error; err != nil {
			return newServiceError(operation, "save_failed", err)
		}
		updated = entry
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrNotFound) {
			s.logError(operation, "mutation_failed", txErr, zap.String("local_id", localID.String()))
		}
		return FuelEntry{}, txErr
	}
	return updated, nil
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("entries store error", attrs...)
}
