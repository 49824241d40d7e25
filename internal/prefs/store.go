package prefs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	KeyLastSyncAt      = "last_sync_at"
	KeyActiveVehicleID = "active_vehicle_id"
	KeyFuelPrice       = "fuel_price"
)

var (
	// ErrNotSet indicates that no value is stored under the key.
	ErrNotSet = errors.New("prefs: not set")
	// ErrInvalidKey indicates an empty preference key.
	ErrInvalidKey = errors.New("prefs: invalid key")
)

// Preference is one key/value row.
type Preference struct {
	Key           string `gorm:"column:pref_key;primaryKey;size:64;not null"`
	Value         string `gorm:"column:value;type:text;not null"`
	UpdatedAtMsec int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Preference) TableName() string {
	return "preferences"
}

// Config describes the dependencies of the preference store.
type Config struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Store persists small process-wide settings outside the record store.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore constructs a Store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("prefs: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, now: clock}, nil
}

// Get returns the raw value or ErrNotSet.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	var preference Preference
	err := s.db.WithContext(ctx).Where("pref_key = ?", key).Take(&preference).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotSet
	}
	if err != nil {
		return "", err
	}
	return preference.Value, nil
}

// Set upserts the value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidKey
	}
	preference := Preference{Key: key, Value: value, UpdatedAtMsec: s.now().UnixMilli()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pref_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_ms"}),
		}).
		Create(&preference).
		Error
}

// LastSyncAt returns the completion time of the last push phase that processed records.
// The boolean is false when no such phase ever ran.
func (s *Store) LastSyncAt(ctx context.Context) (time.Time, bool, error) {
	raw, err := s.Get(ctx, KeyLastSyncAt)
	if errors.Is(err, ErrNotSet) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("prefs: malformed %s: %w", KeyLastSyncAt, err)
	}
	return time.UnixMilli(millis).UTC(), true, nil
}

// RecordSync stores at as the last sync time.
func (s *Store) RecordSync(ctx context.Context, at time.Time) error {
	return s.Set(ctx, KeyLastSyncAt, strconv.FormatInt(at.UnixMilli(), 10))
}

// ActiveVehicleID returns the selected vehicle, or fallback when none was selected.
func (s *Store) ActiveVehicleID(ctx context.Context, fallback string) (string, error) {
	value, err := s.Get(ctx, KeyActiveVehicleID)
	if errors.Is(err, ErrNotSet) || (err == nil && value == "") {
		return fallback, nil
	}
	return value, err
}

// SetActiveVehicleID selects the vehicle new entries default to.
func (s *Store) SetActiveVehicleID(ctx context.Context, vehicleID string) error {
	return s.Set(ctx, KeyActiveVehicleID, strings.TrimSpace(vehicleID))
}

// FuelPrice returns the last remembered price per unit.
func (s *Store) FuelPrice(ctx context.Context) (float64, bool, error) {
	raw, err := s.Get(ctx, KeyFuelPrice)
	if errors.Is(err, ErrNotSet) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("prefs: malformed %s: %w", KeyFuelPrice, err)
	}
	return price, true, nil
}

// SetFuelPrice remembers the price per unit used to prefill new entries.
func (s *Store) SetFuelPrice(ctx context.Context, price float64) error {
	if price <= 0 {
		return fmt.Errorf("prefs: fuel price must be positive")
	}
	return s.Set(ctx, KeyFuelPrice, strconv.FormatFloat(price, 'f', -1, 64))
}
