package entries

import (
	"errors"
	"fmt"
	"strings"
)

// SyncStatus enumerates the per-record replication states.
type SyncStatus string

const (
	// StatusPending marks a record with local changes that were never uploaded.
	StatusPending SyncStatus = "pending"
	// StatusSyncing marks a record whose push attempt is in flight.
	StatusSyncing SyncStatus = "syncing"
	// StatusSynced marks a record durably stored remotely.
	StatusSynced SyncStatus = "synced"
	// StatusError marks a record whose last push attempt failed.
	StatusError SyncStatus = "error"
)

const maxIdentifierLength = 190

var (
	// ErrNotFound indicates a local lookup miss.
	ErrNotFound = errors.New("entries: not found")
	// ErrAlreadyExists indicates that a new entry reuses a stored local id.
	ErrAlreadyExists = errors.New("entries: already exists")
	// ErrInvalidLocalID indicates that a record identifier is empty or exceeds storage bounds.
	ErrInvalidLocalID = errors.New("entries: invalid local id")
	// ErrInvalidStatus indicates an unknown sync status value.
	ErrInvalidStatus = errors.New("entries: invalid sync status")
)

// ParseSyncStatus validates raw input and returns a SyncStatus.
func ParseSyncStatus(raw string) (SyncStatus, error) {
	switch status := SyncStatus(strings.ToLower(strings.TrimSpace(raw))); status {
	case StatusPending, StatusSyncing, StatusSynced, StatusError:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// Candidate reports whether the status is eligible for the push phase.
func (s SyncStatus) Candidate() bool {
	return s == StatusPending || s == StatusError
}

// LocalID represents a validated record identifier.
type LocalID string

// NewLocalID validates raw input and returns a LocalID.
func NewLocalID(rawInput string) (LocalID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLocalID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidLocalID, maxIdentifierLength)
	}
	return LocalID(trimmed), nil
}

// String returns the underlying string identifier.
func (id LocalID) String() string {
	return string(id)
}

// Vehicle is the owner of a fuel entry timeline.
type Vehicle struct {
	ID            string  `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Name          string  `gorm:"column:name;size:190;not null" json:"name"`
	Plate         *string `gorm:"column:plate;size:64" json:"plate,omitempty"`
	UpdatedAtMsec int64   `gorm:"column:updated_at_ms;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Vehicle) TableName() string {
	return "vehicles"
}

// FuelEntry is one refuelling observation. The JSON form is the remote wire document,
// so the photo bytes never leave the device through it.
type FuelEntry struct {
	LocalID         string     `gorm:"column:local_id;primaryKey;size:190;not null" json:"local_id"`
	VehicleID       string     `gorm:"column:vehicle_id;size:190;not null;index:idx_fuel_entries_vehicle_created,priority:1" json:"vehicle_id"`
	RemoteID        *string    `gorm:"column:remote_id;size:190" json:"remote_id,omitempty"`
	OdometerKm      int64      `gorm:"column:odometer_km;not null" json:"odometer_km"`
	AmountSpent     *float64   `gorm:"column:amount_spent" json:"amount_spent,omitempty"`
	PricePerUnit    *float64   `gorm:"column:price_per_unit" json:"price_per_unit,omitempty"`
	Volume          *float64   `gorm:"column:volume" json:"volume,omitempty"`
	IsFullTank      bool       `gorm:"column:is_full_tank;not null;default:false" json:"is_full_tank"`
	Note            *string    `gorm:"column:note;type:text" json:"note,omitempty"`
	Photo           []byte     `gorm:"column:photo" json:"-"`
	PhotoCapturedAt *int64     `gorm:"column:photo_captured_at_ms" json:"photo_captured_at,omitempty"`
	PhotoLat        *float64   `gorm:"column:photo_lat" json:"photo_lat,omitempty"`
	PhotoLon        *float64   `gorm:"column:photo_lon" json:"photo_lon,omitempty"`
	OCRConfidence   *float64   `gorm:"column:ocr_confidence" json:"ocr_confidence,omitempty"`
	CreatedAtMsec   int64      `gorm:"column:created_at_ms;not null;index;index:idx_fuel_entries_vehicle_created,priority:2" json:"created_at"`
	UpdatedAtMsec   int64      `gorm:"column:updated_at_ms;not null" json:"updated_at"`
	SyncStatus      SyncStatus `gorm:"column:sync_status;size:16;not null;index" json:"sync_status"`
	LastError       *string    `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (FuelEntry) TableName() string {
	return "fuel_entries"
}

// HasPhoto reports whether a binary attachment is present.
func (e FuelEntry) HasPhoto() bool {
	return len(e.Photo) > 0
}

// Validate checks the status invariants every persisted record must hold.
func (e FuelEntry) Validate() error {
	if _, err := NewLocalID(e.LocalID); err != nil {
		return err
	}
	if _, err := ParseSyncStatus(string(e.SyncStatus)); err != nil {
		return err
	}
	switch e.SyncStatus {
	case StatusSynced:
		if e.RemoteID == nil || *e.RemoteID == "" {
			return fmt.Errorf("entries: synced record %s has no remote id", e.LocalID)
		}
		if e.LastError != nil {
			return fmt.Errorf("entries: synced record %s carries last error", e.LocalID)
		}
	case StatusError:
		if e.LastError == nil || *e.LastError == "" {
			return fmt.Errorf("entries: error record %s has no last error", e.LocalID)
		}
	default:
		if e.LastError != nil {
			return fmt.Errorf("entries: %s record %s carries last error", e.SyncStatus, e.LocalID)
		}
	}
	return nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	VehicleID string
	Statuses  []SyncStatus
	Limit     int
}

// CandidateFilter selects push candidates, optionally scoped to one vehicle.
func CandidateFilter(vehicleID string) Filter {
	return Filter{VehicleID: vehicleID, Statuses: []SyncStatus{StatusPending, StatusError}}
}

// Patch carries the mutable content fields of an entry. Nil pointers are left unchanged.
type Patch struct {
	OdometerKm      *int64
	AmountSpent     *float64
	PricePerUnit    *float64
	Volume          *float64
	IsFullTank      *bool
	Note            *string
	Photo           []byte
	PhotoCapturedAt *int64
	PhotoLat        *float64
	PhotoLon        *float64
	OCRConfidence   *float64
}

// Empty reports whether the patch carries no field.
func (p Patch) Empty() bool {
	return p.OdometerKm == nil && p.AmountSpent == nil && p.PricePerUnit == nil &&
		p.Volume == nil && p.IsFullTank == nil && p.Note == nil && p.Photo == nil &&
		p.PhotoCapturedAt == nil && p.PhotoLat == nil && p.PhotoLon == nil && p.OCRConfidence == nil
}

func (p Patch) apply(entry *FuelEntry) {
	if p.OdometerKm != nil {
		entry.OdometerKm = *p.OdometerKm
	}
	if p.AmountSpent != nil {
		entry.AmountSpent = p.AmountSpent
	}
	if p.PricePerUnit != nil {
		entry.PricePerUnit = p.PricePerUnit
	}
	if p.Volume != nil {
		entry.Volume = p.Volume
	}
	if p.IsFullTank != nil {
		entry.IsFullTank = *p.IsFullTank
	}
	if p.Note != nil {
		entry.Note = p.Note
	}
	if p.Photo != nil {
		entry.Photo = p.Photo
	}
	if p.PhotoCapturedAt != nil {
		entry.PhotoCapturedAt = p.PhotoCapturedAt
	}
	if p.PhotoLat != nil {
		entry.PhotoLat = p.PhotoLat
	}
	if p.PhotoLon != nil {
		entry.PhotoLon = p.PhotoLon
	}
	if p.OCRConfidence != nil {
		entry.OCRConfidence = p.OCRConfidence
	}
}

func pointerTo[T any](value T) *T {
	v := value
	return &v
}
