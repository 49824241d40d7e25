package entries

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opCreate = "entries.create"

var (
	// ErrInvalidInput indicates that a new entry failed validation.
	ErrInvalidInput = errors.New("entries: invalid input")

	inputValidator = validator.New(validator.WithRequiredStructEnabled())
)

// NewEntryInput is what the entry-creation collaborator supplies. Capture metadata comes
// from the photo/OCR pipeline as-is.
type NewEntryInput struct {
	LocalID         string   `json:"local_id" validate:"omitempty,max=190"`
	VehicleID       string   `json:"vehicle_id" validate:"required,max=190"`
	OdometerKm      int64    `json:"odometer_km" validate:"gt=0"`
	AmountSpent     *float64 `json:"amount_spent" validate:"omitempty,gte=0"`
	PricePerUnit    *float64 `json:"price_per_unit" validate:"omitempty,gte=0"`
	Volume          *float64 `json:"volume" validate:"omitempty,gte=0"`
	IsFullTank      bool     `json:"is_full_tank"`
	Note            *string  `json:"note" validate:"omitempty,max=4000"`
	Photo           []byte   `json:"-"`
	PhotoCapturedAt *int64   `json:"photo_captured_at" validate:"omitempty,gt=0"`
	PhotoLat        *float64 `json:"photo_lat" validate:"omitempty,gte=-90,lte=90"`
	PhotoLon        *float64 `json:"photo_lon" validate:"omitempty,gte=-180,lte=180"`
	OCRConfidence   *float64 `json:"ocr_confidence" validate:"omitempty,gte=0,lte=100"`
}

// Validate checks the input against its field constraints.
func (in NewEntryInput) Validate() error {
	if err := inputValidator.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// DeriveVolume fills volume from amount / price when only those two are known.
func DeriveVolume(amount, price, volume *float64) *float64 {
	if volume != nil {
		return volume
	}
	if amount == nil || price == nil || *amount <= 0 || *price <= 0 {
		return nil
	}
	derived := math.Round(*amount / *price * 100) / 100
	return &derived
}

// BuildEntry turns validated input into a pending record created at nowMsec.
func BuildEntry(in NewEntryInput, localID string, nowMsec int64) FuelEntry {
	return FuelEntry{
		LocalID:         localID,
		VehicleID:       in.VehicleID,
		OdometerKm:      in.OdometerKm,
		AmountSpent:     in.AmountSpent,
		PricePerUnit:    in.PricePerUnit,
		Volume:          DeriveVolume(in.AmountSpent, in.PricePerUnit, in.Volume),
		IsFullTank:      in.IsFullTank,
		Note:            in.Note,
		Photo:           in.Photo,
		PhotoCapturedAt: in.PhotoCapturedAt,
		PhotoLat:        in.PhotoLat,
		PhotoLon:        in.PhotoLon,
		OCRConfidence:   in.OCRConfidence,
		CreatedAtMsec:   nowMsec,
		UpdatedAtMsec:   nowMsec,
		SyncStatus:      StatusPending,
	}
}

// Create validates the input and stores a new pending entry.
func (s *Store) Create(ctx context.Context, in NewEntryInput) (FuelEntry, error) {
	if err := in.Validate(); err != nil {
		return FuelEntry{}, err
	}
	localID := in.LocalID
	if localID == "" {
		generated, err := s.ids.NewID()
		if err != nil {
			s.logError(opCreate, "id_generation_failed", err)
			return FuelEntry{}, newServiceError(opCreate, "id_generation_failed", err)
		}
		localID = generated
	}
	entry := BuildEntry(in, localID, s.Now())
	if err := s.insert(ctx, entry); err != nil {
		return FuelEntry{}, err
	}
	s.loggerOrDefault().Debug("entry created",
		zap.String("local_id", entry.LocalID),
		zap.String("vehicle_id", entry.VehicleID))
	return entry, nil
}

// insert stores a record that must not exist yet; Put would overwrite it.
func (s *Store) insert(ctx context.Context, entry FuelEntry) error {
	if err := entry.Validate(); err != nil {
		return newServiceError(opCreate, "invalid_entry", err)
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&FuelEntry{}).Where(queryLocalID, entry.LocalID).Count(&existing).Error; err != nil {
			return newServiceError(opCreate, "select_failed", err)
		}
		if existing > 0 {
			return newServiceError(opCreate, "already_exists", ErrAlreadyExists)
		}
		if err := tx.Create(&entry).Error; err != nil {
			return newServiceError(opCreate, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil && !errors.Is(txErr, ErrAlreadyExists) {
		s.logError(opCreate, "insert_failed", txErr, zap.String("local_id", entry.LocalID))
	}
	return txErr
}
