package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/entries"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationSeedDefaultVehicle = "2026-09-14_seed_default_vehicle"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedDefaultVehicle, apply: seedDefaultVehicle},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// seedDefaultVehicle makes sure entries without an explicit vehicle have an owner row.
func seedDefaultVehicle(db *gorm.DB) error {
	vehicle := entries.Vehicle{
		ID:            entries.DefaultVehicleID,
		Name:          entries.DefaultVehicleName,
		UpdatedAtMsec: time.Now().UnixMilli(),
	}
	return db.Where("id = ?", vehicle.ID).FirstOrCreate(&vehicle).Error
}
