package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/entries"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsSeedsDefaultVehicle(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&entries.Vehicle{}, &entries.FuelEntry{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var vehicle entries.Vehicle
	if err := database.Where("id = ?", entries.DefaultVehicleID).Take(&vehicle).Error; err != nil {
		testContext.Fatalf("expected default vehicle to be seeded: %v", err)
	}
	if vehicle.Name != entries.DefaultVehicleName {
		testContext.Fatalf("unexpected default vehicle name %q", vehicle.Name)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationSeedDefaultVehicle).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	database, err := OpenSQLite(filepath.Join(testContext.TempDir(), "once.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	if err := database.Model(&entries.Vehicle{}).
		Where("id = ?", entries.DefaultVehicleID).
		Update("name", "Commuter").Error; err != nil {
		testContext.Fatalf("failed to rename vehicle: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to reapply migrations: %v", err)
	}

	var vehicle entries.Vehicle
	if err := database.Where("id = ?", entries.DefaultVehicleID).Take(&vehicle).Error; err != nil {
		testContext.Fatalf("failed to reload vehicle: %v", err)
	}
	if vehicle.Name != "Commuter" {
		testContext.Fatalf("expected applied migration to be skipped, got %q", vehicle.Name)
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migrations: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected one migration record, got %d", count)
	}
}
