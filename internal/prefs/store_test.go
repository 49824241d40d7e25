package prefs

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:fueltrack_prefs_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Preference{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := NewStore(Config{Database: db, Clock: func() time.Time { return time.Unix(1700000000, 0).UTC() }})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func TestLastSyncAtRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.LastSyncAt(ctx); err != nil || ok {
		t.Fatalf("expected no last sync on fresh store, got ok=%v err=%v", ok, err)
	}

	first := time.UnixMilli(1700000001234).UTC()
	if err := store.RecordSync(ctx, first); err != nil {
		t.Fatalf("record sync failed: %v", err)
	}
	second := first.Add(time.Hour)
	if err := store.RecordSync(ctx, second); err != nil {
		t.Fatalf("second record sync failed: %v", err)
	}

	loaded, ok, err := store.LastSyncAt(ctx)
	if err != nil || !ok {
		t.Fatalf("expected last sync, got ok=%v err=%v", ok, err)
	}
	if !loaded.Equal(second) {
		t.Fatalf("expected %v, got %v", second, loaded)
	}
}

func TestActiveVehicleFallsBackWhenUnset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active, err := store.ActiveVehicleID(ctx, "default")
	if err != nil || active != "default" {
		t.Fatalf("expected fallback vehicle, got %q / %v", active, err)
	}
	if err := store.SetActiveVehicleID(ctx, "scooter"); err != nil {
		t.Fatalf("set active vehicle failed: %v", err)
	}
	active, err = store.ActiveVehicleID(ctx, "default")
	if err != nil || active != "scooter" {
		t.Fatalf("expected scooter, got %q / %v", active, err)
	}
}

func TestFuelPriceRejectsNonPositive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetFuelPrice(ctx, 0); err == nil {
		t.Fatalf("expected zero price to be rejected")
	}
	if err := store.SetFuelPrice(ctx, 1.859); err != nil {
		t.Fatalf("set fuel price failed: %v", err)
	}
	price, ok, err := store.FuelPrice(ctx)
	if err != nil || !ok || price != 1.859 {
		t.Fatalf("unexpected fuel price %v ok=%v err=%v", price, ok, err)
	}
}
