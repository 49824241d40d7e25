package entries

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) *VehicleRegistry {
	t.Helper()
	registry, err := NewVehicleRegistry(VehicleRegistryConfig{
		Database: newTestDatabase(t),
		Clock:    func() time.Time { return time.UnixMilli(1700000000000).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct registry: %v", err)
	}
	return registry
}

func TestVehicleRegistryEnsureDefaultIsIdempotent(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	first, err := registry.EnsureDefault(ctx)
	if err != nil {
		t.Fatalf("ensure default failed: %v", err)
	}
	if first.ID != DefaultVehicleID || first.Name != DefaultVehicleName {
		t.Fatalf("unexpected default vehicle: %#v", first)
	}
	if _, err := registry.EnsureDefault(ctx); err != nil {
		t.Fatalf("second ensure default failed: %v", err)
	}

	vehicles, err := registry.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(vehicles) != 1 {
		t.Fatalf("expected one vehicle, got %d", len(vehicles))
	}
}

func TestVehicleRegistryRename(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()
	if _, err := registry.Add(ctx, "scooter", "Vespa", "AB-123"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := registry.Get(ctx, "scooter"); err != nil {
		t.Fatalf("get failed: %v", err)
	}

	renamed, err := registry.Rename(ctx, "scooter", "  Red Vespa ")
	if err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if renamed.Name != "Red Vespa" {
		t.Fatalf("expected renamed vehicle, got %q", renamed.Name)
	}
	if renamed.Plate == nil || *renamed.Plate != "AB-123" {
		t.Fatalf("expected plate to survive rename")
	}

	if _, err := registry.Rename(ctx, "missing", "Ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing vehicle, got %v", err)
	}
}

func TestVehicleRegistryRejectsBlankName(t *testing.T) {
	registry := newTestRegistry(t)
	if _, err := registry.Add(context.Background(), "scooter", "   ", ""); !errors.Is(err, ErrInvalidVehicle) {
		t.Fatalf("expected ErrInvalidVehicle, got %v", err)
	}
}
