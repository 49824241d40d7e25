package entries

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
)

const (
	// DefaultVehicleID names the vehicle every fresh install starts with.
	DefaultVehicleID = "default"
	// DefaultVehicleName is the display name of the default vehicle.
	DefaultVehicleName = "My Bike"
)

// ErrInvalidVehicle indicates the vehicle identifier or name was unusable.
var ErrInvalidVehicle = errors.New("entries: invalid vehicle")

// VehicleRegistryConfig describes the dependencies required for vehicle bookkeeping.
type VehicleRegistryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// VehicleRegistry manages the vehicles entries are recorded against.
type VehicleRegistry struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewVehicleRegistry constructs the registry.
func NewVehicleRegistry(cfg VehicleRegistryConfig) (*VehicleRegistry, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("entries: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &VehicleRegistry{
		db:    cfg.Database,
		now:   clock,
		cache: sync.Map{},
	}, nil
}

// EnsureDefault creates the default vehicle when it does not exist yet.
func (r *VehicleRegistry) EnsureDefault(ctx context.Context) (Vehicle, error) {
	if vehicle, err := r.Get(ctx, DefaultVehicleID); err == nil {
		return vehicle, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Vehicle{}, err
	}
	return r.Add(ctx, DefaultVehicleID, DefaultVehicleName, "")
}

// Add registers a vehicle. An existing vehicle with the same id is left untouched.
func (r *VehicleRegistry) Add(ctx context.Context, id, name, plate string) (Vehicle, error) {
	id = normalize(id)
	name = normalize(name)
	if id == "" || len(id) > maxIdentifierLength || name == "" {
		return Vehicle{}, ErrInvalidVehicle
	}
	vehicle := Vehicle{ID: id, Name: name, UpdatedAtMsec: r.now().UnixMilli()}
	if plate = normalize(plate); plate != "" {
		vehicle.Plate = &plate
	}
	result := r.db.WithContext(ctx).Where("id = ?", id).FirstOrCreate(&vehicle)
	if result.Error != nil {
		return Vehicle{}, result.Error
	}
	r.cache.Store(vehicle.ID, vehicle)
	return vehicle, nil
}

// Rename changes the display name of a vehicle.
func (r *VehicleRegistry) Rename(ctx context.Context, id, name string) (Vehicle, error) {
	name = normalize(name)
	if name == "" {
		return Vehicle{}, ErrInvalidVehicle
	}
	result := r.db.WithContext(ctx).
		Model(&Vehicle{}).
		Where("id = ?", normalize(id)).
		Updates(map[string]interface{}{
			"name":          name,
			"updated_at_ms": r.now().UnixMilli(),
		})
	if result.Error != nil {
		return Vehicle{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Vehicle{}, ErrNotFound
	}
	r.cache.Delete(normalize(id))
	return r.Get(ctx, id)
}

// Get returns the vehicle or ErrNotFound.
func (r *VehicleRegistry) Get(ctx context.Context, id string) (Vehicle, error) {
	id = normalize(id)
	if cached, ok := r.cache.Load(id); ok {
		if vehicle, ok := cached.(Vehicle); ok {
			return vehicle, nil
		}
	}
	var vehicle Vehicle
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&vehicle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Vehicle{}, ErrNotFound
	}
	if err != nil {
		return Vehicle{}, err
	}
	r.cache.Store(vehicle.ID, vehicle)
	return vehicle, nil
}

// List returns every vehicle ordered by name.
func (r *VehicleRegistry) List(ctx context.Context) ([]Vehicle, error) {
	var vehicles []Vehicle
	if err := r.db.WithContext(ctx).Order("name ASC, id ASC").Find(&vehicles).Error; err != nil {
		return nil, err
	}
	return vehicles, nil
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
