package entries

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:fueltrack_entries_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&FuelEntry{}, &Vehicle{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, ids ...string) (*Store, *steppingClock) {
	t.Helper()

	clock := &steppingClock{current: time.UnixMilli(1700000000000).UTC()}
	store, err := NewStore(StoreConfig{
		Database:   newTestDatabase(t),
		IDProvider: &staticIDGenerator{ids: ids},
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store, clock
}

func mustLocalID(t *testing.T, value string) LocalID {
	t.Helper()
	id, err := NewLocalID(value)
	if err != nil {
		t.Fatalf("unexpected local id error: %v", err)
	}
	return id
}

func pendingEntry(localID string, createdAt int64) FuelEntry {
	return FuelEntry{
		LocalID:       localID,
		VehicleID:     DefaultVehicleID,
		OdometerKm:    1000,
		CreatedAtMsec: createdAt,
		UpdatedAtMsec: createdAt,
		SyncStatus:    StatusPending,
	}
}

func floatPointer(value float64) *float64 {
	return &value
}
