package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/auth"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/autosync"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/database"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/entries"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/events"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/gateway"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/prefs"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/syncer"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var fixtureNow = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

// tickingClock advances by step on every reading so entries created in sequence get
// distinct timestamps.
type tickingClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(c.step)
	return c.current
}

type testFixture struct {
	handler  http.Handler
	store    *entries.Store
	remote   *gateway.Memory
	events   *events.Dispatcher
	session  *auth.Session
	prefs    *prefs.Store
	vehicles *entries.VehicleRegistry
}

func newSharedRemote() *gateway.Memory {
	return gateway.NewMemory(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "remote-token"}))
}

func newTestFixture(t *testing.T, remote *gateway.Memory) *testFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:fueltrack_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.OpenSQLite(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	clock := &tickingClock{current: fixtureNow.Add(-24 * time.Hour), step: time.Minute}
	store, err := entries.NewStore(entries.StoreConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	vehicles, err := entries.NewVehicleRegistry(entries.VehicleRegistryConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build vehicle registry: %v", err)
	}
	prefsStore, err := prefs.NewStore(prefs.Config{Database: db})
	if err != nil {
		t.Fatalf("failed to build prefs: %v", err)
	}

	dispatcher := events.NewDispatcher()
	fixedClock := func() time.Time { return fixtureNow }
	session := auth.NewSession(auth.SessionConfig{Events: dispatcher, Clock: fixedClock})
	if remote == nil {
		remote = newSharedRemote()
	}
	engine, err := syncer.NewEngine(syncer.Config{
		Store:    store,
		Remote:   remote,
		Tokens:   session,
		Recorder: prefsStore,
		Events:   dispatcher,
		Clock:    fixedClock,
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	runner, err := autosync.NewRunner(autosync.Config{Pusher: engine, Events: dispatcher})
	if err != nil {
		t.Fatalf("failed to build runner: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Entries:           store,
		Vehicles:          vehicles,
		Prefs:             prefsStore,
		Session:           session,
		Pusher:            runner,
		Restorer:          engine,
		Events:            dispatcher,
		HeartbeatInterval: time.Hour,
		Clock:             fixedClock,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &testFixture{
		handler:  handler,
		store:    store,
		remote:   remote,
		events:   dispatcher,
		session:  session,
		prefs:    prefsStore,
		vehicles: vehicles,
	}
}

func (f *testFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func (f *testFixture) signIn(t *testing.T) {
	t.Helper()
	recorder := f.do(t, http.MethodPost, "/auth/sign-in", map[string]any{
		"access_token": "access-1",
		"expires_in":   3600,
		"email":        "rider@example.com",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("sign in failed: %d %s", recorder.Code, recorder.Body.String())
	}
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(recorder.Body.Bytes(), &value); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return value
}
