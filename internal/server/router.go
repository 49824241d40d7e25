package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/auth"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/entries"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/events"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/gateway"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/prefs"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/syncer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRollingDays       = 30
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingEntryStore = errors.New("entry store dependency required")
	errMissingVehicles   = errors.New("vehicle registry dependency required")
	errMissingPrefs      = errors.New("preference store dependency required")
	errMissingSession    = errors.New("session dependency required")
	errMissingSync       = errors.New("push trigger and restorer dependencies required")
)

// PushTrigger starts a push phase or joins the one in flight.
type PushTrigger interface {
	Trigger(ctx context.Context, reason string) (syncer.PushResult, bool, error)
}

// Restorer runs a restore phase.
type Restorer interface {
	Restore(ctx context.Context) (syncer.RestoreResult, error)
}

// SessionManager owns the sign-in state.
type SessionManager interface {
	SignIn(ctx context.Context, request auth.SignInRequest) (auth.State, error)
	SignOut(ctx context.Context) error
	State() auth.State
}

type Dependencies struct {
	Entries           *entries.Store
	Vehicles          *entries.VehicleRegistry
	Prefs             *prefs.Store
	Session           SessionManager
	Pusher            PushTrigger
	Restorer          Restorer
	Events            *events.Dispatcher
	RollingDays       int
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Entries == nil {
		return nil, errMissingEntryStore
	}
	if deps.Vehicles == nil {
		return nil, errMissingVehicles
	}
	if deps.Prefs == nil {
		return nil, errMissingPrefs
	}
	if deps.Session == nil {
		return nil, errMissingSession
	}
	if deps.Pusher == nil || deps.Restorer == nil {
		return nil, errMissingSync
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	rollingDays := deps.RollingDays
	if rollingDays <= 0 {
		rollingDays = defaultRollingDays
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		entries:     deps.Entries,
		vehicles:    deps.Vehicles,
		prefs:       deps.Prefs,
		session:     deps.Session,
		pusher:      deps.Pusher,
		restorer:    deps.Restorer,
		events:      deps.Events,
		rollingDays: rollingDays,
		heartbeat:   heartbeat,
		clock:       clock,
		logger:      logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/auth/state", handler.handleAuthState)
	router.POST("/auth/sign-in", handler.handleSignIn)
	router.POST("/auth/sign-out", handler.handleSignOut)

	router.GET("/entries", handler.handleListEntries)
	router.POST("/entries", handler.handleCreateEntry)
	router.GET("/entries/:id", handler.handleGetEntry)
	router.PATCH("/entries/:id", handler.handlePatchEntry)

	router.GET("/vehicles", handler.handleListVehicles)
	router.POST("/vehicles", handler.handleAddVehicle)
	router.GET("/vehicles/active", handler.handleActiveVehicle)
	router.PUT("/vehicles/active", handler.handleSelectVehicle)
	router.PATCH("/vehicles/:id", handler.handleRenameVehicle)

	router.GET("/prefs/fuel-price", handler.handleFuelPrice)
	router.PUT("/prefs/fuel-price", handler.handleSetFuelPrice)

	router.GET("/sync/status", handler.handleSyncStatus)
	router.POST("/sync/push", handler.handlePush)
	router.POST("/sync/restore", handler.handleRestore)

	stats := router.Group("/stats")
	stats.GET("/summary", handler.handleSummary)
	stats.GET("/full-to-full", handler.handleFullToFull)
	stats.GET("/since-last-full", handler.handleSinceLastFull)
	stats.GET("/rolling", handler.handleRolling)
	stats.GET("/periods", handler.handlePeriods)
	stats.GET("/trends", handler.handleTrends)

	if deps.Events != nil {
		router.GET("/events", handler.handleEventStream)
	}

	return router, nil
}

type httpHandler struct {
	entries     *entries.Store
	vehicles    *entries.VehicleRegistry
	prefs       *prefs.Store
	session     SessionManager
	pusher      PushTrigger
	restorer    Restorer
	events      *events.Dispatcher
	rollingDays int
	heartbeat   time.Duration
	clock       func() time.Time
	logger      *zap.Logger
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins:  false,
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// respondError maps domain failures onto HTTP statuses.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	var rejected *gateway.RemoteRejected
	switch {
	case errors.Is(err, entries.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, entries.ErrAlreadyExists):
		status, code = http.StatusConflict, "already_exists"
	case errors.Is(err, entries.ErrInvalidInput),
		errors.Is(err, entries.ErrInvalidVehicle),
		errors.Is(err, entries.ErrInvalidLocalID),
		errors.Is(err, entries.ErrInvalidStatus),
		errors.Is(err, auth.ErrInvalidSignIn):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, entries.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, gateway.ErrUnauthenticated),
		errors.Is(err, auth.ErrSignedOut),
		errors.Is(err, auth.ErrInvalidIDToken):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.As(err, &rejected):
		status, code = http.StatusBadGateway, "remote_rejected"
	case gateway.IsNetworkFailure(err):
		status, code = http.StatusBadGateway, "network_failure"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("operation", operation),
			zap.String("reason", code),
			zap.Error(err))
	} else {
		h.logger.Debug("request rejected",
			zap.String("operation", operation),
			zap.String("reason", code),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

func (h *httpHandler) publish(kind events.Kind, localIDs ...string) {
	h.events.Publish(events.Event{Kind: kind, LocalIDs: localIDs})
}
