package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/auth"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/autosync"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/config"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/database"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/entries"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/events"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/gateway"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/logging"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/prefs"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/syncer"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// application is the wired object graph every command works against.
type application struct {
	config   config.AppConfig
	logger   *zap.Logger
	db       *gorm.DB
	store    *entries.Store
	vehicles *entries.VehicleRegistry
	prefs    *prefs.Store
	events   *events.Dispatcher
	session  *auth.Session
	engine   *syncer.Engine
	runner   *autosync.Runner
}

func newApplication(ctx context.Context) (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	store, err := entries.NewStore(entries.StoreConfig{
		Database:   db,
		IDProvider: entries.NewUUIDProvider(),
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	vehicles, err := entries.NewVehicleRegistry(entries.VehicleRegistryConfig{Database: db, Clock: time.Now})
	if err != nil {
		return nil, err
	}
	if _, err := vehicles.EnsureDefault(ctx); err != nil {
		return nil, err
	}
	prefsStore, err := prefs.NewStore(prefs.Config{Database: db, Clock: time.Now})
	if err != nil {
		return nil, err
	}

	dispatcher := events.NewDispatcher()

	var verifier auth.IDTokenVerifier
	if appConfig.GoogleClientID != "" {
		googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
			ClientID: appConfig.GoogleClientID,
			JWKSURL:  appConfig.GoogleJWKSURL,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		verifier = googleVerifier
	}
	session := auth.NewSession(auth.SessionConfig{
		Verifier:    verifier,
		Credentials: auth.NewKeyringStore("", ""),
		Events:      dispatcher,
		Logger:      logger,
	})
	if _, err := session.Resume(ctx); err != nil {
		logger.Warn("failed to resume session", zap.Error(err))
	}

	remote, err := newRemote(ctx, appConfig, session, logger)
	if err != nil {
		return nil, err
	}

	engine, err := syncer.NewEngine(syncer.Config{
		Store:      store,
		Remote:     remote,
		Tokens:     session,
		Recorder:   prefsStore,
		Events:     dispatcher,
		RootFolder: appConfig.RootFolder,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	runner, err := autosync.NewRunner(autosync.Config{
		Pusher:   engine,
		Events:   dispatcher,
		Interval: appConfig.SyncInterval,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return &application{
		config:   appConfig,
		logger:   logger,
		db:       db,
		store:    store,
		vehicles: vehicles,
		prefs:    prefsStore,
		events:   dispatcher,
		session:  session,
		engine:   engine,
		runner:   runner,
	}, nil
}

func newRemote(ctx context.Context, appConfig config.AppConfig, tokens oauth2.TokenSource, logger *zap.Logger) (gateway.Gateway, error) {
	switch appConfig.RemoteBackend {
	case config.BackendDrive:
		return gateway.NewDrive(gateway.DriveConfig{
			APIURL:    appConfig.DriveAPIURL,
			UploadURL: appConfig.DriveUploadURL,
			Tokens:    tokens,
			Logger:    logger,
		}), nil
	case config.BackendS3:
		remote, err := gateway.NewS3(ctx, gateway.S3Config{
			Bucket:    appConfig.S3.Bucket,
			Region:    appConfig.S3.Region,
			Endpoint:  appConfig.S3.Endpoint,
			AccessKey: appConfig.S3.AccessKey,
			SecretKey: appConfig.S3.SecretKey,
			Tokens:    tokens,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return remote, nil
	case config.BackendMemory:
		logger.Warn("memory remote selected; uploads are lost on exit")
		return gateway.NewMemory(tokens), nil
	default:
		return nil, fmt.Errorf("unsupported remote backend %q", appConfig.RemoteBackend)
	}
}

func (a *application) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}

// withApplication builds the application, runs fn and releases it.
func withApplication(ctx context.Context, fn func(*application) error) error {
	app, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer app.close()
	return fn(app)
}

func (a *application) activeVehicle(ctx context.Context, requested string) (string, error) {
	if requested != "" {
		if _, err := a.vehicles.Get(ctx, requested); err != nil {
			return "", fmt.Errorf("vehicle %q: %w", requested, err)
		}
		return requested, nil
	}
	return a.prefs.ActiveVehicleID(ctx, entries.DefaultVehicleID)
}
