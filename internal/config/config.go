package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "FUELTRACK"
	defaultHTTPAddress    = "127.0.0.1:8765"
	defaultDatabasePath   = "fueltrack.db"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultRemoteBackend  = BackendDrive
	defaultRootFolder     = "Bike Mileage (App)"
	defaultDriveAPIURL    = "https://www.googleapis.com/drive/v3"
	defaultDriveUploadURL = "https://www.googleapis.com/upload/drive/v3"
	defaultGoogleJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"
	defaultS3Region       = "us-east-1"
	defaultSyncInterval   = 5 * time.Minute
	defaultRollingDays    = 30

	BackendDrive  = "drive"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// AppConfig captures runtime configuration for the daemon and the CLI.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	LogFormat      string
	RemoteBackend  string
	RootFolder     string
	DriveAPIURL    string
	DriveUploadURL string
	S3             S3Config
	GoogleClientID string
	GoogleJWKSURL  string
	SyncInterval   time.Duration
	RollingDays    int
}

// S3Config addresses an S3-compatible bucket.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("remote.backend", defaultRemoteBackend)
	configViper.SetDefault("remote.root_folder", defaultRootFolder)
	configViper.SetDefault("drive.api_url", defaultDriveAPIURL)
	configViper.SetDefault("drive.upload_url", defaultDriveUploadURL)
	configViper.SetDefault("s3.region", defaultS3Region)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("analytics.rolling_days", defaultRollingDays)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		LogFormat:      configViper.GetString("log.format"),
		RemoteBackend:  strings.ToLower(strings.TrimSpace(configViper.GetString("remote.backend"))),
		RootFolder:     configViper.GetString("remote.root_folder"),
		DriveAPIURL:    configViper.GetString("drive.api_url"),
		DriveUploadURL: configViper.GetString("drive.upload_url"),
		S3: S3Config{
			Bucket:    configViper.GetString("s3.bucket"),
			Region:    configViper.GetString("s3.region"),
			Endpoint:  configViper.GetString("s3.endpoint"),
			AccessKey: configViper.GetString("s3.access_key"),
			SecretKey: configViper.GetString("s3.secret_key"),
		},
		GoogleClientID: configViper.GetString("google.client_id"),
		GoogleJWKSURL:  configViper.GetString("google.jwks_url"),
		SyncInterval:   configViper.GetDuration("sync.interval"),
		RollingDays:    configViper.GetInt("analytics.rolling_days"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.RootFolder) == "" {
		return fmt.Errorf("remote.root_folder is required")
	}
	switch c.RemoteBackend {
	case BackendDrive, BackendMemory:
	case BackendS3:
		if strings.TrimSpace(c.S3.Bucket) == "" {
			return fmt.Errorf("s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("remote.backend must be one of drive, s3, memory; got %q", c.RemoteBackend)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.RollingDays <= 0 {
		return fmt.Errorf("analytics.rolling_days must be positive")
	}
	return nil
}
