package main

import (
	"errors"
	"os"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fueltrack",
		Short:         "Offline-first fuel log with remote backup",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newServeCommand(),
		newAddCommand(),
		newListCommand(),
		newPushCommand(),
		newRestoreCommand(),
		newStatsCommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newStatusCommand(),
		newRequeueStuckCommand(),
		newVehiclesCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address for serve")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	flags.String("remote-backend", defaults.GetString("remote.backend"), "Remote object store (drive, s3, memory)")
	flags.String("root-folder", defaults.GetString("remote.root_folder"), "Remote root folder name")
	flags.String("s3-bucket", defaults.GetString("s3.bucket"), "S3 bucket for the s3 backend")
	flags.String("s3-endpoint", defaults.GetString("s3.endpoint"), "S3-compatible endpoint override")
	flags.String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID used to verify ID tokens")
	flags.Duration("sync-interval", defaults.GetDuration("sync.interval"), "Automatic push interval for serve")
	flags.Int("rolling-days", defaults.GetInt("analytics.rolling_days"), "Rolling analytics window in days")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "remote.backend", "remote-backend")
	bindFlag(cmd, "remote.root_folder", "root-folder")
	bindFlag(cmd, "s3.bucket", "s3-bucket")
	bindFlag(cmd, "s3.endpoint", "s3-endpoint")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "sync.interval", "sync-interval")
	bindFlag(cmd, "analytics.rolling_days", "rolling-days")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
