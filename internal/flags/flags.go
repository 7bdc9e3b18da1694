// Package flags manages command-line flags and environment variables for
// hogwatch configuration. Every flag has a HOGWATCH_* environment fallback
// bound through Viper.
package flags

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Defaults for sweep behavior.
const (
	// DefaultDatabasePath is the SQLite file holding per-image scan state.
	DefaultDatabasePath = "images.db"
	// defaultScanTimeout bounds one scan's container lifecycle.
	defaultScanTimeout = 30 * time.Minute
	// defaultEnumConcurrency bounds concurrent repository enumeration.
	defaultEnumConcurrency = 4
	// defaultScanConcurrency keeps scanning sequential unless raised; each
	// scan holds a full filesystem export and a container slot.
	defaultScanConcurrency = 1
)

// Errors for logging configuration.
var (
	errInvalidLogFormat = errors.New("invalid log format specified")
	errInvalidLogLevel  = errors.New("invalid log level specified")
	errReadFlagFailed   = errors.New("failed to read flag value")
)

// RegisterSweepFlags adds the flags controlling sweep behavior to the root
// command.
func RegisterSweepFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()

	flags.StringP(
		"namespace",
		"n",
		envString("HOGWATCH_NAMESPACE"),
		"Docker Hub namespace whose repositories are swept",
	)

	flags.StringP(
		"database",
		"d",
		defaultString(envString("HOGWATCH_DATABASE"), DefaultDatabasePath),
		"path to the SQLite database holding per-image scan state",
	)

	flags.StringP(
		"schedule",
		"s",
		envString("HOGWATCH_SCHEDULE"),
		"cron expression for periodic sweeps (e.g. \"@daily\"); empty runs once",
	)

	flags.Bool(
		"run-once",
		envBool("HOGWATCH_RUN_ONCE"),
		"run a single sweep and exit, ignoring any schedule",
	)

	flags.Int(
		"enum-concurrency",
		defaultInt(envInt("HOGWATCH_ENUM_CONCURRENCY"), defaultEnumConcurrency),
		"maximum repositories enumerated concurrently",
	)

	flags.Int(
		"scan-concurrency",
		defaultInt(envInt("HOGWATCH_SCAN_CONCURRENCY"), defaultScanConcurrency),
		"maximum images scanned concurrently",
	)

	flags.Duration(
		"scan-timeout",
		defaultDuration(envDuration("HOGWATCH_SCAN_TIMEOUT"), defaultScanTimeout),
		"timeout for one scan's pull, export, and scanner run",
	)

	flags.String(
		"timezone",
		envString("HOGWATCH_TIMEZONE"),
		"IANA timezone for stored scan timestamps (default local)",
	)

	flags.String(
		"metrics-addr",
		envString("HOGWATCH_METRICS_ADDR"),
		"listen address for Prometheus metrics (e.g. \":9090\"); empty disables",
	)
}

// RegisterScannerFlags adds the flags configuring image materialization and
// the secret scanner binary.
func RegisterScannerFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()

	flags.String(
		"platform",
		envString("HOGWATCH_PLATFORM"),
		"platform to pin pulls and container creation to (default linux/amd64)",
	)

	flags.String(
		"trufflehog-path",
		envString("HOGWATCH_TRUFFLEHOG_PATH"),
		"path to the trufflehog binary (default PATH lookup)",
	)

	flags.String(
		"scratch-dir",
		envString("HOGWATCH_SCRATCH_DIR"),
		"directory for transient filesystem exports (default system temp)",
	)
}

// RegisterRegistryFlags adds the flags overriding the Docker Hub endpoints,
// mainly useful against registry mirrors and in tests.
func RegisterRegistryFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()

	flags.String("hub-api-url", envString("HOGWATCH_HUB_API_URL"), "Docker Hub API base URL")
	flags.String("registry-url", envString("HOGWATCH_REGISTRY_URL"), "registry base URL for manifest requests")
	flags.String("token-url", envString("HOGWATCH_TOKEN_URL"), "registry auth token endpoint")
	flags.String("registry-service", envString("HOGWATCH_REGISTRY_SERVICE"), "registry service name for token scope")
}

// RegisterNotificationFlags adds the notification sink flags to a command.
func RegisterNotificationFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.StringArray(
		"notification-url",
		envStringSlice("HOGWATCH_NOTIFICATION_URL"),
		"Shoutrrr URL(s) for sweep notifications (e.g. slack://token@channel)",
	)

	flags.String(
		"notification-title",
		defaultString(envString("HOGWATCH_NOTIFICATION_TITLE"), "hogwatch"),
		"title passed to notification services that support one",
	)
}

// RegisterLoggingFlags adds logging flags to the root command.
func RegisterLoggingFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()

	flags.String(
		"log-level",
		defaultString(envString("HOGWATCH_LOG_LEVEL"), "info"),
		"log level (panic, fatal, error, warn, info, debug, trace)",
	)

	flags.String(
		"log-format",
		defaultString(envString("HOGWATCH_LOG_FORMAT"), "auto"),
		"log format (auto, logfmt, json)",
	)

	flags.BoolP("debug", "D", envBool("HOGWATCH_DEBUG"), "shorthand for --log-level debug")
	flags.Bool("no-color", envBool("NO_COLOR"), "disable ANSI colors in log output")
}

// SetupLogging configures logrus from the logging flags.
func SetupLogging(flags *pflag.FlagSet) error {
	logFormat, err := flags.GetString("log-format")
	if err != nil {
		return fmt.Errorf("%w: %w", errReadFlagFailed, err)
	}

	noColor, err := flags.GetBool("no-color")
	if err != nil {
		return fmt.Errorf("%w: %w", errReadFlagFailed, err)
	}

	switch strings.ToLower(logFormat) {
	case "auto":
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors:             noColor,
			EnvironmentOverrideColors: true,
		})
	case "logfmt":
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("%w: %s", errInvalidLogFormat, logFormat)
	}

	rawLogLevel, err := flags.GetString("log-level")
	if err != nil {
		return fmt.Errorf("%w: %w", errReadFlagFailed, err)
	}

	if debug, _ := flags.GetBool("debug"); debug {
		rawLogLevel = "debug"
	}

	logLevel, err := logrus.ParseLevel(rawLogLevel)
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidLogLevel, err)
	}

	logrus.SetLevel(logLevel)

	return nil
}

// envString retrieves a string value from an environment variable via Viper.
func envString(key string) string {
	viper.MustBindEnv(key)

	return viper.GetString(key)
}

// envStringSlice retrieves a string slice from an environment variable via Viper.
func envStringSlice(key string) []string {
	viper.MustBindEnv(key)

	return viper.GetStringSlice(key)
}

// envInt retrieves an integer value from an environment variable via Viper.
func envInt(key string) int {
	viper.MustBindEnv(key)

	return viper.GetInt(key)
}

// envBool retrieves a boolean value from an environment variable via Viper.
func envBool(key string) bool {
	viper.MustBindEnv(key)

	return viper.GetBool(key)
}

// envDuration retrieves a duration value from an environment variable via Viper.
func envDuration(key string) time.Duration {
	viper.MustBindEnv(key)

	return viper.GetDuration(key)
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}

func defaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}

	return value
}

func defaultDuration(value, fallback time.Duration) time.Duration {
	if value == 0 {
		return fallback
	}

	return value
}
