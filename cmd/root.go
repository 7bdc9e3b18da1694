// Package cmd contains the command-line interface definitions and execution
// logic for hogwatch. It wires the registry client, state store, scan executor,
// and notifier together and runs sweeps either once or on a cron schedule.
package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hogwatch/hogwatch/internal/actions"
	"github.com/hogwatch/hogwatch/internal/flags"
	"github.com/hogwatch/hogwatch/pkg/metrics"
	"github.com/hogwatch/hogwatch/pkg/notifications"
	"github.com/hogwatch/hogwatch/pkg/registry"
	"github.com/hogwatch/hogwatch/pkg/scanner"
	"github.com/hogwatch/hogwatch/pkg/store"
	"github.com/hogwatch/hogwatch/pkg/types"
)

var errNamespaceRequired = errors.New("a Docker Hub namespace is required")

// scheduleSpec holds the cron-formatted schedule string for periodic sweeps.
// Populated during preRun from --schedule or HOGWATCH_SCHEDULE; empty means a
// single sweep.
var scheduleSpec string

// namespace is the Docker Hub namespace whose repositories are swept.
var namespace string

// notifier delivers sweep summaries and per-image outcomes to the configured
// Shoutrrr services. With no URLs configured it degrades to local logging.
var notifier *notifications.Notifier

// sweepMetrics records sweep outcomes for the optional Prometheus endpoint.
var sweepMetrics *metrics.Metrics

var rootCmd = NewRootCommand()

// NewRootCommand creates and configures the root command for the hogwatch CLI.
func NewRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "hogwatch",
		Short:  "Sweeps a Docker Hub namespace for leaked secrets",
		Long:   "\nhogwatch enumerates every repository:tag in a Docker Hub namespace, scans the image filesystems that changed since the previous sweep with trufflehog, and reports verified findings.",
		Run:    run,
		PreRun: preRun,
		Args:   cobra.NoArgs,
	}
}

// init registers command-line flags for the root command during package
// initialization.
func init() {
	flags.RegisterSweepFlags(rootCmd)
	flags.RegisterScannerFlags(rootCmd)
	flags.RegisterRegistryFlags(rootCmd)
	flags.RegisterNotificationFlags(rootCmd)
	flags.RegisterLoggingFlags(rootCmd)

	rootCmd.AddCommand(newSendCommand())
}

// Execute runs the root command and manages any errors encountered during its
// execution.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("Failed to execute root command")
	}
}

// preRun prepares logging and the notification system before the main command
// execution begins.
func preRun(cmd *cobra.Command, _ []string) {
	flagsSet := cmd.PersistentFlags()

	if err := flags.SetupLogging(flagsSet); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize logging")
	}

	scheduleSpec, _ = flagsSet.GetString("schedule")
	logrus.WithField("schedule_spec", scheduleSpec).
		Debug("Retrieved cron schedule specification from flags")

	namespace, _ = flagsSet.GetString("namespace")

	notificationURLs, _ := flagsSet.GetStringArray("notification-url")
	notificationTitle, _ := flagsSet.GetString("notification-title")

	var err error

	notifier, err = notifications.New(notificationURLs, notificationTitle)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize notifications")
	}
}

// run executes the main hogwatch logic based on parsed command-line flags.
func run(c *cobra.Command, _ []string) {
	if namespace == "" {
		logrus.WithError(errNamespaceRequired).
			Fatal("Specify one with --namespace or HOGWATCH_NAMESPACE")
	}

	flagsSet := c.PersistentFlags()

	location, err := loadLocation(flagsSet)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load timezone")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	databasePath, _ := flagsSet.GetString("database")

	imageStore, err := store.New(ctx, databasePath, location)
	if err != nil {
		logrus.WithError(err).WithField("database", databasePath).
			Fatal("Failed to open state database")
	}
	defer imageStore.Close()

	scanExecutor, err := newScanner(flagsSet)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize scan executor")
	}

	if addr, _ := flagsSet.GetString("metrics-addr"); addr != "" {
		sweepMetrics, err = metrics.New()
		if err != nil {
			logrus.WithError(err).Fatal("Failed to register sweep metrics")
		}

		serveMetrics(ctx, addr)
	}

	params := actions.SweepParams{
		Registry:  newRegistryClient(flagsSet),
		Store:     imageStore,
		Scanner:   scanExecutor,
		Notifier:  notifier,
		Metrics:   sweepMetrics,
		Namespace: namespace,
		Clock:     func() time.Time { return time.Now().In(location) },
	}
	params.EnumWorkers, _ = flagsSet.GetInt("enum-concurrency")
	params.ScanWorkers, _ = flagsSet.GetInt("scan-concurrency")

	runOnce, _ := flagsSet.GetBool("run-once")
	if runOnce || scheduleSpec == "" {
		writeStartupMessage(time.Time{})

		if exitCode := runSweep(ctx, params); exitCode != 0 {
			os.Exit(exitCode)
		}

		return
	}

	runSweepsOnSchedule(ctx, params)
}

// loadLocation resolves the --timezone flag, defaulting to the local zone.
func loadLocation(flagsSet *pflag.FlagSet) (*time.Location, error) {
	timezone, _ := flagsSet.GetString("timezone")
	if timezone == "" {
		return time.Local, nil
	}

	return time.LoadLocation(timezone)
}

// newRegistryClient builds the Docker Hub client from endpoint override flags
// and ambient credentials.
func newRegistryClient(flagsSet *pflag.FlagSet) types.RegistryClient {
	config := registry.Config{Credentials: registry.Credentials()}
	config.HubAPIURL, _ = flagsSet.GetString("hub-api-url")
	config.RegistryURL, _ = flagsSet.GetString("registry-url")
	config.TokenURL, _ = flagsSet.GetString("token-url")
	config.Service, _ = flagsSet.GetString("registry-service")

	return registry.NewClient(config)
}

// newScanner builds the scan executor from scanner flags.
func newScanner(flagsSet *pflag.FlagSet) (*scanner.Scanner, error) {
	opts := scanner.Options{}
	opts.Platform, _ = flagsSet.GetString("platform")
	opts.TrufflehogPath, _ = flagsSet.GetString("trufflehog-path")
	opts.ScratchBase, _ = flagsSet.GetString("scratch-dir")
	opts.Timeout, _ = flagsSet.GetDuration("scan-timeout")

	return scanner.New(opts)
}

// serveMetrics exposes the Prometheus registry over HTTP until the context is
// cancelled.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logrus.WithField("addr", addr).Info("Serving sweep metrics")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("Metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()
}

// runSweep performs a single sweep and maps its outcome to an exit code.
func runSweep(ctx context.Context, params actions.SweepParams) int {
	report, err := actions.RunSweep(ctx, params)
	if err != nil {
		logrus.WithError(err).Error("Sweep failed")

		return 1
	}

	logrus.WithFields(logrus.Fields{
		"enumerated":    report.Enumerated,
		"skipped":       report.Skipped,
		"unresolved":    report.Unresolved,
		"scanned":       report.Scanned,
		"scan_failures": report.ScanFailures,
		"findings":      report.Findings,
	}).Info("Sweep completed")

	return 0
}

// runSweepsOnSchedule executes sweeps according to the cron specification
// until an interrupt signal or context cancellation stops the scheduler. A
// lock channel ensures a slow sweep is never overlapped by the next tick.
func runSweepsOnSchedule(ctx context.Context, params actions.SweepParams) {
	lock := make(chan bool, 1)
	lock <- true

	scheduler := cron.New()

	logrus.WithField("schedule_spec", scheduleSpec).Debug("Attempting to add cron function")

	if err := scheduler.AddFunc(scheduleSpec, func() {
		select {
		case v := <-lock:
			defer func() { lock <- v }()

			_ = runSweep(ctx, params)
		default:
			logrus.Debug("Skipped scheduled sweep, another sweep is still running.")
		}

		nextRuns := scheduler.Entries()
		if len(nextRuns) > 0 {
			logrus.Debug("Scheduled next sweep: " + nextRuns[0].Next.String())
		}
	}); err != nil {
		logrus.WithError(err).WithField("schedule_spec", scheduleSpec).
			Fatal("Failed to schedule sweeps")
	}

	writeStartupMessage(scheduler.Entries()[0].Schedule.Next(time.Now()))

	scheduler.Start()

	<-ctx.Done()
	logrus.Debug("Received interrupt signal, stopping scheduler...")

	scheduler.Stop()
	logrus.Debug("Waiting for running sweep to be finished...")
	<-lock
	logrus.Debug("Scheduler stopped and sweep completed.")
}

// writeStartupMessage logs the sweep target, notification setup, and schedule.
func writeStartupMessage(sched time.Time) {
	startupLog := logrus.WithField("namespace", namespace)

	if names := notifier.Names(); len(names) > 0 {
		startupLog.Info("Using notifications: " + strings.Join(names, ", "))
	} else {
		startupLog.Info("Using no notifications")
	}

	if sched.IsZero() {
		startupLog.Info("Running a one time sweep.")
	} else {
		startupLog.Info("Scheduling first sweep: " + sched.Format("2006-01-02 15:04:05 -0700 MST"))
	}
}
