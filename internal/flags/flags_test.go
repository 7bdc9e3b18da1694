package flags_test

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hogwatch/hogwatch/internal/flags"
)

func newCommand() *cobra.Command {
	cmd := &cobra.Command{}
	flags.RegisterSweepFlags(cmd)
	flags.RegisterScannerFlags(cmd)
	flags.RegisterRegistryFlags(cmd)
	flags.RegisterNotificationFlags(cmd)
	flags.RegisterLoggingFlags(cmd)

	return cmd
}

func TestDefaults(t *testing.T) {
	cmd := newCommand()
	require.NoError(t, cmd.ParseFlags(nil))

	database, _ := cmd.PersistentFlags().GetString("database")
	assert.Equal(t, flags.DefaultDatabasePath, database)

	scanConcurrency, _ := cmd.PersistentFlags().GetInt("scan-concurrency")
	assert.Equal(t, 1, scanConcurrency)

	enumConcurrency, _ := cmd.PersistentFlags().GetInt("enum-concurrency")
	assert.Equal(t, 4, enumConcurrency)

	scanTimeout, _ := cmd.PersistentFlags().GetDuration("scan-timeout")
	assert.Equal(t, 30*time.Minute, scanTimeout)
}

func TestEnvironmentFallback(t *testing.T) {
	t.Setenv("HOGWATCH_NAMESPACE", "myorg")
	t.Setenv("HOGWATCH_SCAN_CONCURRENCY", "3")

	cmd := newCommand()
	require.NoError(t, cmd.ParseFlags(nil))

	namespace, _ := cmd.PersistentFlags().GetString("namespace")
	assert.Equal(t, "myorg", namespace)

	scanConcurrency, _ := cmd.PersistentFlags().GetInt("scan-concurrency")
	assert.Equal(t, 3, scanConcurrency)
}

func TestFlagOverridesEnvironment(t *testing.T) {
	t.Setenv("HOGWATCH_NAMESPACE", "from-env")

	cmd := newCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--namespace", "from-flag"}))

	namespace, _ := cmd.PersistentFlags().GetString("namespace")
	assert.Equal(t, "from-flag", namespace)
}

func TestSetupLoggingRejectsInvalidValues(t *testing.T) {
	cmd := newCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--log-format", "yaml"}))
	assert.Error(t, flags.SetupLogging(cmd.PersistentFlags()))

	cmd = newCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--log-level", "loud"}))
	assert.Error(t, flags.SetupLogging(cmd.PersistentFlags()))
}

func TestSetupLogging(t *testing.T) {
	cmd := newCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--log-level", "debug", "--log-format", "json"}))
	assert.NoError(t, flags.SetupLogging(cmd.PersistentFlags()))
}
