package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// reportSuffix is the filename suffix scan report files carry; stripping it
// yields the repository name used in file titles.
const reportSuffix = "_th_results.txt"

// newSendCommand creates the "send" subcommand for delivering ad-hoc messages
// and scan report files through the configured notification URLs. It is mainly
// useful for verifying notification setup and for shipping reports produced
// outside a sweep.
func newSendCommand() *cobra.Command {
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Sends messages or scan reports to the configured notification services",
		// Flags live on the root command's persistent set, so the notifier is
		// built from there regardless of which leaf runs.
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			preRun(rootCmd, nil)
		},
	}

	sendCmd.AddCommand(&cobra.Command{
		Use:   "message <text>...",
		Short: "Sends a text message",
		Args:  cobra.MinimumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := notifier.SendMessage(strings.Join(args, " ")); err != nil {
				logrus.WithError(err).Fatal("Failed to send message")
			}
		},
	})

	sendCmd.AddCommand(&cobra.Command{
		Use:   "files <path>...",
		Short: "Sends each report file's contents as a titled message",
		Args:  cobra.MinimumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			for _, path := range args {
				title := "TruffleHog results for " + repoNameFromReport(path)
				if err := notifier.SendFile(path, title); err != nil {
					logrus.WithError(err).WithField("file", path).
						Error("Failed to send file")
				}
			}
		},
	})

	sendCmd.AddCommand(&cobra.Command{
		Use:   "summary <path>...",
		Short: "Sends one message summarizing the listed report files",
		Args:  cobra.MinimumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := notifier.SendMessage(summaryMessage(args)); err != nil {
				logrus.WithError(err).Fatal("Failed to send summary")
			}
		},
	})

	return sendCmd
}

// repoNameFromReport derives the repository name from a report file path by
// stripping the report suffix from its base name.
func repoNameFromReport(path string) string {
	return strings.TrimSuffix(filepath.Base(path), reportSuffix)
}

// summaryMessage formats the sweep-start summary naming every report file.
func summaryMessage(paths []string) string {
	names := make([]string, 0, len(paths))
	for _, path := range paths {
		names = append(names, fmt.Sprintf("`Trufflehog result for %s`", filepath.Base(path)))
	}

	return fmt.Sprintf(
		"Trufflehog Scan started on %d images.\n%s",
		len(paths),
		strings.Join(names, "\n"),
	)
}
