package scanner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultTrufflehogPath is the scanner binary looked up on PATH when no
// explicit path is configured.
const DefaultTrufflehogPath = "trufflehog"

// maxScanTokenSize bounds a single structured output line; findings embed the
// matched secret and surrounding context, which can be large.
const maxScanTokenSize = 1024 * 1024

// RunCommandFunc executes an external command and returns its stdout.
// It exists so tests can substitute the secret scanner binary.
type RunCommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// runCommand is the default RunCommandFunc, backed by os/exec.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}

		return out, fmt.Errorf("%s: %w", name, err)
	}

	return out, nil
}

// structuredFinding is the subset of a structured scanner record needed to
// recognize a line as one verified finding.
type structuredFinding struct {
	DetectorName string `json:"DetectorName"`
}

// runSecretScanner performs both scanner invocations over the materialized
// filesystem: a human-readable run whose output becomes the notification
// report, and a structured (one JSON record per line) run used only for
// counting. The two runs are independent reads of the same directory, so they
// execute concurrently.
func (s *Scanner) runSecretScanner(ctx context.Context, dir string) (string, int, error) {
	var reportOut, structuredOut []byte

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		out, err := s.run(groupCtx, s.trufflehogPath, "filesystem", dir, "--only-verified")
		reportOut = out

		return err
	})

	group.Go(func() error {
		out, err := s.run(groupCtx, s.trufflehogPath, "filesystem", dir, "--only-verified", "--json")
		structuredOut = out

		return err
	})

	if err := group.Wait(); err != nil {
		return "", 0, err
	}

	return string(reportOut), countFindings(structuredOut), nil
}

// countFindings counts the verified findings in newline-delimited structured
// scanner output. Only lines that parse as a finding record (a JSON object
// carrying a detector name) are counted, so blank lines and interleaved
// diagnostics do not inflate the count.
func countFindings(structured []byte) int {
	scanner := bufio.NewScanner(bytes.NewReader(structured))
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)

	count := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var finding structuredFinding
		if err := json.Unmarshal([]byte(line), &finding); err != nil {
			continue
		}

		if finding.DetectorName == "" {
			continue
		}

		count++
	}

	return count
}
