// Package actions contains the sweep coordinator: one full pass of
// enumerate, detect, scan, and persist over a namespace. A sweep moves through
// the states Enumerating, Detecting, PlanEmpty or PlanReady, Scanning, Done;
// re-running a finished sweep is safe and naturally skips unchanged content.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hogwatch/hogwatch/pkg/detect"
	"github.com/hogwatch/hogwatch/pkg/metrics"
	"github.com/hogwatch/hogwatch/pkg/types"
)

// timestampLayout formats sweep timestamps in notifications.
const timestampLayout = "2006-01-02 15:04:05"

// ErrNamespaceUnreachable indicates the namespace could not be enumerated at
// all. This is the only condition fatal to a whole sweep.
var ErrNamespaceUnreachable = errors.New("unable to enumerate namespace")

// SweepParams carries the collaborators and settings for one sweep.
type SweepParams struct {
	Registry  types.RegistryClient
	Store     types.Store
	Scanner   types.Scanner
	Notifier  types.Notifier
	Metrics   *metrics.Metrics // Optional; sweep outcomes recorded when set.
	Namespace string
	// EnumWorkers bounds concurrent repository enumeration; values below 1
	// mean sequential.
	EnumWorkers int
	// ScanWorkers bounds concurrent scans. Each scan holds a full filesystem
	// export on disk and a container slot, so this defaults to 1.
	ScanWorkers int
	// Clock supplies scan timestamps; nil means time.Now.
	Clock func() time.Time
}

// SweepReport summarizes one completed sweep.
type SweepReport struct {
	Enumerated      int // Pairs whose digest was resolved and considered.
	Skipped         int // Pairs skipped as unchanged.
	Unresolved      int // Pairs excluded because digest resolution failed.
	Planned         int // Scan tasks accumulated.
	Scanned         int // Scans executed.
	ScanFailures    int // Scans whose result carries failure text.
	Findings        int // Verified findings across all scans.
	PersistFailures int // Upserts that failed; those images rescan next sweep.
}

// sweepState guards the report counters against concurrent phase workers.
type sweepState struct {
	mu     sync.Mutex
	report SweepReport
}

func (s *sweepState) update(fn func(r *SweepReport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.report)
}

// RunSweep performs one full sweep of the namespace.
//
// It enumerates every repository:tag pair, resolves digests, plans scans for
// the pairs whose content changed, executes them with a bounded worker pool,
// and persists and notifies per outcome. Per-pair failures (unresolved
// digests, failed scans, failed upserts) degrade to skipping or flagging that
// item.
//
// Parameters:
//   - ctx: The context controlling the sweep; cancellation stops new scans
//     from starting while in-flight scans still clean up.
//   - params: The SweepParams struct carrying the collaborators, namespace,
//     and concurrency settings.
//
// Returns:
//   - SweepReport: Counters for every phase of the sweep, also populated on
//     partial completion.
//   - error: Non-nil only when the namespace cannot be enumerated at all or
//     the context was cancelled.
func RunSweep(ctx context.Context, params SweepParams) (SweepReport, error) {
	if params.Clock == nil {
		params.Clock = time.Now
	}

	fields := logrus.Fields{"namespace": params.Namespace}
	logrus.WithFields(fields).Info("Starting sweep")

	repos, err := params.Registry.ListRepositories(ctx, params.Namespace)
	if len(repos) == 0 && err != nil {
		return SweepReport{}, fmt.Errorf("%w: %w", ErrNamespaceUnreachable, err)
	}

	if err != nil {
		logrus.WithError(err).WithFields(fields).
			Warn("Repository enumeration degraded to partial results")
	}

	state := &sweepState{}

	plan, err := buildPlan(ctx, params, repos, state)
	if err != nil {
		return state.report, err
	}

	state.update(func(r *SweepReport) { r.Planned = len(plan) })

	if len(plan) == 0 {
		logrus.WithFields(fields).Info("No new or updated images to scan")
		recordMetrics(params, state)

		return state.report, nil
	}

	startedAt := params.Clock()
	summary := fmt.Sprintf(
		"Number of Public Docker images to be scanned: %d.\nScan started at %s %s.",
		len(plan),
		startedAt.Format(timestampLayout),
		startedAt.Format("MST"),
	)
	if err := params.Notifier.SendMessage(summary); err != nil {
		logrus.WithError(err).WithFields(fields).Error("Failed to send sweep summary notification")
	}

	runPlan(ctx, params, plan, state)
	recordMetrics(params, state)

	logrus.WithFields(fields).WithFields(logrus.Fields{
		"planned": state.report.Planned,
		"scanned": state.report.Scanned,
		"skipped": state.report.Skipped,
	}).Info("Sweep finished")

	return state.report, ctx.Err()
}

// buildPlan walks every repository's tags, resolves digests, and accumulates a
// scan task for each pair the change detector classifies as needing a scan.
// Repositories are processed concurrently but the plan keeps enumeration
// order. Only context cancellation aborts planning.
func buildPlan(
	ctx context.Context,
	params SweepParams,
	repos []string,
	state *sweepState,
) ([]types.ScanTask, error) {
	perRepo := make([][]types.ScanTask, len(repos))

	group, groupCtx := errgroup.WithContext(ctx)
	if params.EnumWorkers > 1 {
		group.SetLimit(params.EnumWorkers)
	} else {
		group.SetLimit(1)
	}

	for i, repo := range repos {
		group.Go(func() error {
			tasks, err := planRepository(groupCtx, params, repo, state)
			if err != nil {
				return err
			}

			perRepo[i] = tasks

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	var plan []types.ScanTask
	for _, tasks := range perRepo {
		plan = append(plan, tasks...)
	}

	return plan, nil
}

// planRepository enumerates one repository's tags and classifies each pair.
func planRepository(
	ctx context.Context,
	params SweepParams,
	repo string,
	state *sweepState,
) ([]types.ScanTask, error) {
	fields := logrus.Fields{"namespace": params.Namespace, "repository": repo}

	tags, err := params.Registry.ListTags(ctx, params.Namespace, repo)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		logrus.WithError(err).WithFields(fields).
			Warn("Tag enumeration degraded to partial results")
	}

	var tasks []types.ScanTask

	for _, tag := range tags {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		pairFields := logrus.Fields{"namespace": params.Namespace, "image": repo, "tag": tag}

		resolved, err := params.Registry.ResolveDigest(ctx, params.Namespace, repo, tag)
		if err != nil {
			state.update(func(r *SweepReport) { r.Unresolved++ })
			logrus.WithError(err).WithFields(pairFields).
				Debug("Digest unresolved, excluding pair from scan plan")

			continue
		}

		var stored *types.ImageRecord

		record, found, err := params.Store.Get(ctx, repo, tag)
		switch {
		case err != nil:
			// Treat an unreadable record as absent so content is rescanned
			// rather than silently skipped.
			logrus.WithError(err).WithFields(pairFields).
				Error("Failed to read stored record, treating image as new")
		case found:
			stored = &record
		}

		state.update(func(r *SweepReport) { r.Enumerated++ })

		if detect.Decide(stored, resolved) == detect.Skip {
			state.update(func(r *SweepReport) { r.Skipped++ })
			logrus.WithFields(pairFields).Debug("No changes detected, skipping scan")

			continue
		}

		tasks = append(tasks, types.ScanTask{ImageName: repo, Tag: tag, Digest: resolved})
	}

	return tasks, nil
}

// runPlan executes the scan tasks with a bounded worker pool, persisting and
// notifying per task. Cancellation stops new tasks from starting; tasks in
// flight still honor the scanner's cleanup guarantee.
func runPlan(ctx context.Context, params SweepParams, plan []types.ScanTask, state *sweepState) {
	group := &errgroup.Group{}

	workers := params.ScanWorkers
	if workers < 1 {
		workers = 1
	}

	group.SetLimit(workers)

	for _, task := range plan {
		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			executeTask(ctx, params, task, state)

			return nil
		})
	}

	_ = group.Wait()
}

// executeTask runs one scan, persists its outcome, and emits the per-image
// notification.
func executeTask(ctx context.Context, params SweepParams, task types.ScanTask, state *sweepState) {
	fields := logrus.Fields{"namespace": params.Namespace, "image": task.ImageName, "tag": task.Tag}
	imageRef := task.ImageRef(params.Namespace)

	result := params.Scanner.Scan(ctx, imageRef)

	record := types.ImageRecord{
		ImageName:          task.ImageName,
		Tag:                task.Tag,
		Digest:             task.Digest,
		LastScannedAt:      params.Clock(),
		VulnerabilityCount: result.FindingCount,
	}

	if err := params.Store.Upsert(ctx, record); err != nil {
		// Loud on purpose: losing this write means a redundant rescan of the
		// same content next sweep.
		logrus.WithError(err).WithFields(fields).
			Error("Failed to persist scan outcome, image will be rescanned next sweep")
		state.update(func(r *SweepReport) { r.PersistFailures++ })
	}

	if err := params.Notifier.SendMessage(outcomeMessage(task, result)); err != nil {
		logrus.WithError(err).WithFields(fields).Error("Failed to send scan outcome notification")
	}

	state.update(func(r *SweepReport) {
		r.Scanned++
		r.Findings += result.FindingCount

		if result.Failed {
			r.ScanFailures++
		}
	})
}

// outcomeMessage renders the per-image notification, distinguishing findings
// from a clean scan.
func outcomeMessage(task types.ScanTask, result types.ScanResult) string {
	if result.FindingCount > 0 {
		return fmt.Sprintf(
			":rotating_light: Found %d verified secrets in %s:%s.\nVerified results are:\n```\n%s\n```",
			result.FindingCount,
			task.ImageName,
			task.Tag,
			result.Report,
		)
	}

	return fmt.Sprintf("No verified secrets found in %s:%s.", task.ImageName, task.Tag)
}

func recordMetrics(params SweepParams, state *sweepState) {
	if params.Metrics == nil {
		return
	}

	report := state.report
	params.Metrics.RegisterSweep(metrics.Metric{
		Enumerated: report.Enumerated,
		Skipped:    report.Skipped,
		Unresolved: report.Unresolved,
		Scanned:    report.Scanned,
		Failed:     report.ScanFailures,
		Findings:   report.Findings,
	})
}
