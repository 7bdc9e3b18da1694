package actions_test

import (
	"context"
	"errors"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/hogwatch/hogwatch/internal/actions"
	"github.com/hogwatch/hogwatch/internal/actions/mocks"
	"github.com/hogwatch/hogwatch/pkg/types"
)

var _ = ginkgo.Describe("RunSweep", func() {
	var (
		registry *mocks.Registry
		store    *mocks.Store
		scanner  *mocks.Scanner
		notifier *mocks.Notifier
		clock    func() time.Time
	)

	ginkgo.BeforeEach(func() {
		registry = &mocks.Registry{
			Repos: []string{"app"},
			Tags:  map[string][]string{"app": {"v1", "v2"}},
			Digests: map[string]string{
				"app:v1": "sha256:old1",
				"app:v2": "sha256:new2",
			},
		}

		store = mocks.NewStore()
		store.Records["app:v1"] = types.ImageRecord{
			ImageName: "app", Tag: "v1", Digest: "sha256:old1", VulnerabilityCount: 0,
		}
		store.Records["app:v2"] = types.ImageRecord{
			ImageName: "app", Tag: "v2", Digest: "sha256:old2", VulnerabilityCount: 1,
		}

		scanner = &mocks.Scanner{Results: map[string]types.ScanResult{
			"myorg/app:v2": {Report: "Found verified result", FindingCount: 2},
		}}

		notifier = &mocks.Notifier{}

		fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
		clock = func() time.Time { return fixed }
	})

	params := func() actions.SweepParams {
		return actions.SweepParams{
			Registry:  registry,
			Store:     store,
			Scanner:   scanner,
			Notifier:  notifier,
			Namespace: "myorg",
			Clock:     clock,
		}
	}

	ginkgo.When("one tag changed and one is unchanged", func() {
		ginkgo.It("plans, scans, persists, and notifies only the changed pair", func() {
			report, err := actions.RunSweep(context.Background(), params())

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(report.Enumerated).To(gomega.Equal(2))
			gomega.Expect(report.Skipped).To(gomega.Equal(1))
			gomega.Expect(report.Planned).To(gomega.Equal(1))
			gomega.Expect(report.Scanned).To(gomega.Equal(1))
			gomega.Expect(report.Findings).To(gomega.Equal(2))

			gomega.Expect(scanner.Calls).To(gomega.Equal([]string{"myorg/app:v2"}))

			// Summary first, then one outcome per scan.
			gomega.Expect(notifier.Messages).To(gomega.HaveLen(2))
			gomega.Expect(notifier.Messages[0]).To(gomega.ContainSubstring("Number of Public Docker images to be scanned: 1"))
			gomega.Expect(notifier.Messages[0]).To(gomega.ContainSubstring("Scan started at 2026-08-30 12:00:00 UTC."))
			gomega.Expect(notifier.Messages[1]).To(gomega.ContainSubstring("Found 2 verified secrets in app:v2"))
			gomega.Expect(notifier.Messages[1]).To(gomega.ContainSubstring("Found verified result"))

			updated := store.Records["app:v2"]
			gomega.Expect(updated.Digest).To(gomega.Equal("sha256:new2"))
			gomega.Expect(updated.VulnerabilityCount).To(gomega.Equal(2))
			gomega.Expect(updated.LastScannedAt).To(gomega.Equal(clock()))

			// The unchanged pair's record is untouched.
			gomega.Expect(store.Records["app:v1"].Digest).To(gomega.Equal("sha256:old1"))
			gomega.Expect(store.Upserts).To(gomega.HaveLen(1))
		})
	})

	ginkgo.When("nothing changed since the previous sweep", func() {
		ginkgo.It("is idempotent and produces an empty plan", func() {
			_, err := actions.RunSweep(context.Background(), params())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			scansAfterFirst := len(scanner.Calls)
			messagesAfterFirst := len(notifier.Messages)

			report, err := actions.RunSweep(context.Background(), params())

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(report.Planned).To(gomega.BeZero())
			gomega.Expect(report.Skipped).To(gomega.Equal(2))
			gomega.Expect(scanner.Calls).To(gomega.HaveLen(scansAfterFirst))
			gomega.Expect(notifier.Messages).To(gomega.HaveLen(messagesAfterFirst))
		})
	})

	ginkgo.When("a pair's digest cannot be resolved", func() {
		ginkgo.It("excludes the pair without aborting the sweep", func() {
			delete(registry.Digests, "app:v2")

			report, err := actions.RunSweep(context.Background(), params())

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(report.Unresolved).To(gomega.Equal(1))
			gomega.Expect(report.Planned).To(gomega.BeZero())
			gomega.Expect(scanner.Calls).To(gomega.BeEmpty())
		})
	})

	ginkgo.When("the namespace cannot be enumerated at all", func() {
		ginkgo.It("aborts before scanning", func() {
			registry.Repos = nil
			registry.ReposErr = errors.New("connection refused")

			_, err := actions.RunSweep(context.Background(), params())

			gomega.Expect(err).To(gomega.MatchError(actions.ErrNamespaceUnreachable))
			gomega.Expect(scanner.Calls).To(gomega.BeEmpty())
			gomega.Expect(notifier.Messages).To(gomega.BeEmpty())
		})
	})

	ginkgo.When("repository enumeration yields partial results", func() {
		ginkgo.It("sweeps what was collected", func() {
			registry.ReposErr = errors.New("page 2 failed")

			report, err := actions.RunSweep(context.Background(), params())

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(report.Enumerated).To(gomega.Equal(2))
		})
	})

	ginkgo.When("a scan result cannot be persisted", func() {
		ginkgo.It("flags the failure and keeps sweeping", func() {
			store.UpsertErr = errors.New("disk full")

			report, err := actions.RunSweep(context.Background(), params())

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(report.Scanned).To(gomega.Equal(1))
			gomega.Expect(report.PersistFailures).To(gomega.Equal(1))
			// The outcome notification still goes out.
			gomega.Expect(notifier.Messages).To(gomega.HaveLen(2))
		})
	})

	ginkgo.When("a scan comes back clean", func() {
		ginkgo.It("sends a clean outcome notification", func() {
			scanner.Results["myorg/app:v2"] = types.ScanResult{Report: "", FindingCount: 0}

			_, err := actions.RunSweep(context.Background(), params())

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(notifier.Messages[1]).To(gomega.Equal("No verified secrets found in app:v2."))
		})
	})

	ginkgo.When("scanning runs with multiple workers", func() {
		ginkgo.It("scans every planned pair exactly once", func() {
			registry.Repos = []string{"app", "api"}
			registry.Tags["api"] = []string{"latest"}
			registry.Digests["api:latest"] = "sha256:apinew"

			p := params()
			p.EnumWorkers = 4
			p.ScanWorkers = 3

			report, err := actions.RunSweep(context.Background(), p)

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(report.Planned).To(gomega.Equal(2))
			gomega.Expect(report.Scanned).To(gomega.Equal(2))
			gomega.Expect(scanner.Calls).To(gomega.ConsistOf("myorg/app:v2", "myorg/api:latest"))
		})
	})

	ginkgo.When("the sweep context is already cancelled", func() {
		ginkgo.It("does not start any scans", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := actions.RunSweep(ctx, params())

			gomega.Expect(err).To(gomega.HaveOccurred())
			gomega.Expect(scanner.Calls).To(gomega.BeEmpty())
		})
	})
})
