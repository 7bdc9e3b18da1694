// Package scanner implements the scan executor: it materializes an image's
// root filesystem into a scratch directory by exporting a non-running
// container, runs the external secret scanner over it, and guarantees release
// of both transient resources on every exit path.
//
// Scan failures are folded into the returned result instead of propagating;
// one broken image must never abort a sweep.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/distribution/reference"
	dockerContainer "github.com/docker/docker/api/types/container"
	dockerImage "github.com/docker/docker/api/types/image"
	dockerNetwork "github.com/docker/docker/api/types/network"
	dockerClient "github.com/docker/docker/client"
	"github.com/moby/go-archive"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/hogwatch/hogwatch/internal/util"
	"github.com/hogwatch/hogwatch/pkg/types"
)

// DefaultPlatform pins image pulls and container creation to one platform so
// multi-arch images always materialize the same filesystem.
const DefaultPlatform = "linux/amd64"

// containerNameSuffixLength sets the random suffix length on scratch container
// names.
const containerNameSuffixLength = 8

// errInvalidPlatform indicates a platform string that is not "os/arch" or
// "os/arch/variant".
var errInvalidPlatform = errors.New("invalid platform")

// DockerAPI is the subset of the Docker API client the executor needs. The
// concrete client satisfies it; tests substitute fakes.
type DockerAPI interface {
	ImagePull(ctx context.Context, refStr string, options dockerImage.PullOptions) (io.ReadCloser, error)
	ContainerCreate(
		ctx context.Context,
		config *dockerContainer.Config,
		hostConfig *dockerContainer.HostConfig,
		networkingConfig *dockerNetwork.NetworkingConfig,
		platform *ocispec.Platform,
		containerName string,
	) (dockerContainer.CreateResponse, error)
	ContainerExport(ctx context.Context, containerID string) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options dockerContainer.RemoveOptions) error
}

// Options configures a Scanner.
type Options struct {
	// Docker is the API client used for image and container operations.
	// Nil means a client configured from the environment (DOCKER_HOST etc.).
	Docker DockerAPI
	// Platform pins pulls and container creation; defaults to DefaultPlatform.
	Platform string
	// TrufflehogPath locates the secret scanner binary; defaults to PATH lookup.
	TrufflehogPath string
	// ScratchBase is the directory scratch exports are created under; empty
	// means the system temp directory. Each scan can hold a full image
	// filesystem, so point this at a volume with room.
	ScratchBase string
	// Timeout bounds one scan's whole container lifecycle (pull, export,
	// scan). Zero means no timeout.
	Timeout time.Duration
	// Run executes the scanner binary; defaults to os/exec.
	Run RunCommandFunc
}

// Scanner is the concrete scan executor. It implements types.Scanner.
type Scanner struct {
	docker         DockerAPI
	platform       string
	platformSpec   *ocispec.Platform
	trufflehogPath string
	scratchBase    string
	timeout        time.Duration
	run            RunCommandFunc
}

// New creates a Scanner from the given options, connecting to the Docker
// daemon from the environment (DOCKER_HOST, DOCKER_TLS_VERIFY,
// DOCKER_API_VERSION) when no client is injected.
//
// Parameters:
//   - opts: The Options struct configuring the Docker client, platform pin,
//     scanner binary path, scratch directory, and per-scan timeout.
//
// Returns:
//   - *Scanner: A pointer to the configured scan executor, ready for use.
//   - error: Non-nil if the Docker client cannot be created or the platform
//     string does not parse.
func New(opts Options) (*Scanner, error) {
	if opts.Docker == nil {
		cli, err := dockerClient.NewClientWithOpts(
			dockerClient.FromEnv,
			dockerClient.WithAPIVersionNegotiation(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Docker client: %w", err)
		}

		opts.Docker = cli
	}

	if opts.Platform == "" {
		opts.Platform = DefaultPlatform
	}

	if opts.TrufflehogPath == "" {
		opts.TrufflehogPath = DefaultTrufflehogPath
	}

	if opts.Run == nil {
		opts.Run = runCommand
	}

	spec, err := parsePlatform(opts.Platform)
	if err != nil {
		return nil, err
	}

	return &Scanner{
		docker:         opts.Docker,
		platform:       opts.Platform,
		platformSpec:   spec,
		trufflehogPath: opts.TrufflehogPath,
		scratchBase:    opts.ScratchBase,
		timeout:        opts.Timeout,
		run:            opts.Run,
	}, nil
}

// Scan materializes imageRef's filesystem and runs the secret scanner over it.
//
// It pulls the image, creates a throwaway container, exports and unpacks its
// filesystem into a scratch directory, and runs the scanner binary over the
// result. The container and scratch directory are released before returning
// regardless of outcome, including timeouts and cancellation.
//
// Parameters:
//   - ctx: The context bounding the scan; a configured timeout is layered on
//     top of it.
//   - imageRef: The fully qualified image reference (e.g. "myorg/app:v2") to
//     materialize and scan.
//
// Returns:
//   - types.ScanResult: Always carries a report: on success the
//     human-readable scanner output and verified finding count, on failure
//     the failure text with a zero count and Failed set.
func (s *Scanner) Scan(ctx context.Context, imageRef string) types.ScanResult {
	fields := logrus.Fields{"image": imageRef}
	logrus.WithFields(fields).Info("Scanning image filesystem for secrets")

	if s.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resources := newGuard(fields)
	defer resources.releaseAll()

	if _, err := reference.ParseDockerRef(imageRef); err != nil {
		return s.failed(fields, imageRef, fmt.Errorf("invalid image reference: %w", err))
	}

	scratchDir, err := os.MkdirTemp(s.scratchBase, "hogwatch-scan-*")
	if err != nil {
		return s.failed(fields, imageRef, fmt.Errorf("failed to create scratch directory: %w", err))
	}

	resources.add("scratch directory", func() error { return os.RemoveAll(scratchDir) })

	if err := s.pull(ctx, imageRef); err != nil {
		return s.failed(fields, imageRef, err)
	}

	containerID, err := s.create(ctx, imageRef, resources)
	if err != nil {
		return s.failed(fields, imageRef, err)
	}

	if err := s.export(ctx, containerID, scratchDir); err != nil {
		return s.failed(fields, imageRef, err)
	}

	report, count, err := s.runSecretScanner(ctx, scratchDir)
	if err != nil {
		return s.failed(fields, imageRef, fmt.Errorf("secret scanner failed: %w", err))
	}

	logrus.WithFields(fields).WithField("findings", count).Info("Completed secret scan")

	return types.ScanResult{Report: report, FindingCount: count}
}

// pull fetches the image for the pinned platform, draining the progress
// stream; a pull that errors mid-stream counts as a failed pull.
func (s *Scanner) pull(ctx context.Context, imageRef string) error {
	stream, err := s.docker.ImagePull(ctx, imageRef, dockerImage.PullOptions{Platform: s.platform})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer stream.Close()

	if _, err := io.Copy(io.Discard, stream); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}

	return nil
}

// create instantiates a non-running container from the image and registers its
// removal with the guard. Removal runs on an uncancelled context so a timed
// out scan still releases the container; a container that is already gone is
// not an error.
func (s *Scanner) create(ctx context.Context, imageRef string, resources *guard) (string, error) {
	name := containerName(imageRef)

	created, err := s.docker.ContainerCreate(
		ctx,
		&dockerContainer.Config{Image: imageRef},
		nil,
		nil,
		s.platformSpec,
		name,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	removeCtx := context.WithoutCancel(ctx)
	resources.add("container "+name, func() error {
		err := s.docker.ContainerRemove(removeCtx, created.ID, dockerContainer.RemoveOptions{Force: true})
		if cerrdefs.IsNotFound(err) {
			return nil
		}

		return err
	})

	return created.ID, nil
}

// export streams the container's filesystem tar into the scratch directory.
func (s *Scanner) export(ctx context.Context, containerID, scratchDir string) error {
	stream, err := s.docker.ContainerExport(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to export container filesystem: %w", err)
	}
	defer stream.Close()

	if err := archive.Untar(stream, scratchDir, &archive.TarOptions{NoLchown: true}); err != nil {
		return fmt.Errorf("failed to extract container filesystem: %w", err)
	}

	return nil
}

// failed folds a per-step failure into a result whose report is the failure
// text, mirroring what gets notified for a broken image.
func (s *Scanner) failed(fields logrus.Fields, imageRef string, err error) types.ScanResult {
	logrus.WithError(err).WithFields(fields).Warn("Scan failed")

	return types.ScanResult{
		Report: fmt.Sprintf("Error during scanning %s: %v", imageRef, err),
		Failed: true,
	}
}

// containerName derives a unique scratch container name from the image
// reference, keeping only characters Docker accepts in names.
func containerName(imageRef string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, imageRef)

	return fmt.Sprintf("hogwatch-%s-%s", sanitized, util.RandSuffix(containerNameSuffixLength))
}

// parsePlatform splits an "os/arch[/variant]" platform string into the OCI
// platform spec used to pin container creation.
func parsePlatform(platform string) (*ocispec.Platform, error) {
	parts := strings.Split(platform, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: %q", errInvalidPlatform, platform)
	}

	spec := &ocispec.Platform{OS: parts[0], Architecture: parts[1]}
	if len(parts) > 2 {
		spec.Variant = parts[2]
	}

	return spec, nil
}
