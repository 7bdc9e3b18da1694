// Package digest resolves the content digest of an image manifest without
// downloading the manifest body. Resolution is the two-step protocol used by
// the distribution API: exchange for a pull-scoped bearer token, then issue a
// HEAD request for the manifest and read the digest response header.
package digest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	godigest "github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/hogwatch/hogwatch/pkg/registry/auth"
)

// ContentDigestHeader is the response header carrying the manifest digest.
const ContentDigestHeader = "Docker-Content-Digest"

// acceptHeader lists the manifest media types the resolver understands. Both
// OCI indexes and Docker V2 manifests are accepted so multi-arch images
// resolve to their index digest.
const acceptHeader = "application/vnd.docker.distribution.manifest.v2+json, " +
	"application/vnd.oci.image.index.v1+json"

// ErrDigestUnresolved indicates the digest for one image:tag pair could not be
// resolved. Callers skip the pair; the failure is never fatal to a sweep.
var ErrDigestUnresolved = errors.New("digest could not be resolved")

// Resolver resolves manifest digests against one registry endpoint.
type Resolver struct {
	registryURL string
	authOpts    auth.Options
	client      *http.Client
	userAgent   string
}

// NewResolver creates a Resolver for the given registry base URL
// (e.g. "https://registry-1.docker.io") using the provided token exchange
// options.
func NewResolver(registryURL string, authOpts auth.Options, client *http.Client, userAgent string) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}

	if authOpts.Client == nil {
		authOpts.Client = client
	}

	return &Resolver{
		registryURL: registryURL,
		authOpts:    authOpts,
		client:      client,
		userAgent:   userAgent,
	}
}

// Resolve returns the manifest digest for namespace/repository:tag.
//
// Any failure in the token exchange or the manifest request yields an error
// wrapping ErrDigestUnresolved.
func (r *Resolver) Resolve(ctx context.Context, namespace, repository, tag string) (string, error) {
	fields := logrus.Fields{
		"image": namespace + "/" + repository,
		"tag":   tag,
	}

	token, err := auth.GetToken(ctx, r.authOpts, namespace, repository)
	if err != nil {
		logrus.WithError(err).WithFields(fields).Debug("Token exchange failed")

		return "", fmt.Errorf("%w: %w", ErrDigestUnresolved, err)
	}

	manifestURL := fmt.Sprintf("%s/v2/%s/%s/manifests/%s", r.registryURL, namespace, repository, tag)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, manifestURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDigestUnresolved, err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", acceptHeader)

	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	res, err := r.client.Do(req)
	if err != nil {
		logrus.WithError(err).WithFields(fields).Debug("Manifest HEAD request failed")

		return "", fmt.Errorf("%w: %w", ErrDigestUnresolved, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		logrus.WithFields(fields).
			WithField("status", res.Status).
			Debug("Manifest HEAD request returned non-success status")

		return "", fmt.Errorf("%w: manifest request status %s", ErrDigestUnresolved, res.Status)
	}

	value := res.Header.Get(ContentDigestHeader)
	if value == "" {
		return "", fmt.Errorf("%w: response missing %s header", ErrDigestUnresolved, ContentDigestHeader)
	}

	parsed, err := godigest.Parse(value)
	if err != nil {
		return "", fmt.Errorf("%w: malformed digest %q: %w", ErrDigestUnresolved, value, err)
	}

	logrus.WithFields(fields).WithField("digest", parsed.String()).Debug("Resolved manifest digest")

	return parsed.String(), nil
}
