// Package registry implements the Docker Hub client used to enumerate a
// namespace: paginated listing of repositories and tags through the Hub API,
// and manifest digest resolution through the distribution API.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hogwatch/hogwatch/pkg/registry/auth"
	"github.com/hogwatch/hogwatch/pkg/registry/digest"
	"github.com/hogwatch/hogwatch/pkg/types"
)

// Default endpoints for Docker Hub.
const (
	DefaultHubAPIURL   = "https://hub.docker.com"
	DefaultRegistryURL = "https://registry-1.docker.io"
	DefaultTokenURL    = "https://auth.docker.io/token"
	DefaultService     = "registry.docker.io"
)

// defaultPageSize is the page size requested from the Hub API.
const defaultPageSize = 100

// ErrTransport indicates a non-success status while fetching an enumeration
// page. Items collected from earlier pages are still returned alongside it.
var ErrTransport = errors.New("registry enumeration request failed")

// Config holds the endpoints and options for a Client. Zero values fall back
// to the public Docker Hub endpoints.
type Config struct {
	HubAPIURL   string
	RegistryURL string
	TokenURL    string
	Service     string
	PageSize    int
	Credentials *types.RegistryCredentials
	Client      *http.Client
	UserAgent   string
}

// Client talks to Docker Hub. It implements types.RegistryClient and holds no
// mutable state beyond its configuration, so it is safe for concurrent use.
type Client struct {
	hubAPIURL string
	pageSize  int
	client    *http.Client
	userAgent string
	resolver  *digest.Resolver
}

// page mirrors the Hub API's paginated list responses: a results array of
// named items plus an absolute "next" link, empty on the last page.
type page struct {
	Results []struct {
		Name string `json:"name"`
	} `json:"results"`
	Next string `json:"next"`
}

// NewClient creates a Hub client from the given configuration, applying the
// public Docker Hub defaults for any unset endpoint.
func NewClient(config Config) *Client {
	if config.HubAPIURL == "" {
		config.HubAPIURL = DefaultHubAPIURL
	}

	if config.RegistryURL == "" {
		config.RegistryURL = DefaultRegistryURL
	}

	if config.TokenURL == "" {
		config.TokenURL = DefaultTokenURL
	}

	if config.Service == "" {
		config.Service = DefaultService
	}

	if config.PageSize <= 0 {
		config.PageSize = defaultPageSize
	}

	if config.Client == nil {
		config.Client = &http.Client{}
	}

	authOpts := auth.Options{
		TokenURL:    config.TokenURL,
		Service:     config.Service,
		Credentials: config.Credentials,
		Client:      config.Client,
	}

	return &Client{
		hubAPIURL: strings.TrimSuffix(config.HubAPIURL, "/"),
		pageSize:  config.PageSize,
		client:    config.Client,
		userAgent: config.UserAgent,
		resolver:  digest.NewResolver(config.RegistryURL, authOpts, config.Client, config.UserAgent),
	}
}

// ListRepositories returns the names of all repositories in the namespace,
// following "next" links until exhausted.
func (c *Client) ListRepositories(ctx context.Context, namespace string) ([]string, error) {
	firstPage := fmt.Sprintf("%s/v2/repositories/%s/?page_size=%d", c.hubAPIURL, namespace, c.pageSize)

	return c.listPaginated(ctx, firstPage)
}

// ListTags returns the names of all tags in one repository of the namespace.
func (c *Client) ListTags(ctx context.Context, namespace, repository string) ([]string, error) {
	firstPage := fmt.Sprintf(
		"%s/v2/repositories/%s/%s/tags/?page_size=%d",
		c.hubAPIURL,
		namespace,
		repository,
		c.pageSize,
	)

	return c.listPaginated(ctx, firstPage)
}

// ResolveDigest resolves the manifest digest for namespace/repository:tag via
// the two-step token-then-HEAD protocol.
func (c *Client) ResolveDigest(ctx context.Context, namespace, repository, tag string) (string, error) {
	return c.resolver.Resolve(ctx, namespace, repository, tag)
}

// listPaginated walks a cursor-style paginated listing starting at pageURL.
//
// On a non-success status or request failure it returns the names collected
// from earlier pages together with an error wrapping ErrTransport; the caller
// decides whether the partial result is usable.
func (c *Client) listPaginated(ctx context.Context, pageURL string) ([]string, error) {
	var names []string

	for pageURL != "" {
		logrus.WithField("url", pageURL).Debug("Fetching enumeration page")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return names, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		res, err := c.client.Do(req)
		if err != nil {
			return names, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		if res.StatusCode != http.StatusOK {
			res.Body.Close()

			return names, fmt.Errorf("%w: status %s for %s", ErrTransport, res.Status, pageURL)
		}

		var p page

		err = json.NewDecoder(res.Body).Decode(&p)
		res.Body.Close()

		if err != nil {
			return names, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		for _, result := range p.Results {
			names = append(names, result.Name)
		}

		pageURL = p.Next
	}

	return names, nil
}
