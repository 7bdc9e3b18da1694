// Package auth provides the bearer-token exchange used before manifest
// requests. The token endpoint hands out short-lived, pull-scoped tokens for a
// single repository; for public namespaces the exchange is anonymous.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/hogwatch/hogwatch/pkg/types"
)

// Static errors for token exchange failures.
var (
	errTokenRequestFailed = errors.New("token request failed")
	errTokenStatus        = errors.New("token endpoint returned non-success status")
	errEmptyToken         = errors.New("token endpoint returned an empty token")
)

// Options configures a token exchange against one auth endpoint.
type Options struct {
	// TokenURL is the auth endpoint, e.g. "https://auth.docker.io/token".
	TokenURL string
	// Service is the registry service name the token is scoped to,
	// e.g. "registry.docker.io".
	Service string
	// Credentials, when non-nil, are sent as basic auth on the token request.
	// Nil means anonymous exchange.
	Credentials *types.RegistryCredentials
	// Client is the HTTP client used for the exchange.
	Client *http.Client
}

// GetToken fetches a pull-scoped bearer token for one repository.
//
// It issues a GET to the token endpoint with service and scope query
// parameters and decodes the token from the JSON response body.
func GetToken(ctx context.Context, opts Options, namespace, repository string) (string, error) {
	scope := fmt.Sprintf("repository:%s/%s:pull", namespace, repository)

	tokenURL, err := url.Parse(opts.TokenURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errTokenRequestFailed, err)
	}

	q := tokenURL.Query()
	q.Set("service", opts.Service)
	q.Set("scope", scope)
	tokenURL.RawQuery = q.Encode()

	logrus.WithFields(logrus.Fields{
		"url":   tokenURL.String(),
		"scope": scope,
	}).Debug("Requesting registry token")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errTokenRequestFailed, err)
	}

	if opts.Credentials != nil && opts.Credentials.Username != "" {
		req.SetBasicAuth(opts.Credentials.Username, opts.Credentials.Password)
	}

	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}

	res, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errTokenRequestFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", errTokenStatus, res.Status)
	}

	var tokenResponse types.TokenResponse
	if err := json.NewDecoder(res.Body).Decode(&tokenResponse); err != nil {
		return "", fmt.Errorf("%w: %w", errTokenRequestFailed, err)
	}

	if tokenResponse.Token == "" {
		return "", errEmptyToken
	}

	return tokenResponse.Token, nil
}
