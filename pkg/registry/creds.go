package registry

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	dockerCliConfig "github.com/docker/cli/cli/config"

	"github.com/hogwatch/hogwatch/pkg/types"
)

// IndexServer is the credential key Docker Hub logins are stored under in the
// Docker CLI config file.
const IndexServer = "https://index.docker.io/v1/"

// Errors for credential lookup.
var (
	// errUnsetRegAuthVars indicates the REPO_USER/REPO_PASS environment
	// variables are not both set.
	errUnsetRegAuthVars = errors.New("registry auth environment variables (REPO_USER, REPO_PASS) not set")
	// errFailedLoadDockerConfig indicates the Docker CLI config file could not
	// be loaded.
	errFailedLoadDockerConfig = errors.New("failed to load Docker config")
)

// Credentials returns Hub credentials from the environment, falling back to
// the Docker CLI config file. It returns nil when neither source yields
// credentials, in which case token exchange proceeds anonymously.
func Credentials() *types.RegistryCredentials {
	creds, err := credentialsFromEnv()
	if err == nil {
		return creds
	}

	logrus.WithError(err).Debug("Environment credentials not available, trying Docker config")

	creds, err = credentialsFromDockerConfig()
	if err != nil {
		logrus.WithError(err).Debug("No registry credentials found, using anonymous token exchange")

		return nil
	}

	return creds
}

// credentialsFromEnv reads REPO_USER and REPO_PASS.
func credentialsFromEnv() (*types.RegistryCredentials, error) {
	username := os.Getenv("REPO_USER")
	password := os.Getenv("REPO_PASS")

	if username == "" || password == "" {
		return nil, errUnsetRegAuthVars
	}

	logrus.WithField("username", username).Debug("Loaded registry credentials from environment")

	return &types.RegistryCredentials{Username: username, Password: password}, nil
}

// credentialsFromDockerConfig reads the Docker Hub login from the Docker CLI
// config file, honoring any configured credential helpers.
func credentialsFromDockerConfig() (*types.RegistryCredentials, error) {
	configFile, err := dockerCliConfig.Load("")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedLoadDockerConfig, err)
	}

	authConfig, err := configFile.GetAuthConfig(IndexServer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedLoadDockerConfig, err)
	}

	if authConfig.Username == "" || authConfig.Password == "" {
		return nil, errUnsetRegAuthVars
	}

	logrus.WithField("username", authConfig.Username).
		Debug("Loaded registry credentials from Docker config")

	return &types.RegistryCredentials{
		Username: authConfig.Username,
		Password: authConfig.Password,
	}, nil
}
