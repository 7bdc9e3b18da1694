package types

// RegistryCredentials holds optional username/password credentials used when
// exchanging for a pull-scoped bearer token. Anonymous token exchange is the
// default for public namespaces.
type RegistryCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is the JSON body returned by the registry auth endpoint.
type TokenResponse struct {
	Token string `json:"token"`
}
