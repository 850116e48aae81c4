package authapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Header names shared by every transport.
const (
	HeaderAuthorization = "Authorization"
	HeaderLocale        = "x-lang"
	BearerPrefix        = "Bearer "
)

// Default endpoint paths relative to the API base URL.
const (
	RefreshPath = "/auth/refresh"
	LoginPath   = "/auth/login"
	SignupPath  = "/auth/signup"
	LogoutPath  = "/auth/logout"
)

// Endpoints holds absolute URLs of the credential lifecycle endpoints.
type Endpoints struct {
	Refresh string
	Login   string
	Signup  string
	Logout  string
}

// DefaultEndpoints derives the endpoints from the API base URL.
func DefaultEndpoints(baseURL string) Endpoints {
	base := strings.TrimRight(baseURL, "/")
	return Endpoints{
		Refresh: base + RefreshPath,
		Login:   base + LoginPath,
		Signup:  base + SignupPath,
		Logout:  base + LogoutPath,
	}
}

// Discover reads the issuer's OpenID configuration and overrides the refresh and
// logout endpoints with the advertised token and end-session endpoints.
func Discover(ctx context.Context, issuer string, fallback Endpoints) (Endpoints, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return fallback, fmt.Errorf("authapi.Discover %s: %w", issuer, err)
	}

	var claims struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&claims); err != nil {
		return fallback, fmt.Errorf("authapi.Discover claims: %w", err)
	}

	endpoints := fallback
	if tokenURL := provider.Endpoint().TokenURL; tokenURL != "" {
		endpoints.Refresh = tokenURL
	}
	if claims.EndSessionEndpoint != "" {
		endpoints.Logout = claims.EndSessionEndpoint
	}
	return endpoints, nil
}
