package credentials

import (
	"time"

	"golang.org/x/oauth2"
)

// Credential is the bearer state of the current session.
// Empty strings represent absent tokens.
type Credential struct {
	AccessToken     string
	RefreshToken    string
	ExpiryEpoch     *int64 // absolute unix second at which AccessToken becomes invalid
	IsAuthenticated bool
}

// HasRefreshToken reports whether a refresh can be attempted.
func (c Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// Expiry returns the access token expiry, or the zero time when unknown.
func (c Credential) Expiry() time.Time {
	if c.ExpiryEpoch == nil {
		return time.Time{}
	}
	return time.Unix(*c.ExpiryEpoch, 0)
}

// OAuth2Token converts the credential for consumers of golang.org/x/oauth2.
func (c Credential) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry(),
	}
}

func (c Credential) clone() Credential {
	if c.ExpiryEpoch != nil {
		exp := *c.ExpiryEpoch
		c.ExpiryEpoch = &exp
	}
	return c
}
