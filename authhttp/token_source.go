package authhttp

import (
	"context"

	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// ErrNotAuthenticated is returned by the token source when no credential is stored.
var ErrNotAuthenticated = autherrors.Wrapf(autherrors.ErrUnauthorized, "no credential stored")

type tokenSource struct {
	ctx    context.Context
	client *Client
}

// TokenSource exposes the stored credential as an oauth2.TokenSource, refreshing
// it proactively through the coordinator before handing it out.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, client: c}
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	if !CallOptionsFrom(ts.ctx).SkipAuthRefresh {
		if err := ts.client.coordinator.RefreshIfNeeded(ts.ctx); err != nil {
			log.Warn().Err(err).Msg("authhttp: proactive refresh failed in token source")
		}
	}
	cred := ts.client.store.Get()
	if !cred.IsAuthenticated {
		return nil, ErrNotAuthenticated
	}
	return cred.OAuth2Token(), nil
}
