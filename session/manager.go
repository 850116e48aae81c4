package session

import (
	"context"

	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/jrsteele09/go-auth-client/cache"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// API is the subset of the auth endpoints the manager calls.
type API interface {
	Login(ctx context.Context, body authapi.LoginRequest) (*authapi.TokenResponse, error)
	Signup(ctx context.Context, body authapi.SignupRequest) (*authapi.TokenResponse, error)
	Logout(ctx context.Context, accessToken string) error
}

// Manager adopts credentials issued by the backend and ends sessions on request.
type Manager struct {
	store  *credentials.Store
	api    API
	purger cache.IdentityPurger
}

// NewManager returns a manager. purger may be nil.
func NewManager(store *credentials.Store, api API, purger cache.IdentityPurger) *Manager {
	return &Manager{store: store, api: api, purger: purger}
}

func (m *Manager) Login(ctx context.Context, username, password string) (credentials.Credential, error) {
	tr, err := m.api.Login(ctx, authapi.LoginRequest{Username: username, Password: password})
	if err != nil {
		return credentials.Credential{}, errors.Wrap(err, "session.Manager.Login")
	}
	return m.Exchange(ctx, tr)
}

func (m *Manager) Signup(ctx context.Context, body authapi.SignupRequest) (credentials.Credential, error) {
	tr, err := m.api.Signup(ctx, body)
	if err != nil {
		return credentials.Credential{}, errors.Wrap(err, "session.Manager.Signup")
	}
	return m.Exchange(ctx, tr)
}

// Exchange stores a credential obtained elsewhere, such as a social sign-in token exchange.
func (m *Manager) Exchange(ctx context.Context, tr *authapi.TokenResponse) (credentials.Credential, error) {
	if tr == nil || utils.Value(tr.AccessToken) == "" {
		return credentials.Credential{}, autherrors.Wrapf(authapi.ErrMissingAccessToken, "session.Manager.Exchange")
	}
	if err := m.store.Set(ctx, *tr.AccessToken, utils.Value(tr.RefreshToken), tr.ExpiresIn); err != nil {
		return credentials.Credential{}, err
	}
	m.purge()
	return m.store.Get(), nil
}

// Logout tells the backend and clears the local session. The backend call is
// best effort: its failure is logged and the local session ends regardless.
// No login prompt is presented.
func (m *Manager) Logout(ctx context.Context) error {
	if access := m.store.Get().AccessToken; access != "" {
		if err := m.api.Logout(ctx, access); err != nil {
			log.Warn().Err(err).Msg("session: logout endpoint failed")
		}
	}
	err := m.store.Clear(ctx)
	m.purge()
	return err
}

func (m *Manager) purge() {
	if m.purger != nil {
		m.purger.PurgeIdentity()
	}
}
