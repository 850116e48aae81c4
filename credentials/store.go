// Package credentials holds the session credential in memory and in encrypted durable storage.
package credentials

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/rs/zerolog/log"
)

// Store is the single owner of the session credential.
// Every Set and Clear persists before the in-memory copy is swapped, so readers
// always see either the old or the new credential.
type Store struct {
	repo       Repo
	nowFunc    func() time.Time
	mu         sync.RWMutex
	current    Credential
	generation uint64
}

type Option func(*Store)

// WithNowFunc overrides the clock used to compute expiry epochs.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

// Load reads the persisted credential once and returns a ready store.
func Load(ctx context.Context, repo Repo, options ...Option) (*Store, error) {
	s := &Store{repo: repo, nowFunc: time.Now}
	for _, opt := range options {
		opt(s)
	}

	access, okAccess, err := repo.Get(ctx, KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("credentials.Load %s: %w: %w", KeyAccessToken, autherrors.ErrCredentialStorage, err)
	}
	refresh, okRefresh, err := repo.Get(ctx, KeyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("credentials.Load %s: %w: %w", KeyRefreshToken, autherrors.ErrCredentialStorage, err)
	}
	if !okAccess || !okRefresh || access == "" || refresh == "" {
		return s, nil
	}

	c := Credential{AccessToken: access, RefreshToken: refresh, IsAuthenticated: true}
	raw, ok, err := repo.Get(ctx, KeyExpiryEpoch)
	if err != nil {
		return nil, fmt.Errorf("credentials.Load %s: %w: %w", KeyExpiryEpoch, autherrors.ErrCredentialStorage, err)
	}
	// An empty expiry is how Set records that none is known.
	if ok && raw != "" {
		if exp, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			c.ExpiryEpoch = &exp
		} else {
			log.Warn().Msg("credentials: ignoring unparsable expiry epoch")
		}
	}
	s.current = c
	return s, nil
}

// Get returns a copy of the current credential.
func (s *Store) Get() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// IsAuthenticated reports the global auth state.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.IsAuthenticated
}

// Generation increases on every successful Set.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Set stores a new credential. expiresIn is in seconds; nil leaves the expiry unset.
// The in-memory credential is unchanged if persisting fails.
func (s *Store) Set(ctx context.Context, access, refresh string, expiresIn *int) error {
	if access == "" {
		return autherrors.Wrapf(autherrors.ErrCredentialStorage, "credentials.Set empty access token")
	}

	next := Credential{AccessToken: access, RefreshToken: refresh, IsAuthenticated: true}
	entries := map[string]string{
		KeyAccessToken:  access,
		KeyRefreshToken: refresh,
		KeyExpiryEpoch:  "",
	}
	if expiresIn != nil {
		exp := s.nowFunc().Add(time.Duration(*expiresIn) * time.Second).Unix()
		next.ExpiryEpoch = &exp
		entries[KeyExpiryEpoch] = strconv.FormatInt(exp, 10)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// All three keys go in one write so a new token never sits next to an old expiry.
	if err := s.repo.Put(ctx, entries); err != nil {
		return fmt.Errorf("credentials.Set: %w: %w", autherrors.ErrCredentialStorage, err)
	}
	s.current = next
	s.generation++
	return nil
}

// Clear destroys the credential. Memory is always cleared; a persistence failure is returned.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = Credential{}
	if err := s.repo.Delete(ctx, Keys...); err != nil {
		return fmt.Errorf("credentials.Clear: %w: %w", autherrors.ErrCredentialStorage, err)
	}
	return nil
}
