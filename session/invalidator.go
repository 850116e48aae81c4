// Package session owns the credential lifecycle around the store: login, logout
// and the teardown that follows an unrecoverable refresh failure.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/cache"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/metrics"
	"github.com/rs/zerolog/log"
)

const clearTimeout = 10 * time.Second

// Navigator presents the login prompt. It is implemented by the UI layer.
type Navigator interface {
	PresentLogin(reason string)
}

// NavigatorFunc adapts a function to a Navigator.
type NavigatorFunc func(reason string)

func (f NavigatorFunc) PresentLogin(reason string) {
	f(reason)
}

// Invalidator tears down a session that can no longer be refreshed.
type Invalidator struct {
	store     *credentials.Store
	purger    cache.IdentityPurger
	navigator Navigator
	metrics   *metrics.Metrics

	mu          sync.Mutex
	invalidated bool
	generation  uint64
}

type InvalidatorOption func(*Invalidator)

func WithIdentityPurger(p cache.IdentityPurger) InvalidatorOption {
	return func(i *Invalidator) {
		i.purger = p
	}
}

func WithNavigator(n Navigator) InvalidatorOption {
	return func(i *Invalidator) {
		i.navigator = n
	}
}

func WithMetrics(m *metrics.Metrics) InvalidatorOption {
	return func(i *Invalidator) {
		i.metrics = m
	}
}

func NewInvalidator(store *credentials.Store, options ...InvalidatorOption) *Invalidator {
	i := &Invalidator{store: store}
	for _, opt := range options {
		opt(i)
	}
	return i
}

// Invalidate clears the credential, purges identity-scoped cache entries and
// presents the login prompt with reason. It runs at most once per credential
// generation and reports whether this call did the work.
func (i *Invalidator) Invalidate(reason string) bool {
	if !i.claim() {
		log.Debug().Str("reason", reason).Msg("session: already invalidated")
		return false
	}

	i.teardown()
	i.metrics.Invalidation()
	log.Info().Str("reason", reason).Msg("session: invalidated")

	if i.navigator != nil {
		i.navigator.PresentLogin(reason)
	}
	return true
}

func (i *Invalidator) claim() bool {
	gen := i.store.Generation()
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.invalidated && i.generation == gen {
		return false
	}
	i.invalidated = true
	i.generation = gen
	return true
}

// teardown clears local session state without touching the UI.
func (i *Invalidator) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), clearTimeout)
	defer cancel()

	if err := i.store.Clear(ctx); err != nil {
		log.Err(err).Msg("session: credential storage not cleared")
	}
	if i.purger != nil {
		i.purger.PurgeIdentity()
	}
}
