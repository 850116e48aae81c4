package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/jrsteele09/go-auth-client/cache"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/metrics"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultSkew is how long before expiry a proactive refresh is triggered.
	DefaultSkew = 300 * time.Second
	// DefaultTimeout bounds the refresh network call.
	DefaultTimeout = 30 * time.Second

	// SessionExpiredReason is shown on the login prompt after a failed refresh.
	SessionExpiredReason = "session expired"
)

// Refresh triggers, used as metric labels.
const (
	TriggerReactive  = "reactive"
	TriggerProactive = "proactive"
	TriggerForced    = "forced"
)

// Refresher calls the refresh endpoint.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*authapi.TokenResponse, error)
}

// Invalidator tears the session down after an unrecoverable refresh failure.
type Invalidator interface {
	Invalidate(reason string) bool
}

type Coordinator struct {
	store       *credentials.Store
	refresher   Refresher
	invalidator Invalidator
	purger      cache.IdentityPurger
	metrics     *metrics.Metrics
	skew        time.Duration
	timeout     time.Duration
	nowFunc     func() time.Time

	mu         sync.Mutex
	refreshing bool
	pending    []*PendingCall
}

type Option func(*Coordinator)

func WithInvalidator(i Invalidator) Option {
	return func(c *Coordinator) {
		c.invalidator = i
	}
}

func WithIdentityPurger(p cache.IdentityPurger) Option {
	return func(c *Coordinator) {
		c.purger = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithSkew(skew time.Duration) Option {
	return func(c *Coordinator) {
		c.skew = skew
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.nowFunc = now
	}
}

func NewCoordinator(store *credentials.Store, refresher Refresher, options ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		refresher: refresher,
		skew:      DefaultSkew,
		timeout:   DefaultTimeout,
		nowFunc:   time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// SetInvalidator wires the invalidator after construction, for callers whose
// invalidator itself depends on the coordinator's store.
func (c *Coordinator) SetInvalidator(i Invalidator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidator = i
}

// ShouldProactivelyRefresh reports whether the next call should refresh first:
// a refresh token exists and the access token expires within the skew. Without a
// known expiry, a missing access token or a JWT exp claim within the skew counts.
func (c *Coordinator) ShouldProactivelyRefresh() bool {
	cred := c.store.Get()
	if !cred.HasRefreshToken() {
		return false
	}
	now := c.nowFunc()
	if cred.ExpiryEpoch != nil {
		return time.Unix(*cred.ExpiryEpoch, 0).Sub(now) < c.skew
	}
	if cred.AccessToken == "" {
		return true
	}
	exp, ok := jwtExpiry(cred.AccessToken)
	return ok && exp.Sub(now) < c.skew
}

// Refreshing reports whether a refresh is in flight.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// Pending returns the number of queued calls.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Enqueue queues req behind the in-flight refresh. It returns false, queuing
// nothing, when no refresh is in flight.
func (c *Coordinator) Enqueue(ctx context.Context, req *http.Request) (*PendingCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.refreshing {
		return nil, false
	}
	p := newPendingCall(ctx, req, c.nowFunc())
	c.pending = append(c.pending, p)
	c.metrics.Queued()
	log.Debug().Str("pending_id", p.ID).Int("queue_len", len(c.pending)).Msg("refresh: call queued")
	return p, true
}

// Refresh runs the refresh. It fails with autherrors.ErrRefreshInProgress, doing
// nothing, when another refresh is in flight; use ForceRefresh to join it instead.
func (c *Coordinator) Refresh(ctx context.Context) (credentials.Credential, error) {
	return c.refresh(ctx, TriggerReactive)
}

// ForceRefresh joins the in-flight refresh or starts a new one.
func (c *Coordinator) ForceRefresh(ctx context.Context) (credentials.Credential, error) {
	return c.join(ctx, TriggerForced)
}

// RefreshIfNeeded refreshes when ShouldProactivelyRefresh reports true.
func (c *Coordinator) RefreshIfNeeded(ctx context.Context) error {
	if !c.ShouldProactivelyRefresh() {
		return nil
	}
	_, err := c.join(ctx, TriggerProactive)
	return err
}

// Reauthenticate obtains the credential to replay a call that was rejected as
// unauthenticated after being sent with sentToken. A credential that changed
// since the call was sent is returned directly. Otherwise the caller queues
// behind the in-flight refresh, or runs the refresh itself when none is in flight.
//
// The caller that ran a successful refresh receives a release func that hands
// the new credential to the calls queued behind it. It must be called once the
// replay has been issued, and is safe to call more than once. Every other
// caller receives a no-op.
func (c *Coordinator) Reauthenticate(ctx context.Context, req *http.Request, sentToken string) (credentials.Credential, func(), error) {
	for {
		if current := c.store.Get(); current.AccessToken != "" && current.AccessToken != sentToken {
			log.Debug().Msg("refresh: credential already rotated, replaying")
			return current, noop, nil
		}
		if p, ok := c.Enqueue(ctx, req); ok {
			cred, err := p.Wait()
			return cred, noop, err
		}
		cred, release, err := c.run(ctx, TriggerReactive)
		if errors.Is(err, autherrors.ErrRefreshInProgress) {
			continue
		}
		return cred, release, err
	}
}

func noop() {}

func (c *Coordinator) join(ctx context.Context, trigger string) (credentials.Credential, error) {
	for {
		if p, ok := c.Enqueue(ctx, nil); ok {
			return p.Wait()
		}
		cred, err := c.refresh(ctx, trigger)
		if errors.Is(err, autherrors.ErrRefreshInProgress) {
			continue
		}
		return cred, err
	}
}

func (c *Coordinator) claim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshing {
		return false
	}
	c.refreshing = true
	return true
}

// refresh runs the refresh and releases the queue before returning.
func (c *Coordinator) refresh(ctx context.Context, trigger string) (credentials.Credential, error) {
	cred, release, err := c.run(ctx, trigger)
	release()
	return cred, err
}

// run runs the refresh. Failures reject the queue before run returns; on success
// the queue waits for release.
func (c *Coordinator) run(ctx context.Context, trigger string) (cred credentials.Credential, release func(), err error) {
	if !c.claim() {
		return credentials.Credential{}, noop, autherrors.ErrRefreshInProgress
	}
	defer func() {
		if r := recover(); r != nil {
			c.finish(trigger, credentials.Credential{}, autherrors.NewRefreshError(autherrors.TransportFailure, fmt.Errorf("panic: %v", r)))
			panic(r)
		}
		release = c.finish(trigger, cred, err)
	}()

	current := c.store.Get()
	if !current.HasRefreshToken() {
		return credentials.Credential{}, nil, autherrors.NewRefreshError(autherrors.NoRefreshToken, nil)
	}

	// The flight must not be abandoned half way because one caller went away.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	resp, err := c.refresher.Refresh(rctx, current.RefreshToken)
	if err != nil {
		if !autherrors.IsRefreshError(err) {
			err = autherrors.NewRefreshError(autherrors.TransportFailure, err)
		}
		return credentials.Credential{}, nil, err
	}
	if resp == nil || utils.Value(resp.AccessToken) == "" {
		return credentials.Credential{}, nil, autherrors.NewRefreshError(autherrors.InvalidResponse, authapi.ErrMissingAccessToken)
	}

	refreshToken := utils.StringOr(resp.RefreshToken, current.RefreshToken)
	if err := c.store.Set(rctx, *resp.AccessToken, refreshToken, resp.ExpiresIn); err != nil {
		return credentials.Credential{}, nil, autherrors.NewRefreshError(autherrors.TransportFailure, err)
	}
	if c.purger != nil {
		c.purger.PurgeIdentity()
	}
	return c.store.Get(), nil, nil
}

// finish clears the in-flight flag and takes the queue in one step. A failure
// rejects every queued call at once. A success returns the func that releases them.
func (c *Coordinator) finish(trigger string, cred credentials.Credential, err error) func() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.refreshing = false
	invalidator := c.invalidator
	c.mu.Unlock()

	c.metrics.Released(len(pending))
	if err != nil {
		c.metrics.Refresh(trigger, metrics.ResultFailure)
		log.Warn().Err(err).Str("trigger", trigger).Int("pending", len(pending)).Msg("refresh: failed")
		for _, p := range pending {
			p.settle(outcome{err: err})
		}
		if invalidator != nil {
			invalidator.Invalidate(SessionExpiredReason)
		}
		return noop
	}

	c.metrics.Refresh(trigger, metrics.ResultSuccess)
	log.Debug().Str("trigger", trigger).Int("pending", len(pending)).Msg("refresh: succeeded")
	if len(pending) == 0 {
		return noop
	}
	var once sync.Once
	return func() {
		once.Do(func() { releaseAll(pending, cred) })
	}
}

// releaseAll hands the new credential to every queued call in arrival order.
// Each replay then settles its own caller; none waits for another.
func releaseAll(pending []*PendingCall, cred credentials.Credential) {
	for _, p := range pending {
		p.settle(outcome{credential: cred})
	}
}

func jwtExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
