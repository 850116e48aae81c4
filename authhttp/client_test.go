package authhttp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/jrsteele09/go-auth-client/authhttp"
	"github.com/jrsteele09/go-auth-client/cache"
	"github.com/jrsteele09/go-auth-client/credentials"
	credentialsrepofake "github.com/jrsteele09/go-auth-client/credentials/repofake"
	"github.com/jrsteele09/go-auth-client/internal/devserver"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type hit struct {
	Path          string
	Authorization string
}

// recorder remembers every request in arrival order.
type recorder struct {
	mu   sync.Mutex
	hits []hit
	next http.Handler
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.hits = append(r.hits, hit{Path: req.URL.Path, Authorization: req.Header.Get("Authorization")})
	r.mu.Unlock()
	r.next.ServeHTTP(w, req)
}

func (r *recorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.hits))
	for _, h := range r.hits {
		out = append(out, h.Path)
	}
	return out
}

func (r *recorder) authorizations(path string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, h := range r.hits {
		if h.Path == path {
			out = append(out, h.Authorization)
		}
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	errs []error
}

func (n *recordingNotifier) Notify(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errs)
}

type recordingNavigator struct {
	mu      sync.Mutex
	reasons []string
}

func (n *recordingNavigator) PresentLogin(reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reasons = append(n.reasons, reason)
}

func (n *recordingNavigator) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.reasons...)
}

type testFixture struct {
	url         string
	recorder    *recorder
	store       *credentials.Store
	coordinator *refresh.Coordinator
	cache       *cache.Store
	notifier    *recordingNotifier
	navigator   *recordingNavigator
	client      *authhttp.Client

	// Set only for devserver backed fixtures.
	backend   *devserver.Server
	clock     *clock
	onRefresh atomic.Value
}

func newFixture(t *testing.T, handler http.Handler) *testFixture {
	t.Helper()
	f := &testFixture{
		recorder:  &recorder{next: handler},
		cache:     cache.New(),
		notifier:  &recordingNotifier{},
		navigator: &recordingNavigator{},
	}
	ts := httptest.NewServer(f.recorder)
	t.Cleanup(ts.Close)
	f.url = ts.URL

	store, err := credentials.Load(context.Background(), credentialsrepofake.NewFakeCredentialRepo())
	require.NoError(t, err)
	f.store = store

	endpoints := authapi.DefaultEndpoints(ts.URL)
	api := authapi.New(endpoints)
	invalidator := session.NewInvalidator(store, session.WithIdentityPurger(f.cache), session.WithNavigator(f.navigator))
	f.coordinator = refresh.NewCoordinator(store, api,
		refresh.WithInvalidator(invalidator),
		refresh.WithIdentityPurger(f.cache),
	)
	f.client = authhttp.New(store, f.coordinator,
		authhttp.WithNotifier(f.notifier),
		authhttp.WithCache(f.cache),
		authhttp.WithRefreshEndpoint(endpoints.Refresh),
		authhttp.WithLocale(func() string { return "fr-ca" }, "en"),
	)
	return f
}

// newDevFixture runs the client against the dev backend, signed in as alice.
func newDevFixture(t *testing.T, opts ...devserver.Option) *testFixture {
	t.Helper()
	c := &clock{now: time.Now()}
	var f *testFixture
	opts = append([]devserver.Option{
		devserver.WithNowFunc(c.Now),
		devserver.WithRefreshHook(func() {
			if hook, ok := f.onRefresh.Load().(func()); ok {
				hook()
			}
		}),
	}, opts...)
	backend := devserver.New("test-secret", opts...)
	f = newFixture(t, backend)
	f.backend = backend
	f.clock = c

	tr, err := backend.Issue(f.url, "alice")
	require.NoError(t, err)
	require.NoError(t, f.store.Set(context.Background(), *tr.AccessToken, *tr.RefreshToken, nil))
	return f
}

// expireAccess makes the backend reject the stored access token while the
// client still believes it is valid.
func (f *testFixture) expireAccess() {
	f.clock.Advance(devserver.DefaultAccessTTL + time.Minute)
}

// holdRefreshUntil blocks the backend's refresh handler until cond holds.
func (f *testFixture) holdRefreshUntil(t *testing.T, cond func() bool) {
	f.onRefresh.Store(func() {
		deadline := time.Now().Add(3 * time.Second)
		for !cond() {
			if time.Now().After(deadline) {
				t.Errorf("refresh hook: condition never met")
				return
			}
			time.Sleep(time.Millisecond)
		}
	})
}

func (f *testFixture) getMe(ctx context.Context, opts authhttp.CallOptions) (map[string]string, error) {
	var me map[string]string
	err := f.client.GetJSON(ctx, f.url+devserver.RouteMe, &me, opts)
	return me, err
}

func TestDo_AttachesBearerAndLocale(t *testing.T) {
	f := newDevFixture(t)
	access := f.store.Get().AccessToken

	me, err := f.getMe(context.Background(), authhttp.CallOptions{})
	require.NoError(t, err)
	require.Equal(t, "alice", me["sub"])
	require.Equal(t, "fr-CA", me["lang"])
	require.Equal(t, []string{"Bearer " + access}, f.recorder.authorizations(devserver.RouteMe))
	require.Zero(t, f.backend.RefreshCalls())
}

func TestDo_ConcurrentUnauthorizedRefreshOnce(t *testing.T) {
	f := newDevFixture(t)
	old := f.store.Get().AccessToken
	f.expireAccess()
	f.holdRefreshUntil(t, func() bool { return f.coordinator.Pending() == 2 })

	const n = 3
	var wg sync.WaitGroup
	errs := make([]error, n)
	subs := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			me, err := f.getMe(context.Background(), authhttp.CallOptions{})
			errs[i] = err
			subs[i] = me["sub"]
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "alice", subs[i])
	}
	require.Equal(t, int64(1), f.backend.RefreshCalls())

	current := f.store.Get().AccessToken
	require.NotEqual(t, old, current)
	replays := 0
	for _, a := range f.recorder.authorizations(devserver.RouteMe) {
		if a == "Bearer "+current {
			replays++
		}
	}
	require.Equal(t, n, replays)
	require.Zero(t, f.notifier.count())
	require.Empty(t, f.navigator.calls())
}

func TestDo_RefreshFailureCascades(t *testing.T) {
	f := newDevFixture(t)
	f.cache.Set("profile", []byte(`{}`), cache.Identity, time.Hour)
	f.expireAccess()
	f.backend.RevokeAll()
	f.holdRefreshUntil(t, func() bool { return f.coordinator.Pending() == 2 })

	const n = 3
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.getMe(context.Background(), authhttp.CallOptions{})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, autherrors.ErrInvalidRefreshResponse)
	}
	require.Equal(t, int64(1), f.backend.RefreshCalls())
	require.False(t, f.store.IsAuthenticated())
	require.Equal(t, credentials.Credential{}, f.store.Get())
	require.Equal(t, []string{refresh.SessionExpiredReason}, f.navigator.calls())
	_, ok := f.cache.Get("profile")
	require.False(t, ok)
	require.Zero(t, f.notifier.count(), "refresh failures are not toasted")
}

func TestDo_NoRefreshToken(t *testing.T) {
	f := newDevFixture(t)
	require.NoError(t, f.store.Set(context.Background(), f.store.Get().AccessToken, "", nil))
	f.expireAccess()

	_, err := f.getMe(context.Background(), authhttp.CallOptions{})
	require.ErrorIs(t, err, autherrors.ErrNoRefreshToken)
	require.Zero(t, f.backend.RefreshCalls())
	require.False(t, f.store.IsAuthenticated())
	require.Equal(t, []string{refresh.SessionExpiredReason}, f.navigator.calls())
}

func TestDo_ProactiveRefresh(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn int
		want      []string
	}{
		{"expires in 100s", 100, []string{authapi.RefreshPath, devserver.RouteMe}},
		{"expires in 200s", 200, []string{authapi.RefreshPath, devserver.RouteMe}},
		{"expires in 600s", 600, []string{devserver.RouteMe}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDevFixture(t)
			cred := f.store.Get()
			require.NoError(t, f.store.Set(context.Background(), cred.AccessToken, cred.RefreshToken, &tt.expiresIn))

			_, err := f.getMe(context.Background(), authhttp.CallOptions{})
			require.NoError(t, err)
			require.Equal(t, tt.want, f.recorder.paths())
		})
	}
}

func TestDo_ProactiveRefreshFailureIsSwallowed(t *testing.T) {
	f := newDevFixture(t)
	cred := f.store.Get()
	expiresIn := 100
	require.NoError(t, f.store.Set(context.Background(), cred.AccessToken, cred.RefreshToken, &expiresIn))
	f.backend.RevokeAll()

	_, err := f.getMe(context.Background(), authhttp.CallOptions{})
	require.Error(t, err)
	require.Equal(t, int64(1), f.backend.RefreshCalls())
	require.Len(t, f.navigator.calls(), 1)
}

func TestDo_CachedReadPurgedOnRefresh(t *testing.T) {
	f := newDevFixture(t)
	get := func() map[string]string {
		var me map[string]string
		require.NoError(t, f.client.GetCachedJSON(context.Background(), f.url+devserver.RouteMe, cache.Identity, time.Hour, &me, authhttp.CallOptions{}))
		return me
	}

	require.Equal(t, "alice", get()["sub"])
	require.Equal(t, "alice", get()["sub"])
	require.Len(t, f.recorder.authorizations(devserver.RouteMe), 1)

	_, err := f.coordinator.ForceRefresh(context.Background())
	require.NoError(t, err)
	get()
	require.Len(t, f.recorder.authorizations(devserver.RouteMe), 2)
}

func TestTokenSource(t *testing.T) {
	f := newDevFixture(t)

	tok, err := f.client.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	require.Equal(t, f.store.Get().AccessToken, tok.AccessToken)
	require.Equal(t, "Bearer", tok.TokenType)

	require.NoError(t, f.store.Clear(context.Background()))
	_, err = f.client.TokenSource(context.Background()).Token()
	require.ErrorIs(t, err, authhttp.ErrNotAuthenticated)
	require.ErrorIs(t, err, autherrors.ErrUnauthorized)
}

// stubBackend answers the refresh endpoint with a fixed credential and
// delegates everything else to resource.
type stubBackend struct {
	refreshes     atomic.Int32
	resource      http.HandlerFunc
	beforeRefresh func()
}

func (b *stubBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == authapi.RefreshPath {
		b.refreshes.Add(1)
		if b.beforeRefresh != nil {
			b.beforeRefresh()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"accessToken": "access-2", "refreshToken": "refresh-2", "expiresIn": 3600})
		return
	}
	b.resource(w, r)
}

func signedInStub(t *testing.T, resource http.HandlerFunc) (*testFixture, *stubBackend) {
	t.Helper()
	b := &stubBackend{resource: resource}
	f := newFixture(t, b)
	expiresIn := 3600
	require.NoError(t, f.store.Set(context.Background(), "access-1", "refresh-1", &expiresIn))
	return f, b
}

func status(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"message":"nope"}`))
	}
}

func TestDo_SecondUnauthorizedIsRejected(t *testing.T) {
	f, b := signedInStub(t, status(http.StatusUnauthorized))

	_, err := f.getMe(context.Background(), authhttp.CallOptions{})
	var statusErr *autherrors.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	require.Equal(t, "nope", statusErr.Message)

	require.Equal(t, int32(1), b.refreshes.Load())
	require.Equal(t, []string{"Bearer access-1", "Bearer access-2"}, f.recorder.authorizations(devserver.RouteMe))
	require.Equal(t, 1, f.notifier.count())
}

func TestDo_RetryMarkedCallNeverRefreshes(t *testing.T) {
	f, b := signedInStub(t, status(http.StatusUnauthorized))

	_, err := f.getMe(context.Background(), authhttp.CallOptions{Retry: true})
	require.ErrorIs(t, err, autherrors.ErrUnauthorized)
	require.Zero(t, b.refreshes.Load())
}

func TestDo_SkipAuthRefresh(t *testing.T) {
	f, b := signedInStub(t, status(http.StatusUnauthorized))
	expiresIn := 10
	require.NoError(t, f.store.Set(context.Background(), "access-1", "refresh-1", &expiresIn))

	_, err := f.getMe(context.Background(), authhttp.CallOptions{SkipAuthRefresh: true, SkipErrorTooltip: true})
	require.ErrorIs(t, err, autherrors.ErrUnauthorized)
	require.Zero(t, b.refreshes.Load(), "neither proactive nor reactive refresh")
	require.Equal(t, []string{""}, f.recorder.authorizations(devserver.RouteMe))
	require.Zero(t, f.notifier.count())
}

func TestDo_RefreshEndpointIsNotIntercepted(t *testing.T) {
	f := newFixture(t, status(http.StatusUnauthorized))
	require.NoError(t, f.store.Set(context.Background(), "access-1", "refresh-1", nil))

	req, err := http.NewRequest(http.MethodPost, f.url+authapi.RefreshPath, nil)
	require.NoError(t, err)
	_, err = f.client.Do(req, authhttp.CallOptions{SkipErrorTooltip: true})
	require.ErrorIs(t, err, autherrors.ErrUnauthorized)
	require.Equal(t, []string{authapi.RefreshPath}, f.recorder.paths())
	require.Equal(t, []string{""}, f.recorder.authorizations(authapi.RefreshPath))
}

func TestDo_ErrorClassesAndNotification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		is     error
	}{
		{"server error", http.StatusInternalServerError, autherrors.ErrServer},
		{"bad gateway", http.StatusBadGateway, autherrors.ErrServer},
		{"not found", http.StatusNotFound, autherrors.ErrHTTP},
		{"forbidden", http.StatusForbidden, autherrors.ErrHTTP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, b := signedInStub(t, status(tt.status))

			_, err := f.getMe(context.Background(), authhttp.CallOptions{})
			require.ErrorIs(t, err, tt.is)
			require.Equal(t, 1, f.notifier.count())

			_, err = f.getMe(context.Background(), authhttp.CallOptions{SkipErrorTooltip: true})
			require.ErrorIs(t, err, tt.is)
			ctx := authhttp.WithCallOptions(context.Background(), authhttp.CallOptions{SkipErrorTooltip: true})
			_, err = f.getMe(ctx, authhttp.CallOptions{})
			require.ErrorIs(t, err, tt.is)
			require.Equal(t, 1, f.notifier.count(), "suppressed calls never notify")

			require.Zero(t, b.refreshes.Load())
		})
	}
}

func TestDo_NetworkFailure(t *testing.T) {
	f, b := signedInStub(t, func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("response writer cannot hijack")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close()
	})

	_, err := f.getMe(context.Background(), authhttp.CallOptions{})
	require.ErrorIs(t, err, autherrors.ErrNetwork)
	var netErr *autherrors.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Equal(t, http.MethodGet, netErr.Method)
	require.Equal(t, 1, f.notifier.count())

	_, err = f.getMe(context.Background(), authhttp.CallOptions{SkipErrorTooltip: true})
	require.ErrorIs(t, err, autherrors.ErrNetwork)
	require.Equal(t, 1, f.notifier.count())
	require.Zero(t, b.refreshes.Load(), "no refresh on network failure")
}

func TestDo_ReplayResendsBody(t *testing.T) {
	var calls atomic.Int32
	f, b := signedInStub(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			status(http.StatusUnauthorized)(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		var in map[string]any
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(in)
	})

	var out map[string]any
	err := f.client.DoJSON(context.Background(), http.MethodPost, f.url+devserver.RouteEcho, map[string]any{"title": "hello"}, &out, authhttp.CallOptions{})
	require.NoError(t, err)
	require.Equal(t, "hello", out["title"])
	require.Equal(t, int32(1), b.refreshes.Load())
	require.Equal(t, []string{"Bearer access-1", "Bearer access-2"}, f.recorder.authorizations(devserver.RouteEcho))
}

func TestDo_CancelledCallerIsNotNotified(t *testing.T) {
	f, _ := signedInStub(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.getMe(ctx, authhttp.CallOptions{})
	require.ErrorIs(t, err, autherrors.ErrNetwork)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Zero(t, f.notifier.count())
}

func TestDo_QueuedCallsGoOnceInitiatorReplayIsSent(t *testing.T) {
	stall := make(chan struct{})
	var unstall sync.Once
	release := func() { unstall.Do(func() { close(stall) }) }

	f, b := signedInStub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer access-1" {
			status(http.StatusUnauthorized)(w, r)
			return
		}
		if r.URL.Path == "/api/first" {
			select {
			case <-stall:
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"alice"}`))
	})
	t.Cleanup(release)
	b.beforeRefresh = func() {
		deadline := time.Now().Add(3 * time.Second)
		for f.coordinator.Pending() < 2 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	first := make(chan error, 1)
	go func() {
		var out map[string]string
		first <- f.client.GetJSON(context.Background(), f.url+"/api/first", &out, authhttp.CallOptions{})
	}()
	require.Eventually(t, f.coordinator.Refreshing, 2*time.Second, time.Millisecond)

	const queued = 2
	errs := make(chan error, queued)
	for i := 0; i < queued; i++ {
		go func() {
			var out map[string]string
			errs <- f.client.GetJSON(context.Background(), f.url+"/api/queued", &out, authhttp.CallOptions{})
		}()
	}

	// The initiator's replay is still unanswered; the queued calls complete anyway.
	for i := 0; i < queued; i++ {
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("queued call held up by the initiator's unanswered replay")
		}
	}
	require.Empty(t, first)

	release()
	require.NoError(t, <-first)
	require.Equal(t, int32(1), b.refreshes.Load())
	require.Equal(t, []string{"Bearer access-1", "Bearer access-2"}, f.recorder.authorizations("/api/first"))
}
