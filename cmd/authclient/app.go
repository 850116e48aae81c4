package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/authhttp"
	"github.com/jrsteele09/go-auth-client/cache"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/credentials/filerepo"
	"github.com/jrsteele09/go-auth-client/credentials/redisrepo"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/locale"
	"github.com/jrsteele09/go-auth-client/internal/sealer"
	"github.com/jrsteele09/go-auth-client/metrics"
	"github.com/jrsteele09/go-auth-client/notify"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// app is the fully wired client.
type app struct {
	cfg         config.Config
	endpoints   authapi.Endpoints
	registry    *prometheus.Registry
	store       *credentials.Store
	coordinator *refresh.Coordinator
	client      *authhttp.Client
	manager     *session.Manager
	closers     []func() error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}

	repo, err := a.credentialRepo()
	if err != nil {
		return nil, err
	}
	store, err := credentials.Load(ctx, repo)
	if err != nil {
		return nil, err
	}
	a.store = store

	a.endpoints = authapi.DefaultEndpoints(cfg.GetBaseURL())
	if issuer := cfg.GetIssuer(); issuer != "" {
		discovered, err := authapi.Discover(ctx, issuer, a.endpoints)
		if err != nil {
			log.Warn().Err(err).Msg("authclient: discovery failed, using default endpoints")
		}
		a.endpoints = discovered
	}

	localeProvider := locale.Provider(func() string { return os.Getenv("LANG_TAG") })
	httpClient := &http.Client{Timeout: cfg.GetRequestTimeout()}
	m := metrics.New(a.registry)
	identityCache := cache.New()

	api := authapi.New(a.endpoints,
		authapi.WithHTTPClient(httpClient),
		authapi.WithLocale(localeProvider, cfg.GetDefaultLocale()),
	)
	invalidator := session.NewInvalidator(store,
		session.WithIdentityPurger(identityCache),
		session.WithNavigator(session.NavigatorFunc(presentLogin)),
		session.WithMetrics(m),
	)
	a.coordinator = refresh.NewCoordinator(store, api,
		refresh.WithInvalidator(invalidator),
		refresh.WithIdentityPurger(identityCache),
		refresh.WithMetrics(m),
		refresh.WithSkew(cfg.GetRefreshSkew()),
		refresh.WithTimeout(cfg.GetRefreshTimeout()),
	)
	a.client = authhttp.New(store, a.coordinator,
		authhttp.WithHTTPClient(httpClient),
		authhttp.WithNotifier(notify.New(notify.ToasterFunc(showToast), notify.WithMetrics(m))),
		authhttp.WithCache(identityCache),
		authhttp.WithMetrics(m),
		authhttp.WithLocale(localeProvider, cfg.GetDefaultLocale()),
		authhttp.WithRefreshEndpoint(a.endpoints.Refresh),
	)
	a.manager = session.NewManager(store, api, identityCache)
	return a, nil
}

func (a *app) credentialRepo() (credentials.Repo, error) {
	secret := a.cfg.GetDeviceSecret()
	if secret == "" {
		return nil, errors.New("DEVICE_SECRET is required to encrypt stored credentials")
	}
	s, err := sealer.New([]byte(secret), []byte(a.cfg.GetSealSalt()))
	if err != nil {
		return nil, errors.Wrap(err, "create sealer")
	}

	switch a.cfg.GetStorageBackend() {
	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.GetRedisAddr(),
			Password: a.cfg.GetRedisPassword(),
			DB:       a.cfg.GetRedisDB(),
		})
		a.closers = append(a.closers, rdb.Close)
		return redisrepo.New(rdb, a.cfg.GetDeviceID(), s)
	case config.StorageFile, "":
		return filerepo.New(a.cfg.GetCredentialFile(a.cfg.GetDataFolder()), s)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.GetStorageBackend())
	}
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("authclient: close")
		}
	}
}

func showToast(msg notify.Message) error {
	_, err := fmt.Fprintf(os.Stderr, "[%s] %s\n", msg.Kind, msg.Text)
	return err
}

func presentLogin(reason string) {
	fmt.Fprintf(os.Stderr, "Signed out (%s). Run `authclient login` to sign in again.\n", reason)
}
