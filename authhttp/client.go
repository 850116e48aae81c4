// Package authhttp is the authenticated HTTP client. Every call passes through a
// request interceptor that attaches the bearer credential and locale, and a
// response interceptor that recovers from 401s with a single-flight refresh.
package authhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/jrsteele09/go-auth-client/cache"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/internal/locale"
	"github.com/jrsteele09/go-auth-client/metrics"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout is the transport timeout of every call. A timeout is a network failure.
const DefaultTimeout = 30 * time.Second

const maxJSONBody = 8 << 20

// Notifier surfaces a call failure to the user.
type Notifier interface {
	Notify(err error)
}

type Client struct {
	httpClient    *http.Client
	store         *credentials.Store
	coordinator   *refresh.Coordinator
	notifier      Notifier
	cache         *cache.Store
	metrics       *metrics.Metrics
	locale        locale.Provider
	defaultLocale string
	refreshURL    *url.URL
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithNotifier(n Notifier) Option {
	return func(c *Client) {
		c.notifier = n
	}
}

func WithCache(s *cache.Store) Option {
	return func(c *Client) {
		c.cache = s
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLocale(p locale.Provider, fallback string) Option {
	return func(c *Client) {
		c.locale = p
		c.defaultLocale = fallback
	}
}

// WithRefreshEndpoint names the refresh URL. Calls to it are never intercepted.
func WithRefreshEndpoint(rawURL string) Option {
	return func(c *Client) {
		u, err := url.Parse(rawURL)
		if err != nil {
			log.Warn().Err(err).Msg("authhttp: ignoring unparsable refresh endpoint")
			return
		}
		c.refreshURL = u
	}
}

func New(store *credentials.Store, coordinator *refresh.Coordinator, options ...Option) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: DefaultTimeout},
		store:         store,
		coordinator:   coordinator,
		defaultLocale: locale.Default,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Do sends req through both interceptors. opts are merged with any carried on
// the request context. A response is returned only for status codes below 400;
// everything else is a *autherrors.NetworkError, *autherrors.StatusError or
// *autherrors.RefreshError. The caller closes the returned body.
func (c *Client) Do(req *http.Request, opts CallOptions) (*http.Response, error) {
	opts = opts.merge(CallOptionsFrom(req.Context()))
	if err := bufferBody(req); err != nil {
		return nil, autherrors.Wrapf(err, "authhttp.Client.Do buffer body")
	}

	sent := c.prepare(req, opts)
	resp, err := c.httpClient.Do(req)
	return c.recover(req, opts, sent, resp, err)
}

// DoJSON sends in as a JSON body, when non-nil, and decodes the response into out, when non-nil.
func (c *Client) DoJSON(ctx context.Context, method, rawURL string, in, out any, opts CallOptions) error {
	data, err := c.doBytes(ctx, method, rawURL, in, opts)
	if err != nil {
		return err
	}
	return decode(data, out)
}

func (c *Client) GetJSON(ctx context.Context, rawURL string, out any, opts CallOptions) error {
	return c.DoJSON(ctx, http.MethodGet, rawURL, nil, out, opts)
}

// GetCachedJSON is GetJSON reading through the client cache. Identity scoped
// entries are dropped whenever the credential changes hands.
func (c *Client) GetCachedJSON(ctx context.Context, rawURL string, scope cache.Scope, ttl time.Duration, out any, opts CallOptions) error {
	if c.cache == nil {
		return c.GetJSON(ctx, rawURL, out, opts)
	}
	if data, ok := c.cache.Get(rawURL); ok {
		return decode(data, out)
	}
	data, err := c.doBytes(ctx, http.MethodGet, rawURL, nil, opts)
	if err != nil {
		return err
	}
	c.cache.Set(rawURL, data, scope, ttl)
	return decode(data, out)
}

func (c *Client) doBytes(ctx context.Context, method, rawURL string, in any, opts CallOptions) ([]byte, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, autherrors.Wrapf(err, "authhttp: encode %s %s", method, rawURL)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req, opts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBody))
	if err != nil {
		return nil, &autherrors.NetworkError{Method: method, URL: req.URL.Redacted(), Err: err}
	}
	return data, nil
}

func decode(data []byte, out any) error {
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return autherrors.Wrapf(err, "authhttp: decode response")
	}
	return nil
}

// bufferBody makes the request body replayable.
func bufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return err
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return nil
}
