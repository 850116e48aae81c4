// Package authapi calls the backend endpoints that issue and revoke credentials.
// Calls made here never pass through the authenticated client's interceptors,
// which is what keeps a refresh from triggering another refresh.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/jrsteele09/go-auth-client/internal/locale"
	"github.com/pkg/errors"
)

// ErrMissingAccessToken is returned when a token response has no accessToken.
var ErrMissingAccessToken = errors.New("token response missing accessToken")

const maxTokenBody = 1 << 20

type Client struct {
	endpoints     Endpoints
	httpClient    *http.Client
	locale        locale.Provider
	defaultLocale string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLocale(p locale.Provider, fallback string) Option {
	return func(c *Client) {
		c.locale = p
		c.defaultLocale = fallback
	}
}

func New(endpoints Endpoints, options ...Option) *Client {
	c := &Client{
		endpoints:     endpoints,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		defaultLocale: locale.Default,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// Refresh exchanges the refresh token, sent as the bearer credential, for a new credential.
// Every failure is a *autherrors.RefreshError and is never retried here.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, autherrors.NewRefreshError(autherrors.NoRefreshToken, nil)
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.endpoints.Refresh, nil)
	if err != nil {
		return nil, autherrors.NewRefreshError(autherrors.TransportFailure, err)
	}
	req.Header.Set(HeaderAuthorization, BearerPrefix+refreshToken)

	tr, err := c.doToken(req)
	if err != nil {
		var netErr *autherrors.NetworkError
		if errors.As(err, &netErr) {
			return nil, autherrors.NewRefreshError(autherrors.TransportFailure, err)
		}
		return nil, autherrors.NewRefreshError(autherrors.InvalidResponse, err)
	}
	return tr, nil
}

func (c *Client) Login(ctx context.Context, body LoginRequest) (*TokenResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.endpoints.Login, body)
	if err != nil {
		return nil, errors.Wrap(err, "authapi.Client.Login")
	}
	tr, err := c.doToken(req)
	if err != nil {
		return nil, errors.Wrap(err, "authapi.Client.Login")
	}
	return tr, nil
}

func (c *Client) Signup(ctx context.Context, body SignupRequest) (*TokenResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.endpoints.Signup, body)
	if err != nil {
		return nil, errors.Wrap(err, "authapi.Client.Signup")
	}
	tr, err := c.doToken(req)
	if err != nil {
		return nil, errors.Wrap(err, "authapi.Client.Signup")
	}
	return tr, nil
}

// Logout tells the backend the session is over. Callers treat failure as best effort.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	req, err := c.newRequest(ctx, http.MethodPost, c.endpoints.Logout, nil)
	if err != nil {
		return errors.Wrap(err, "authapi.Client.Logout")
	}
	if accessToken != "" {
		req.Header.Set(HeaderAuthorization, BearerPrefix+accessToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &autherrors.NetworkError{Method: req.Method, URL: req.URL.Redacted(), Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return autherrors.FromResponse(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode body")
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderLocale, locale.Resolve(c.locale, c.defaultLocale))
	return req, nil
}

func (c *Client) doToken(req *http.Request) (*TokenResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &autherrors.NetworkError{Method: req.Method, URL: req.URL.Redacted(), Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, autherrors.FromResponse(resp)
	}
	defer resp.Body.Close()

	var tr TokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenBody)).Decode(&tr); err != nil {
		return nil, errors.Wrap(err, "decode token response")
	}
	if tr.AccessToken == nil || *tr.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	return &tr, nil
}
