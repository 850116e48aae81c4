package authhttp

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptrace"

	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/jrsteele09/go-auth-client/internal/locale"
	"github.com/jrsteele09/go-auth-client/metrics"
	"github.com/rs/zerolog/log"
)

// prepare is the request interceptor. It returns the access token attached to req.
func (c *Client) prepare(req *http.Request, opts CallOptions) string {
	req.Header.Set(authapi.HeaderLocale, locale.Resolve(c.locale, c.defaultLocale))
	if opts.SkipAuthRefresh || c.isRefreshEndpoint(req) {
		return ""
	}

	if !opts.Retry && c.coordinator.ShouldProactivelyRefresh() {
		if _, err := c.coordinator.ForceRefresh(req.Context()); err != nil {
			log.Warn().Err(err).Str("url", req.URL.Redacted()).Msg("authhttp: proactive refresh failed, sending anyway")
		}
	}

	access := c.store.Get().AccessToken
	setBearer(req, access)
	return access
}

// recover is the response interceptor. sent is the access token req carried.
func (c *Client) recover(req *http.Request, opts CallOptions, sent string, resp *http.Response, err error) (*http.Response, error) {
	if err != nil {
		netErr := &autherrors.NetworkError{Method: req.Method, URL: req.URL.Redacted(), Err: err}
		if req.Context().Err() == nil {
			c.notify(opts, netErr)
		}
		return nil, netErr
	}
	if resp.StatusCode < http.StatusBadRequest {
		return resp, nil
	}

	if resp.StatusCode != http.StatusUnauthorized || opts.Retry || opts.SkipAuthRefresh || c.isRefreshEndpoint(req) {
		statusErr := autherrors.FromResponse(resp)
		c.notify(opts, statusErr)
		return nil, statusErr
	}

	drain(resp)
	cred, release, rerr := c.coordinator.Reauthenticate(req.Context(), req, sent)
	defer release()
	if rerr != nil {
		// Refresh failures end in the login prompt rather than a toast.
		if !autherrors.IsRefreshError(rerr) && !errors.Is(rerr, req.Context().Err()) {
			c.notify(opts, rerr)
		}
		return nil, rerr
	}

	opts.Retry = true
	return c.replay(req, opts, cred.AccessToken, release)
}

// replay resends req with access. Its outcome settles this call alone. written
// runs once the request has been written, letting queued calls go after it.
func (c *Client) replay(req *http.Request, opts CallOptions, access string, written func()) (*http.Response, error) {
	trace := &httptrace.ClientTrace{
		WroteRequest: func(httptrace.WroteRequestInfo) { written() },
	}
	retry := req.Clone(httptrace.WithClientTrace(req.Context(), trace))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, autherrors.Wrapf(err, "authhttp: rewind body for replay")
		}
		retry.Body = body
	}
	setBearer(retry, access)

	resp, err := c.httpClient.Do(retry)
	resp, err = c.recover(retry, opts, access, resp, err)
	if err != nil {
		c.metrics.Replay(metrics.ResultFailure)
	} else {
		c.metrics.Replay(metrics.ResultSuccess)
	}
	return resp, err
}

func (c *Client) notify(opts CallOptions, err error) {
	if opts.SkipErrorTooltip || c.notifier == nil {
		return
	}
	c.notifier.Notify(err)
}

func (c *Client) isRefreshEndpoint(req *http.Request) bool {
	if c.refreshURL == nil || req.URL == nil {
		return false
	}
	return req.URL.Host == c.refreshURL.Host && req.URL.Path == c.refreshURL.Path
}

func setBearer(req *http.Request, access string) {
	if access == "" {
		req.Header.Del(authapi.HeaderAuthorization)
		return
	}
	req.Header.Set(authapi.HeaderAuthorization, authapi.BearerPrefix+access)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
