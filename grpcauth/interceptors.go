// Package grpcauth applies the credential contract of authhttp to gRPC calls:
// authorization and x-lang metadata, proactive refresh, and one reactive refresh
// when a call fails with codes.Unauthenticated.
package grpcauth

import (
	"context"
	"strings"

	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/authhttp"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/internal/locale"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpccredentials "google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/oauth"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var (
	metadataAuthorization = strings.ToLower(authapi.HeaderAuthorization)
	metadataLocale        = strings.ToLower(authapi.HeaderLocale)
)

type Interceptor struct {
	store         *credentials.Store
	coordinator   *refresh.Coordinator
	locale        locale.Provider
	defaultLocale string
}

type Option func(*Interceptor)

func WithLocale(p locale.Provider, fallback string) Option {
	return func(i *Interceptor) {
		i.locale = p
		i.defaultLocale = fallback
	}
}

func New(store *credentials.Store, coordinator *refresh.Coordinator, options ...Option) *Interceptor {
	i := &Interceptor{store: store, coordinator: coordinator, defaultLocale: locale.Default}
	for _, opt := range options {
		opt(i)
	}
	return i
}

// Unary returns the unary client interceptor. Per-call flags are read from the
// context with authhttp.CallOptionsFrom.
func (i *Interceptor) Unary() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		callOpts := authhttp.CallOptionsFrom(ctx)
		outCtx, sent := i.prepare(ctx, callOpts)
		err := invoker(outCtx, method, req, reply, cc, opts...)
		if !i.recoverable(err, callOpts) {
			return err
		}

		cred, release, rerr := i.coordinator.Reauthenticate(ctx, nil, sent)
		defer release()
		if rerr != nil {
			return rerr
		}
		log.Debug().Str("method", method).Msg("grpcauth: replaying after refresh")
		replayCtx := i.attach(ctx, cred.AccessToken)
		release()
		return invoker(replayCtx, method, req, reply, cc, opts...)
	}
}

// Stream returns the stream client interceptor. Only failures while opening the
// stream are recovered; an Unauthenticated status on a later message is returned as is.
func (i *Interceptor) Stream() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		callOpts := authhttp.CallOptionsFrom(ctx)
		outCtx, sent := i.prepare(ctx, callOpts)
		stream, err := streamer(outCtx, desc, cc, method, opts...)
		if !i.recoverable(err, callOpts) {
			return stream, err
		}

		cred, release, rerr := i.coordinator.Reauthenticate(ctx, nil, sent)
		defer release()
		if rerr != nil {
			return nil, rerr
		}
		replayCtx := i.attach(ctx, cred.AccessToken)
		release()
		return streamer(replayCtx, desc, cc, method, opts...)
	}
}

func (i *Interceptor) prepare(ctx context.Context, opts authhttp.CallOptions) (context.Context, string) {
	if opts.SkipAuthRefresh {
		return i.attach(ctx, ""), ""
	}
	if !opts.Retry {
		if err := i.coordinator.RefreshIfNeeded(ctx); err != nil {
			log.Warn().Err(err).Msg("grpcauth: proactive refresh failed, sending anyway")
		}
	}
	access := i.store.Get().AccessToken
	return i.attach(ctx, access), access
}

func (i *Interceptor) recoverable(err error, opts authhttp.CallOptions) bool {
	return status.Code(err) == codes.Unauthenticated && !opts.Retry && !opts.SkipAuthRefresh
}

// attach sets the credential and locale metadata, replacing earlier values.
func (i *Interceptor) attach(ctx context.Context, access string) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	md.Set(metadataLocale, locale.Resolve(i.locale, i.defaultLocale))
	if access != "" {
		md.Set(metadataAuthorization, authapi.BearerPrefix+access)
	} else {
		md.Delete(metadataAuthorization)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// PerRPCCredentials adapts a token source, such as authhttp.Client.TokenSource,
// for grpc.WithPerRPCCredentials. It requires transport security.
func PerRPCCredentials(ts oauth2.TokenSource) grpccredentials.PerRPCCredentials {
	return oauth.TokenSource{TokenSource: ts}
}
