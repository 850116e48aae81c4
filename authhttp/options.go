package authhttp

import "context"

// CallOptions are the per-call flags consumed by the interceptors.
type CallOptions struct {
	// Retry marks a call that has already been replayed after a refresh.
	// A second 401 on such a call is rejected without refreshing again.
	Retry bool

	// SkipErrorTooltip suppresses the user notification for this call's failure.
	SkipErrorTooltip bool

	// SkipAuthRefresh bypasses proactive refresh, bearer attachment and 401 recovery.
	SkipAuthRefresh bool
}

func (o CallOptions) merge(other CallOptions) CallOptions {
	return CallOptions{
		Retry:            o.Retry || other.Retry,
		SkipErrorTooltip: o.SkipErrorTooltip || other.SkipErrorTooltip,
		SkipAuthRefresh:  o.SkipAuthRefresh || other.SkipAuthRefresh,
	}
}

type callOptionsKey struct{}

// WithCallOptions carries opts on ctx for callers that cannot pass them to Do,
// such as gRPC interceptors and oauth2 token sources.
func WithCallOptions(ctx context.Context, opts CallOptions) context.Context {
	return context.WithValue(ctx, callOptionsKey{}, opts)
}

// CallOptionsFrom returns the options carried on ctx, or the zero value.
func CallOptionsFrom(ctx context.Context) CallOptions {
	opts, _ := ctx.Value(callOptionsKey{}).(CallOptions)
	return opts
}
