package refresh

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/credentials"
)

type outcome struct {
	credential credentials.Credential
	err        error
}

// PendingCall is one caller waiting behind an in-flight refresh.
// Request is nil for callers that only need the new credential.
type PendingCall struct {
	ID         string
	Request    *http.Request
	EnqueuedAt time.Time

	ctx     context.Context
	outcome chan outcome
}

func newPendingCall(ctx context.Context, req *http.Request, now time.Time) *PendingCall {
	return &PendingCall{
		ID:         uuid.NewString(),
		Request:    req,
		EnqueuedAt: now,
		ctx:        ctx,
		outcome:    make(chan outcome, 1),
	}
}

// Wait blocks until the refresh settles or the caller's context ends.
func (p *PendingCall) Wait() (credentials.Credential, error) {
	select {
	case o := <-p.outcome:
		return o.credential, o.err
	case <-p.ctx.Done():
		return credentials.Credential{}, p.ctx.Err()
	}
}

func (p *PendingCall) settle(o outcome) {
	p.outcome <- o
}
