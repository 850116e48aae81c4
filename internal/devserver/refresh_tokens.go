package devserver

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

const refreshTokenLength = 32

var errRefreshTokenInvalid = errors.New("refresh token invalid or expired")

// storedRefreshToken is the server-side record of an opaque refresh token.
type storedRefreshToken struct {
	Token  string
	UserID string
	Iat    time.Time
}

// refreshTokens issues one refresh token per user and rotates it on use.
type refreshTokens struct {
	ttl     time.Duration
	nowFunc func() time.Time

	lock    sync.Mutex
	tokens  map[string]*storedRefreshToken
	userIDs map[string]string
}

func newRefreshTokens(ttl time.Duration, now func() time.Time) *refreshTokens {
	return &refreshTokens{
		ttl:     ttl,
		nowFunc: now,
		tokens:  make(map[string]*storedRefreshToken),
		userIDs: make(map[string]string),
	}
}

// Create replaces the user's refresh token with a new one.
func (r *refreshTokens) Create(userID string) (string, error) {
	tokenBytes := make([]byte, refreshTokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)

	r.lock.Lock()
	defer r.lock.Unlock()
	if existing, ok := r.userIDs[userID]; ok {
		delete(r.tokens, existing)
	}
	r.tokens[token] = &storedRefreshToken{Token: token, UserID: userID, Iat: r.nowFunc()}
	r.userIDs[userID] = token
	return token, nil
}

// Use validates token and returns its user. The token stays valid when rotate is false.
func (r *refreshTokens) Use(token string, rotate bool) (string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	rt, ok := r.tokens[token]
	if !ok || r.nowFunc().Sub(rt.Iat) > r.ttl {
		return "", errRefreshTokenInvalid
	}
	if rotate {
		delete(r.tokens, token)
		delete(r.userIDs, rt.UserID)
	}
	return rt.UserID, nil
}

func (r *refreshTokens) RevokeUser(userID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if token, ok := r.userIDs[userID]; ok {
		delete(r.tokens, token)
		delete(r.userIDs, userID)
	}
}

func (r *refreshTokens) RevokeAll() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.tokens = make(map[string]*storedRefreshToken)
	r.userIDs = make(map[string]string)
}
