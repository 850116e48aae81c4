package devserver

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// hmacSigner mints and verifies HS256 access tokens.
type hmacSigner struct {
	secret  []byte
	nowFunc func() time.Time
}

func newHMACSigner(secret string, now func() time.Time) *hmacSigner {
	return &hmacSigner{secret: []byte(secret), nowFunc: now}
}

func (h *hmacSigner) Sign(issuer, subject string, ttl time.Duration) (string, error) {
	now := h.nowFunc()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with HMAC")
	}
	return signed, nil
}

// Verify returns the subject of a valid, unexpired token.
func (h *hmacSigner) Verify(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, h.verificationKey,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(h.nowFunc),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", errors.Wrap(err, "invalid access token")
	}
	return claims.Subject, nil
}

func (h *hmacSigner) verificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return h.secret, nil
}
