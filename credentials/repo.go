package credentials

import "context"

// Durable storage keys. Absence of the access or refresh key means unauthenticated.
const (
	KeyAccessToken  = "auth.accessToken"
	KeyRefreshToken = "auth.refreshToken"
	KeyExpiryEpoch  = "auth.expiryEpoch"
)

// Keys lists every key the store persists.
var Keys = []string{KeyAccessToken, KeyRefreshToken, KeyExpiryEpoch}

// Repo is encrypted durable key/value storage for the credential.
// Implementations must apply Put and Delete as a single write where the backend allows it.
type Repo interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, entries map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}
