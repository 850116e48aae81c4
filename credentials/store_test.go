package credentials_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/jrsteele09/go-auth-client/credentials"
	credentialsrepofake "github.com/jrsteele09/go-auth-client/credentials/repofake"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newStore(t *testing.T, repo credentials.Repo) *credentials.Store {
	t.Helper()
	s, err := credentials.Load(context.Background(), repo, credentials.WithNowFunc(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return s
}

func TestStore_LoadEmpty(t *testing.T) {
	s := newStore(t, credentialsrepofake.NewFakeCredentialRepo())
	c := s.Get()
	require.False(t, c.IsAuthenticated)
	require.Empty(t, c.AccessToken)
	require.Nil(t, c.ExpiryEpoch)
}

func TestStore_LoadRehydrates(t *testing.T) {
	repo := credentialsrepofake.NewFakeCredentialRepoWith(map[string]string{
		credentials.KeyAccessToken:  "access",
		credentials.KeyRefreshToken: "refresh",
		credentials.KeyExpiryEpoch:  "1800000000",
	})
	c := newStore(t, repo).Get()
	require.True(t, c.IsAuthenticated)
	require.Equal(t, "access", c.AccessToken)
	require.Equal(t, "refresh", c.RefreshToken)
	require.Equal(t, int64(1800000000), *c.ExpiryEpoch)
}

func TestStore_LoadMissingKeyIsUnauthenticated(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
	}{
		{"no refresh token", map[string]string{credentials.KeyAccessToken: "access"}},
		{"no access token", map[string]string{credentials.KeyRefreshToken: "refresh"}},
		{"empty access token", map[string]string{credentials.KeyAccessToken: "", credentials.KeyRefreshToken: "refresh"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newStore(t, credentialsrepofake.NewFakeCredentialRepoWith(tt.values)).Get()
			require.False(t, c.IsAuthenticated)
			require.Empty(t, c.AccessToken)
		})
	}
}

func TestStore_LoadBadExpiryIgnored(t *testing.T) {
	repo := credentialsrepofake.NewFakeCredentialRepoWith(map[string]string{
		credentials.KeyAccessToken:  "access",
		credentials.KeyRefreshToken: "refresh",
		credentials.KeyExpiryEpoch:  "soon",
	})
	c := newStore(t, repo).Get()
	require.True(t, c.IsAuthenticated)
	require.Nil(t, c.ExpiryEpoch)
}

func TestStore_SetComputesExpiry(t *testing.T) {
	ctx := context.Background()
	repo := credentialsrepofake.NewFakeCredentialRepo()
	s := newStore(t, repo)
	expiresIn := 900

	require.NoError(t, s.Set(ctx, "access", "refresh", &expiresIn))

	c := s.Get()
	require.True(t, c.IsAuthenticated)
	require.Equal(t, fixedNow.Unix()+900, *c.ExpiryEpoch)
	require.Equal(t, uint64(1), s.Generation())
	require.Equal(t, strconv.FormatInt(fixedNow.Unix()+900, 10), repo.Snapshot()[credentials.KeyExpiryEpoch])
}

func TestStore_SetWithoutExpiryLeavesItUnset(t *testing.T) {
	ctx := context.Background()
	repo := credentialsrepofake.NewFakeCredentialRepo()
	s := newStore(t, repo)
	expiresIn := 60
	require.NoError(t, s.Set(ctx, "a1", "r1", &expiresIn))
	require.NoError(t, s.Set(ctx, "a2", "r2", nil))

	c := s.Get()
	require.Nil(t, c.ExpiryEpoch)
	require.Empty(t, repo.Snapshot()[credentials.KeyExpiryEpoch])
	require.Equal(t, 2, repo.PutCalls(), "token and expiry are written together")

	reloaded := newStore(t, repo).Get()
	require.Equal(t, "a2", reloaded.AccessToken)
	require.Nil(t, reloaded.ExpiryEpoch)
}

func TestStore_LoadStorageFailure(t *testing.T) {
	for _, key := range credentials.Keys {
		t.Run(key, func(t *testing.T) {
			repo := credentialsrepofake.NewFakeCredentialRepoWith(map[string]string{
				credentials.KeyAccessToken:  "access",
				credentials.KeyRefreshToken: "refresh",
				credentials.KeyExpiryEpoch:  strconv.FormatInt(fixedNow.Unix(), 10),
			})
			repo.FailReads(key)

			s, err := credentials.Load(context.Background(), repo)
			require.ErrorIs(t, err, autherrors.ErrCredentialStorage)
			require.ErrorIs(t, err, credentialsrepofake.ErrInjected)
			require.Nil(t, s)
		})
	}
}

func TestStore_SetPersistFailureKeepsOldCredential(t *testing.T) {
	ctx := context.Background()
	repo := credentialsrepofake.NewFakeCredentialRepo()
	s := newStore(t, repo)
	require.NoError(t, s.Set(ctx, "a1", "r1", nil))

	repo.FailWrites(true)
	err := s.Set(ctx, "a2", "r2", nil)
	require.ErrorIs(t, err, autherrors.ErrCredentialStorage)
	require.ErrorIs(t, err, credentialsrepofake.ErrInjected)
	require.Equal(t, "a1", s.Get().AccessToken)
	require.Equal(t, uint64(1), s.Generation())
}

func TestStore_SetRejectsEmptyAccess(t *testing.T) {
	s := newStore(t, credentialsrepofake.NewFakeCredentialRepo())
	require.Error(t, s.Set(context.Background(), "", "refresh", nil))
	require.False(t, s.IsAuthenticated())
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	repo := credentialsrepofake.NewFakeCredentialRepo()
	s := newStore(t, repo)
	require.NoError(t, s.Set(ctx, "a1", "r1", nil))

	require.NoError(t, s.Clear(ctx))
	require.Equal(t, credentials.Credential{}, s.Get())
	require.Empty(t, repo.Snapshot())
}

func TestStore_ClearAlwaysClearsMemory(t *testing.T) {
	ctx := context.Background()
	repo := credentialsrepofake.NewFakeCredentialRepo()
	s := newStore(t, repo)
	require.NoError(t, s.Set(ctx, "a1", "r1", nil))

	repo.FailWrites(true)
	require.ErrorIs(t, s.Clear(ctx), autherrors.ErrCredentialStorage)
	require.False(t, s.IsAuthenticated())
	require.Empty(t, s.Get().AccessToken)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, credentialsrepofake.NewFakeCredentialRepo())
	expiresIn := 10
	require.NoError(t, s.Set(ctx, "a1", "r1", &expiresIn))

	c := s.Get()
	*c.ExpiryEpoch = 0
	require.NotEqual(t, int64(0), *s.Get().ExpiryEpoch)
}

func TestStore_ConcurrentReadersNeverSeeHalfWritten(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, credentialsrepofake.NewFakeCredentialRepo())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				c := s.Get()
				// access and refresh are always written as a matching pair
				if c.IsAuthenticated && c.AccessToken != "a"+c.RefreshToken[1:] {
					t.Errorf("torn credential: %q / %q", c.AccessToken, c.RefreshToken)
					return
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		n := strconv.Itoa(i)
		require.NoError(t, s.Set(ctx, "a"+n, "r"+n, nil))
	}
	close(stop)
	wg.Wait()
}

func TestCredential_OAuth2Token(t *testing.T) {
	exp := fixedNow.Unix()
	c := credentials.Credential{AccessToken: "a", RefreshToken: "r", ExpiryEpoch: &exp, IsAuthenticated: true}
	tok := c.OAuth2Token()
	require.Equal(t, "a", tok.AccessToken)
	require.Equal(t, "r", tok.RefreshToken)
	require.Equal(t, "Bearer", tok.TokenType)
	require.True(t, tok.Expiry.Equal(fixedNow))

	require.True(t, credentials.Credential{}.OAuth2Token().Expiry.IsZero())
}
