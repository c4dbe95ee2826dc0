package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chepyr/go-todo-service/internal/testjwks"
)

func TestVerify_ValidToken(t *testing.T) {
	srv := testjwks.New(t)
	v := NewVerifier(srv.URL, 0, nil, zap.NewNop())

	token := srv.Sign(t, jwt.MapClaims{"sub": "auth0|alice", "exp": time.Now().Add(time.Hour).Unix()})

	sub, err := v.Verify(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, "auth0|alice", sub)

	// scheme is case-insensitive
	sub, err = v.Verify(context.Background(), "bEaReR "+token)
	require.NoError(t, err)
	assert.Equal(t, "auth0|alice", sub)
}

func TestVerify_MalformedHeader(t *testing.T) {
	v := NewVerifier("http://127.0.0.1:0/unused", 0, nil, zap.NewNop())

	for _, header := range []string{"", "Bearer", "Bearer   ", "Basic dXNlcjpwYXNz", "token-without-scheme"} {
		t.Run(header, func(t *testing.T) {
			_, err := v.Verify(context.Background(), header)
			assert.ErrorIs(t, err, ErrMalformedCredential)
		})
	}
}

func TestVerify_InvalidTokens(t *testing.T) {
	srv := testjwks.New(t)
	v := NewVerifier(srv.URL, time.Minute, nil, zap.NewNop())
	valid := jwt.MapClaims{"sub": "mallory", "exp": time.Now().Add(time.Hour).Unix()}

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodRS256, valid).SignedString(otherKey)
	require.NoError(t, err)

	hmac, err := jwt.NewWithClaims(jwt.SigningMethodHS256, valid).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":       "obviously.invalid.token",
		"foreign key":   foreign,
		"hmac alg":      hmac,
		"expired":       srv.Sign(t, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(-time.Minute).Unix()}),
		"missing sub":   srv.Sign(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}),
		"not yet valid": srv.Sign(t, jwt.MapClaims{"sub": "alice", "nbf": time.Now().Add(time.Hour).Unix()}),
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), "Bearer "+token)
			assert.ErrorIs(t, err, ErrInvalidCredential)
		})
	}
}

func TestVerify_KeySetUnreachable(t *testing.T) {
	srv := testjwks.New(t)
	header := srv.Bearer(t, "alice")
	url := srv.URL
	srv.Close()

	v := NewVerifier(url, time.Minute, nil, zap.NewNop())
	_, err := v.Verify(context.Background(), header)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerify_EmptyKeySet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	defer srv.Close()

	v := NewVerifier(srv.URL, 0, nil, zap.NewNop())
	_, err := v.Verify(context.Background(), "Bearer a.b.c")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerify_CachesKeySet(t *testing.T) {
	srv := testjwks.New(t)
	header := srv.Bearer(t, "alice")

	v := NewVerifier(srv.URL, time.Minute, nil, zap.NewNop())
	now := time.Now()
	v.now = func() time.Time { return now }

	for range 3 {
		_, err := v.Verify(context.Background(), header)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, srv.Fetches())

	now = now.Add(2 * time.Minute)
	_, err := v.Verify(context.Background(), header)
	require.NoError(t, err)
	assert.Equal(t, 2, srv.Fetches())
}

func TestVerify_ZeroTTLFetchesEveryTime(t *testing.T) {
	srv := testjwks.New(t)
	header := srv.Bearer(t, "alice")

	v := NewVerifier(srv.URL, 0, nil, zap.NewNop())
	for range 2 {
		_, err := v.Verify(context.Background(), header)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, srv.Fetches())
}

func TestVerify_ConcurrentCallersShareOneFetch(t *testing.T) {
	const latency = 300 * time.Millisecond
	srv := testjwks.New(t)
	srv.SetLatency(latency)
	header := srv.Bearer(t, "alice")

	v := NewVerifier(srv.URL, 0, nil, zap.NewNop())

	var wg sync.WaitGroup
	errs := make([]error, 5)
	start := time.Now()
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = v.Verify(context.Background(), header)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Less(t, elapsed, 2*latency, "callers were serialized")
	assert.Less(t, srv.Fetches(), len(errs))
}

func TestVerify_CallerContextCancelsWait(t *testing.T) {
	srv := testjwks.New(t)
	srv.SetLatency(time.Second)
	header := srv.Bearer(t, "alice")

	v := NewVerifier(srv.URL, 0, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := v.Verify(ctx, header)
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
