package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/chepyr/go-todo-service/internal/metrics"
)

var (
	ErrMalformedCredential = errors.New("malformed credential")
	ErrInvalidCredential   = errors.New("invalid credential")
)

type jwks struct {
	Keys []struct {
		Kid string   `json:"kid"`
		X5c []string `json:"x5c"`
	} `json:"keys"`
}

/*
Verifier checks RS256 bearer tokens against the first key published at a
JWKS endpoint. The key is cached for cacheTTL; a zero TTL fetches the key set
on every verification.
*/
type Verifier struct {
	jwksURL  string
	client   *http.Client
	cacheTTL time.Duration
	log      *zap.Logger
	now      func() time.Time

	fetches singleflight.Group

	mu        sync.Mutex
	key       *rsa.PublicKey
	fetchedAt time.Time
}

func NewVerifier(jwksURL string, cacheTTL time.Duration, client *http.Client, log *zap.Logger) *Verifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Verifier{
		jwksURL:  jwksURL,
		client:   client,
		cacheTTL: cacheTTL,
		log:      log,
		now:      time.Now,
	}
}

// Verify returns the subject of a valid "Bearer <jwt>" header value.
func (v *Verifier) Verify(ctx context.Context, authHeader string) (string, error) {
	tokenString, err := extractToken(authHeader)
	if err != nil {
		return "", err
	}

	key, err := v.signingKey(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrInvalidCredential)
	}
	return sub, nil
}

func extractToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", fmt.Errorf("%w: authentication header is required", ErrMalformedCredential)
	}
	const prefix = "bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", fmt.Errorf("%w: authentication header is invalid", ErrMalformedCredential)
	}
	token := strings.TrimSpace(authHeader[len(prefix):])
	if token == "" {
		return "", fmt.Errorf("%w: empty bearer token", ErrMalformedCredential)
	}
	return token, nil
}

// signingKey returns the cached key while it is fresh. Otherwise concurrent
// callers share one in-flight fetch; the lock only guards the cached key and
// is never held across the network call.
func (v *Verifier) signingKey(ctx context.Context) (*rsa.PublicKey, error) {
	if key := v.cachedKey(); key != nil {
		return key, nil
	}

	// The shared fetch must not die with whichever caller started it.
	ch := v.fetches.DoChan("jwks", func() (any, error) {
		key, err := v.fetchKey(context.WithoutCancel(ctx))
		metrics.RecordJWKSFetch(err)
		if err != nil {
			v.log.Warn("failed to fetch signing key set", zap.String("jwks_url", v.jwksURL), zap.Error(err))
			return nil, err
		}
		v.storeKey(key)
		return key, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*rsa.PublicKey), nil
	}
}

func (v *Verifier) cachedKey() *rsa.PublicKey {
	if v.cacheTTL <= 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key != nil && v.now().Sub(v.fetchedAt) < v.cacheTTL {
		return v.key
	}
	return nil
}

func (v *Verifier) storeKey(key *rsa.PublicKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = key
	v.fetchedAt = v.now()
}

func (v *Verifier) fetchKey(ctx context.Context) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	if len(set.Keys) == 0 || len(set.Keys[0].X5c) == 0 {
		return nil, errors.New("jwks has no certificate")
	}

	cert := "-----BEGIN CERTIFICATE-----\n" + set.Keys[0].X5c[0] + "\n-----END CERTIFICATE-----"
	return jwt.ParseRSAPublicKeyFromPEM([]byte(cert))
}
