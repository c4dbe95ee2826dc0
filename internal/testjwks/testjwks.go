// Package testjwks serves a JWKS document backed by a throwaway RSA key and
// mints tokens signed with it. Test use only.
package testjwks

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Server struct {
	*httptest.Server
	Key *rsa.PrivateKey

	fetches atomic.Int32
	latency atomic.Int64
}

// New starts a JWKS server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "todos-test-issuer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	s := &Server{Key: key}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fetches.Add(1)
		time.Sleep(time.Duration(s.latency.Load()))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"kid": "todos-test",
				"x5c": []string{base64.StdEncoding.EncodeToString(der)},
			}},
		})
	}))
	t.Cleanup(s.Close)
	return s
}

// Fetches reports how many times the key set was requested.
func (s *Server) Fetches() int {
	return int(s.fetches.Load())
}

// SetLatency delays every key set response by d.
func (s *Server) SetLatency(d time.Duration) {
	s.latency.Store(int64(d))
}

func (s *Server) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.Key)
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return signed
}

// Bearer returns an Authorization header value for sub, valid for an hour.
func (s *Server) Bearer(t testing.TB, sub string) string {
	t.Helper()
	return "Bearer " + s.Sign(t, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
}
