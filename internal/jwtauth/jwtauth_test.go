package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ggoodman/mcp-session-gateway/auth"
	"github.com/golang-jwt/jwt/v5"
)

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	kid := "test-key"
	b64 := base64.RawURLEncoding
	jwk := map[string]any{
		"kty": "RSA",
		"kid": kid,
		"alg": "RS256",
		"use": "sig",
		"n":   b64.EncodeToString(pk.PublicKey.N.Bytes()),
		"e":   b64.EncodeToString(big.NewInt(int64(pk.PublicKey.E)).Bytes()),
	}
	set := map[string]any{"keys": []any{jwk}}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return pk, kid, b
}

func newJWKSServer(t *testing.T, keysJSON []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func baseConfig(issuer, aud string) *StaticConfig {
	return &StaticConfig{
		Issuer:            issuer,
		ExpectedAudiences: []string{aud},
	}
}

func TestAuthenticator_HappyPath(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	issuer := "https://issuer.example.com"
	aud := "https://api.example.com/mcp"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := NewStatic(ctx, baseConfig(issuer, aud), srv.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   issuer,
		"sub":   "user-123",
		"aud":   aud,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"scope": "mcp:read mcp:write",
	}
	tok := signToken(t, pk, kid, claims)

	ui, err := a.CheckAuthentication(ctx, tok)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ui.UserID() != "user-123" {
		t.Fatalf("want sub user-123, got %s", ui.UserID())
	}

	var out struct {
		Scope string `json:"scope"`
	}
	if err := ui.Claims(&out); err != nil {
		t.Fatalf("claims: %v", err)
	}
	if out.Scope != "mcp:read mcp:write" {
		t.Fatalf("scope roundtrip mismatch: %q", out.Scope)
	}
}

func TestAuthenticator_AudienceArray(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	issuer := "https://issuer.example.com"
	aud := "https://api.example.com/mcp"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := NewStatic(ctx, baseConfig(issuer, aud), srv.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": "user-123",
		"aud": []string{"https://other", aud},
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
	tok := signToken(t, pk, kid, claims)

	if _, err := a.CheckAuthentication(ctx, tok); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestAuthenticator_AdditionalAudiences(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	issuer := "https://issuer.example.com"
	primary := "https://api.example.com/mcp"
	extra := "http://localhost:8080/mcp"
	cfg := baseConfig(issuer, primary)
	cfg.ExpectedAudiences = []string{primary, extra}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := NewStatic(ctx, cfg, srv.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": "user-123",
		"aud": extra, // only the extra audience present
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
	tok := signToken(t, pk, kid, claims)

	if _, err := a.CheckAuthentication(ctx, tok); err != nil {
		t.Fatalf("check (extra audience) failed: %v", err)
	}

	// Negative: unknown audience
	claims["aud"] = "https://unknown"
	tok2 := signToken(t, pk, kid, claims)
	if _, err := a.CheckAuthentication(ctx, tok2); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for unknown audience, got %v", err)
	}
}

func TestAuthenticator_IssuerMismatch(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	aud := "https://api.example.com/mcp"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := NewStatic(ctx, baseConfig("https://issuer.example.com", aud), srv.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": "https://evil.example.com", // mismatch
		"sub": "user-123",
		"aud": aud,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
	tok := signToken(t, pk, kid, claims)

	if _, err := a.CheckAuthentication(ctx, tok); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestAuthenticator_ExpiredToken(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	issuer := "https://issuer.example.com"
	aud := "https://api.example.com/mcp"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := NewStatic(ctx, baseConfig(issuer, aud), srv.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": "user-123",
		"aud": aud,
		"exp": now.Add(-2 * time.Hour).Unix(), // outside leeway
		"iat": now.Add(-3 * time.Hour).Unix(),
	}
	tok := signToken(t, pk, kid, claims)

	if _, err := a.CheckAuthentication(ctx, tok); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestAuthenticator_DisallowedAlg(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	issuer := "https://issuer.example.com"
	aud := "https://api.example.com/mcp"
	cfg := baseConfig(issuer, aud)
	cfg.AllowedAlgs = []string{"RS512"} // token below is RS256-signed
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := NewStatic(ctx, cfg, srv.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": "user-123",
		"aud": aud,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
	tok := signToken(t, pk, kid, claims)

	if _, err := a.CheckAuthentication(ctx, tok); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestAuthenticator_EmptyToken(t *testing.T) {
	_, _, jwks := genRSA(t)
	srv := newJWKSServer(t, jwks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := NewStatic(ctx, baseConfig("https://issuer.example.com", "aud"), srv.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := a.CheckAuthentication(ctx, ""); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for empty token, got %v", err)
	}
}

func TestNewStaticValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := NewStatic(ctx, nil, "http://127.0.0.1/jwks"); err == nil {
		t.Error("nil config must be rejected")
	}
	if _, err := NewStatic(ctx, &StaticConfig{ExpectedAudiences: []string{"a"}}, "http://127.0.0.1/jwks"); err == nil {
		t.Error("missing issuer must be rejected")
	}
	if _, err := NewStatic(ctx, &StaticConfig{Issuer: "i"}, "http://127.0.0.1/jwks"); err == nil {
		t.Error("missing audiences must be rejected")
	}
	if _, err := NewStatic(ctx, &StaticConfig{Issuer: "i", ExpectedAudiences: []string{"a"}}, ""); err == nil {
		t.Error("missing jwks uri must be rejected")
	}
}
