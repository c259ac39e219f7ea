package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/fruitsalade/drivedeck/internal/drive"
	"github.com/fruitsalade/drivedeck/internal/logging"
)

const testClientID = "1234.apps.googleusercontent.com"

func init() {
	logging.InitNop()
}

type fixture struct {
	gate *Gate
	key  *rsa.PrivateKey
	srv  *httptest.Server
}

func (f *fixture) idToken(t *testing.T, aud string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   GoogleIssuer,
		"aud":   aud,
		"sub":   "10769150350006150715113082367",
		"email": "jane@example.com",
		"name":  "Jane Doe",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func newFixture(t *testing.T, aud string) *fixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	f := &fixture{key: key}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			if r.Form.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-1",
				"token_type":    "Bearer",
				"refresh_token": "refresh-1",
				"expires_in":    3600,
				"id_token":      f.idToken(t, aud),
			})
		case "refresh_token":
			if r.Form.Get("refresh_token") != "refresh-1" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-2",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(f.srv.Close)

	cfg := GoogleConfig(testClientID, "supersecret", "http://localhost:8080/oauth2callback")
	cfg.Endpoint = oauth2.Endpoint{
		AuthURL:   f.srv.URL + "/auth",
		TokenURL:  f.srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	f.gate = NewGate(cfg, oidc.NewVerifier(GoogleIssuer, keys, &oidc.Config{ClientID: testClientID}))
	return f
}

func TestAuthCodeURL(t *testing.T) {
	f := newFixture(t, testClientID)

	u, err := url.Parse(f.gate.AuthCodeURL("state-123"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "true", q.Get("include_granted_scopes"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Contains(t, q.Get("scope"), "https://www.googleapis.com/auth/drive")
	assert.Contains(t, q.Get("scope"), "openid")
}

func TestExchangeAndIdentify(t *testing.T) {
	f := newFixture(t, testClientID)
	ctx := context.Background()

	tok, err := f.gate.Exchange(ctx, "good-code")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)

	user, err := f.gate.Identify(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", user.Email)
	assert.Equal(t, "Jane Doe", user.DisplayName())
	assert.NotEmpty(t, user.Subject)
}

func TestExchangeFailures(t *testing.T) {
	f := newFixture(t, testClientID)

	_, err := f.gate.Exchange(context.Background(), "")
	assert.ErrorIs(t, err, drive.ErrInvalidInput)

	_, err = f.gate.Exchange(context.Background(), "bad-code")
	assert.ErrorIs(t, err, drive.ErrUnauthorized)
}

func TestIdentifyRejectsWrongAudience(t *testing.T) {
	f := newFixture(t, "someone-else.apps.googleusercontent.com")
	ctx := context.Background()

	tok, err := f.gate.Exchange(ctx, "good-code")
	require.NoError(t, err)
	_, err = f.gate.Identify(ctx, tok)
	assert.ErrorIs(t, err, drive.ErrUnauthorized)

	_, err = f.gate.Identify(ctx, &oauth2.Token{AccessToken: "x"})
	assert.ErrorIs(t, err, drive.ErrUnauthorized)
}

func TestFresh(t *testing.T) {
	f := newFixture(t, testClientID)
	ctx := context.Background()

	valid := &oauth2.Token{AccessToken: "access-1", Expiry: time.Now().Add(time.Hour)}
	got, changed, err := f.gate.Fresh(ctx, valid)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Same(t, valid, got)

	expired := &oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: time.Now().Add(-time.Hour)}
	got, changed, err = f.gate.Fresh(ctx, expired)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "access-2", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken, "refresh token carried over")

	_, _, err = f.gate.Fresh(ctx, &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(-time.Hour)})
	assert.ErrorIs(t, err, drive.ErrUnauthorized)

	revoked := &oauth2.Token{AccessToken: "a", RefreshToken: "revoked", Expiry: time.Now().Add(-time.Hour)}
	_, _, err = f.gate.Fresh(ctx, revoked)
	assert.ErrorIs(t, err, drive.ErrUnauthorized)

	_, _, err = f.gate.Fresh(ctx, nil)
	assert.ErrorIs(t, err, drive.ErrUnauthorized)
}

func TestState(t *testing.T) {
	a, err := NewState()
	require.NoError(t, err)
	b, err := NewState()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	assert.NoError(t, CheckState(a, a))
	assert.ErrorIs(t, CheckState(a, b), ErrStateMismatch)
	assert.ErrorIs(t, CheckState("", ""), ErrStateMismatch)
}
