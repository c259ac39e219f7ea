// Package auth implements the Google OAuth2 sign-in flow.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drivev3 "google.golang.org/api/drive/v3"

	"github.com/fruitsalade/drivedeck/internal/drive"
	"github.com/fruitsalade/drivedeck/internal/logging"
	"github.com/fruitsalade/drivedeck/internal/metrics"
)

const (
	// GoogleIssuer is the issuer of Google ID tokens.
	GoogleIssuer = "https://accounts.google.com"

	googleCertsURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// Scopes requested at sign-in.
var Scopes = []string{drivev3.DriveScope, oidc.ScopeOpenID, "email", "profile"}

// ErrStateMismatch means the callback state does not match the session.
var ErrStateMismatch = errors.New("oauth state mismatch")

// User identifies the signed-in account.
type User struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// DisplayName returns the name, falling back to the email address.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// GoogleConfig builds the OAuth2 client configuration for Google.
func GoogleConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       Scopes,
	}
}

// GoogleVerifier returns an ID token verifier backed by Google's published
// signing keys. Keys are fetched lazily.
func GoogleVerifier(ctx context.Context, clientID string) *oidc.IDTokenVerifier {
	keys := oidc.NewRemoteKeySet(ctx, googleCertsURL)
	return oidc.NewVerifier(GoogleIssuer, keys, &oidc.Config{ClientID: clientID})
}

// Gate runs the authorization-code flow and keeps credentials fresh.
type Gate struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGate creates a Gate.
func NewGate(oauthCfg *oauth2.Config, verifier *oidc.IDTokenVerifier) *Gate {
	return &Gate{oauth: oauthCfg, verifier: verifier}
}

// OAuth2Config returns the underlying client configuration.
func (g *Gate) OAuth2Config() *oauth2.Config {
	return g.oauth
}

// AuthCodeURL returns the consent page URL. Offline access is requested so
// a refresh token is issued.
func (g *Gate) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// Exchange trades an authorization code for a token.
func (g *Gate) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		metrics.RecordAuthAttempt(false)
		return nil, fmt.Errorf("%w: missing authorization code", drive.ErrInvalidInput)
	}
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		return nil, fmt.Errorf("%w: code exchange: %v", drive.ErrUnauthorized, err)
	}
	metrics.RecordAuthAttempt(true)
	return tok, nil
}

// Fresh returns a valid token for tok, refreshing it when expired. The
// boolean reports whether a new token was issued and must be stored.
func (g *Gate) Fresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, bool, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, false, fmt.Errorf("%w: no credential", drive.ErrUnauthorized)
	}
	if tok.Valid() {
		return tok, false, nil
	}
	if tok.RefreshToken == "" {
		return nil, false, fmt.Errorf("%w: credential expired", drive.ErrUnauthorized)
	}

	fresh, err := g.oauth.TokenSource(ctx, tok).Token()
	metrics.RecordTokenRefresh(err == nil)
	if err != nil {
		logging.WithContext(ctx).Warn("token refresh failed", zap.Error(err))
		return nil, false, fmt.Errorf("%w: refresh: %v", drive.ErrUnauthorized, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	return fresh, true, nil
}

// Identify verifies the ID token issued alongside tok and returns the user.
func (g *Gate) Identify(ctx context.Context, tok *oauth2.Token) (*User, error) {
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w: no id_token in token response", drive.ErrUnauthorized)
	}
	idToken, err := g.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: verify id token: %v", drive.ErrUnauthorized, err)
	}

	var user User
	if err := idToken.Claims(&user); err != nil {
		return nil, fmt.Errorf("%w: parse id token claims: %v", drive.ErrUnauthorized, err)
	}
	if user.Subject == "" {
		user.Subject = idToken.Subject
	}
	logging.WithContext(ctx).Info("user signed in", zap.String("email", user.Email))
	return &user, nil
}

// NewState returns a random value for the OAuth state parameter.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CheckState compares the callback state with the expected one in
// constant time.
func CheckState(expected, got string) error {
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		return ErrStateMismatch
	}
	return nil
}
