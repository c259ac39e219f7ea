// Package session keeps per-browser state: the OAuth credential, the
// signed-in user, pending flash messages and the sign-in state value.
//
// The cookie carries only a signed JWT naming the session; the payload is
// sealed with NaCl secretbox and kept in a Store.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/oauth2"

	"github.com/fruitsalade/drivedeck/internal/auth"
	"github.com/fruitsalade/drivedeck/internal/logging"
	"github.com/fruitsalade/drivedeck/internal/metrics"
)

// CookieName is the name of the session cookie.
const CookieName = "drivedeck_session"

const nonceLen = 24

// Flash categories.
const (
	FlashSuccess = "success"
	FlashError   = "error"
	FlashInfo    = "info"
)

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Session is the server-side state of one browser.
type Session struct {
	ID        string        `json:"id"`
	State     string        `json:"state,omitempty"`
	Token     *oauth2.Token `json:"token,omitempty"`
	User      *auth.User    `json:"user,omitempty"`
	Flashes   []Flash       `json:"flashes,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// SignedIn reports whether the session holds a credential.
func (s *Session) SignedIn() bool {
	return s.Token != nil && s.Token.AccessToken != ""
}

// AddFlash queues a message for the next page.
func (s *Session) AddFlash(category, message string) {
	s.Flashes = append(s.Flashes, Flash{Category: category, Message: message})
}

// PopFlashes returns and clears the queued messages.
func (s *Session) PopFlashes() []Flash {
	f := s.Flashes
	s.Flashes = nil
	return f
}

// SignOut drops the credential and user but keeps pending flashes.
func (s *Session) SignOut() {
	s.Token = nil
	s.User = nil
	s.State = ""
}

type cookieClaims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager loads and saves sessions.
type Manager struct {
	store   Store
	signKey []byte
	csrfKey []byte
	sealKey [32]byte
	ttl     time.Duration
	secure  bool
	now     func() time.Time
}

// NewManager creates a Manager. Signing, sealing and CSRF keys are derived
// from secret.
func NewManager(store Store, secret string, ttl time.Duration, secure bool) *Manager {
	m := &Manager{
		store:   store,
		signKey: deriveKey(secret, "cookie"),
		csrfKey: deriveKey(secret, "csrf"),
		ttl:     ttl,
		secure:  secure,
		now:     time.Now,
	}
	copy(m.sealKey[:], deriveKey(secret, "seal"))
	return m
}

func deriveKey(secret, purpose string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("drivedeck/" + purpose))
	return mac.Sum(nil)
}

// New returns an empty session with a fresh id.
func (m *Manager) New() *Session {
	return &Session{ID: uuid.NewString(), CreatedAt: m.now().UTC()}
}

// Load returns the session named by the request cookie. A missing, forged
// or expired cookie yields a new empty session. Only store failures are
// returned as errors.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return m.New(), nil
	}
	sid, err := m.parseCookie(c.Value)
	if err != nil {
		logging.WithContext(r.Context()).Debug("discarding session cookie", zap.Error(err))
		return m.New(), nil
	}

	sealed, err := m.store.Get(r.Context(), sid)
	if errors.Is(err, ErrNotFound) {
		metrics.RecordSessionOperation(m.store.Name(), "get", true)
		return m.New(), nil
	}
	metrics.RecordSessionOperation(m.store.Name(), "get", err == nil)
	if err != nil {
		return nil, err
	}

	data, ok := m.open(sealed)
	if !ok {
		logging.WithContext(r.Context()).Warn("session payload failed to unseal", zap.String("sid", sid))
		return m.New(), nil
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil || s.ID != sid {
		return m.New(), nil
	}
	return &s, nil
}

// Save persists s and (re)issues the cookie.
func (m *Manager) Save(w http.ResponseWriter, r *http.Request, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	sealed, err := m.seal(data)
	if err != nil {
		return err
	}
	err = m.store.Set(r.Context(), s.ID, sealed, m.ttl)
	metrics.RecordSessionOperation(m.store.Name(), "set", err == nil)
	if err != nil {
		return err
	}

	value, err := m.signCookie(s.ID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Destroy removes s from the store and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	err := m.store.Delete(ctx, s.ID)
	metrics.RecordSessionOperation(m.store.Name(), "delete", err == nil)
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return err
}

// Rotate gives s a fresh id and drops the old store entry. Call it when
// the privilege level of s changes, then Save.
func (m *Manager) Rotate(ctx context.Context, s *Session) error {
	old := s.ID
	s.ID = uuid.NewString()
	err := m.store.Delete(ctx, old)
	metrics.RecordSessionOperation(m.store.Name(), "delete", err == nil)
	return err
}

// CSRFToken returns the form token bound to s.
func (m *Manager) CSRFToken(s *Session) string {
	mac := hmac.New(sha256.New, m.csrfKey)
	mac.Write([]byte(s.ID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// CheckCSRF reports whether token was issued for s.
func (m *Manager) CheckCSRF(s *Session, token string) bool {
	if token == "" {
		return false
	}
	return hmac.Equal([]byte(token), []byte(m.CSRFToken(s)))
}

func (m *Manager) signCookie(sid string) (string, error) {
	now := m.now()
	claims := cookieClaims{
		SID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signKey)
	if err != nil {
		return "", fmt.Errorf("sign session cookie: %w", err)
	}
	return signed, nil
}

func (m *Manager) parseCookie(value string) (string, error) {
	claims := &cookieClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		return m.signKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return "", err
	}
	if claims.SID == "" {
		return "", errors.New("session cookie without sid")
	}
	return claims.SID, nil
}

func (m *Manager) seal(data []byte) ([]byte, error) {
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], data, &nonce, &m.sealKey), nil
}

func (m *Manager) open(sealed []byte) ([]byte, bool) {
	if len(sealed) < nonceLen+secretbox.Overhead {
		return nil, false
	}
	var nonce [nonceLen]byte
	copy(nonce[:], sealed[:nonceLen])
	return secretbox.Open(nil, sealed[nonceLen:], &nonce, &m.sealKey)
}
