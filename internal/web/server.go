// Package web serves the browser file manager and its JSON API.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fruitsalade/drivedeck/internal/auth"
	"github.com/fruitsalade/drivedeck/internal/drive"
	"github.com/fruitsalade/drivedeck/internal/logging"
	"github.com/fruitsalade/drivedeck/internal/metrics"
	"github.com/fruitsalade/drivedeck/internal/quota"
	"github.com/fruitsalade/drivedeck/internal/retry"
	"github.com/fruitsalade/drivedeck/internal/session"
	"github.com/fruitsalade/drivedeck/webapp"
)

// Authenticator runs the OAuth sign-in flow.
type Authenticator interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Fresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, bool, error)
	Identify(ctx context.Context, tok *oauth2.Token) (*auth.User, error)
}

// Options configures a Server.
type Options struct {
	Facade        *drive.Facade
	Auth          Authenticator
	Sessions      *session.Manager
	Limiter       *quota.RateLimiter // nil disables rate limiting
	MaxUploadSize int64
	ReadRetries   int // extra attempts for read-only views on transient errors
}

// Server is the HTTP server.
type Server struct {
	facade        *drive.Facade
	auth          Authenticator
	sessions      *session.Manager
	limiter       *quota.RateLimiter
	maxUploadSize int64
	readRetry     retry.Config
	pages         map[string]*template.Template
	static        http.Handler
}

// ErrorResponse is the JSON body of API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// NewServer creates a new server.
func NewServer(opts Options) (*Server, error) {
	pages, err := parsePages(webapp.Assets, "login.html", "dashboard.html", "error.html")
	if err != nil {
		return nil, err
	}
	staticFS, err := fs.Sub(webapp.Assets, "static")
	if err != nil {
		return nil, fmt.Errorf("static assets: %w", err)
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = quota.NewRateLimiter(0)
	}

	readRetry := retry.DefaultConfig()
	readRetry.MaxAttempts = 1 + max(opts.ReadRetries, 0)
	readRetry.ShouldRetry = drive.IsTransient

	return &Server{
		facade:        opts.Facade,
		auth:          opts.Auth,
		sessions:      opts.Sessions,
		limiter:       limiter,
		maxUploadSize: opts.MaxUploadSize,
		readRetry:     readRetry,
		pages:         pages,
		static:        http.StripPrefix("/static/", http.FileServerFS(staticFS)),
	}, nil
}

func parsePages(assets fs.FS, names ...string) (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		t, err := template.New(name).ParseFS(assets, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /login", s.handleLogin)
	mux.HandleFunc("GET /oauth2callback", s.handleCallback)
	mux.HandleFunc("GET /logout", s.handleLogout)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /static/", s.static)

	// Signed in
	mux.Handle("GET /dashboard", s.page(s.handleDashboard))
	mux.Handle("GET /dashboard/{folderID...}", s.page(s.handleDashboard))
	mux.Handle("POST /upload", s.page(s.handleUpload))
	mux.Handle("GET /download/{fileID...}", s.page(s.handleDownload))
	mux.Handle("POST /delete/{itemID...}", s.page(s.handleDelete))
	mux.Handle("GET /api/v1/folders/{folderID...}", s.api(s.handleAPIFolder))

	return logging.Middleware(metrics.Middleware(mux))
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// page wraps an HTML handler that requires a signed-in session.
func (s *Server) page(h handlerFunc) http.Handler {
	return s.authenticated(false, h)
}

// api wraps a JSON handler that requires a signed-in session.
func (s *Server) api(h handlerFunc) http.Handler {
	return s.authenticated(true, h)
}

type sessionKey struct{}

func (s *Server) authenticated(isAPI bool, h handlerFunc) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h(w, r, r.Context().Value(sessionKey{}).(*session.Session))
	})
	deny := func(w http.ResponseWriter, r *http.Request) {
		if isAPI {
			sendError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		s.renderError(w, r, nil, http.StatusTooManyRequests, "Too many requests. Please wait a moment and try again.")
	}
	limited := quota.RateLimitMiddleware(s.limiter, sessionFromRequest, deny)(inner)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Load(r)
		if err != nil {
			logging.WithContext(r.Context()).Error("load session", zap.Error(err))
			s.unavailable(w, r, isAPI)
			return
		}
		if !sess.SignedIn() {
			if isAPI {
				sendError(w, http.StatusUnauthorized, "not signed in")
				return
			}
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		tok, refreshed, err := s.auth.Fresh(r.Context(), sess.Token)
		if err != nil {
			s.handleError(w, r, sess, err, isAPI, "")
			return
		}
		if refreshed {
			sess.Token = tok
			if err := s.sessions.Save(w, r, sess); err != nil {
				logging.WithContext(r.Context()).Error("save refreshed token", zap.Error(err))
			}
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, sess)
		limited.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromRequest(r *http.Request) (string, bool) {
	sess, ok := r.Context().Value(sessionKey{}).(*session.Session)
	if !ok {
		return "", false
	}
	return sess.ID, true
}

func (s *Server) base(sess *session.Session) basePage {
	if sess == nil {
		return basePage{}
	}
	return basePage{
		User:      sess.User,
		CSRFToken: s.sessions.CSRFToken(sess),
		Flashes:   sess.PopFlashes(),
	}
}

func (s *Server) maxUploadLabel() string {
	return humanize.Bytes(uint64(s.maxUploadSize))
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("encode response", zap.Error(err))
	}
}

func sendError(w http.ResponseWriter, status int, msg string) {
	sendJSON(w, status, ErrorResponse{Error: msg, Code: status})
}
