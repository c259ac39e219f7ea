package web

import (
	"bytes"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/fruitsalade/drivedeck/internal/logging"
	"github.com/fruitsalade/drivedeck/internal/session"
)

// render executes a page template. The page is buffered so a template
// error never leaves a half-written response.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	t, ok := s.pages[name]
	if !ok {
		logging.WithContext(r.Context()).Error("unknown template", zap.String("template", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		logging.WithContext(r.Context()).Error("render template", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError shows the error page. sess may be nil.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, sess *session.Session, status int, msg string) {
	page := errorPage{
		basePage: s.base(sess),
		Status:   http.StatusText(status),
		Message:  msg,
	}
	if sess != nil {
		s.save(w, r, sess)
	}
	s.render(w, r, status, "error.html", page)
}

// save persists the session, logging failures. Pages still render when
// the store is down; only flashes are lost.
func (s *Server) save(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := s.sessions.Save(w, r, sess); err != nil {
		logging.WithContext(r.Context()).Error("save session", zap.Error(err))
	}
}

// redirect saves the session and sends the browser to url.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request, sess *session.Session, url string) {
	s.save(w, r, sess)
	http.Redirect(w, r, url, http.StatusSeeOther)
}
