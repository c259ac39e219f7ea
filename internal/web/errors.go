package web

import (
	"errors"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fruitsalade/drivedeck/internal/drive"
	"github.com/fruitsalade/drivedeck/internal/logging"
	"github.com/fruitsalade/drivedeck/internal/session"
)

const (
	msgExpired   = "Your session has expired. Please sign in again."
	msgNotFound  = "The requested file or folder could not be found."
	msgTransient = "Google Drive is temporarily unavailable. Please try again later."
	msgTooDeep   = "This folder is nested too deeply to display."
	msgForm      = "Your form has expired. Please reload the page and try again."
	msgForbidden = "You do not have permission to do that with this item."
)

// handleError maps a façade error to a response. back is where the
// browser is sent after a flash; empty means the error is shown in place.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, sess *session.Session, err error, isAPI bool, back string) {
	kind := drive.Classify(err)
	log := logging.WithContext(r.Context()).With(zap.String("kind", kind.String()), zap.Error(err))

	switch kind {
	case drive.KindCanceled:
		log.Debug("request canceled")
		return

	case drive.KindUnauthorized:
		if errors.Is(err, drive.ErrForbidden) {
			log.Info("permission denied")
			if isAPI {
				sendError(w, http.StatusForbidden, "permission denied")
				return
			}
			if back == "" {
				s.renderError(w, r, sess, http.StatusForbidden, msgForbidden)
				return
			}
			sess.AddFlash(session.FlashError, msgForbidden)
			s.redirect(w, r, sess, back)
			return
		}
		log.Info("credential rejected, signing out")
		if isAPI {
			sess.SignOut()
			s.save(w, r, sess)
			sendError(w, http.StatusUnauthorized, "session expired")
			return
		}
		sess.SignOut()
		sess.AddFlash(session.FlashError, msgExpired)
		s.save(w, r, sess)
		http.Redirect(w, r, "/login", http.StatusFound)

	case drive.KindNotFound:
		log.Info("item not found")
		if isAPI {
			sendError(w, http.StatusNotFound, "not found")
			return
		}
		if back == "" {
			s.renderError(w, r, sess, http.StatusNotFound, msgNotFound)
			return
		}
		sess.AddFlash(session.FlashError, msgNotFound)
		s.redirect(w, r, sess, back)

	case drive.KindInvalidInput:
		reason := userReason(err, drive.ErrInvalidInput)
		if isAPI {
			sendError(w, http.StatusBadRequest, reason)
			return
		}
		if back == "" {
			s.renderError(w, r, sess, http.StatusBadRequest, reason)
			return
		}
		sess.AddFlash(session.FlashError, reason)
		s.redirect(w, r, sess, back)

	case drive.KindPathTooDeep:
		log.Warn("breadcrumb walk aborted")
		if isAPI {
			sendError(w, http.StatusUnprocessableEntity, "folder nested too deeply")
			return
		}
		s.renderError(w, r, sess, http.StatusUnprocessableEntity, msgTooDeep)

	default:
		log.Warn("remote store unavailable")
		if isAPI {
			sendError(w, http.StatusServiceUnavailable, "temporarily unavailable")
			return
		}
		if back == "" {
			s.renderError(w, r, sess, http.StatusServiceUnavailable, msgTransient)
			return
		}
		sess.AddFlash(session.FlashError, msgTransient)
		s.redirect(w, r, sess, back)
	}
}

// unavailable reports a session store failure.
func (s *Server) unavailable(w http.ResponseWriter, r *http.Request, isAPI bool) {
	if isAPI {
		sendError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	s.renderError(w, r, nil, http.StatusServiceUnavailable, "The service is temporarily unavailable. Please try again later.")
}

// userReason strips the sentinel prefix from err and capitalizes the rest.
func userReason(err, sentinel error) string {
	msg := err.Error()
	if errors.Is(err, sentinel) {
		msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	}
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}
