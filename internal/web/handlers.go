package web

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/fruitsalade/drivedeck/internal/auth"
	"github.com/fruitsalade/drivedeck/internal/drive"
	"github.com/fruitsalade/drivedeck/internal/logging"
	"github.com/fruitsalade/drivedeck/internal/metrics"
	"github.com/fruitsalade/drivedeck/internal/retry"
	"github.com/fruitsalade/drivedeck/internal/session"
)

// multipartMemory is how much of an upload is held in memory before the
// rest spills to temporary files.
const multipartMemory = 8 << 20

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Load(r)
	if err != nil {
		logging.WithContext(r.Context()).Error("load session", zap.Error(err))
		s.unavailable(w, r, false)
		return
	}
	if sess.SignedIn() {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	page := loginPage{basePage: s.base(sess)}
	if len(page.Flashes) > 0 {
		s.save(w, r, sess)
	}
	s.render(w, r, http.StatusOK, "login.html", page)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Load(r)
	if err != nil {
		logging.WithContext(r.Context()).Error("load session", zap.Error(err))
		s.unavailable(w, r, false)
		return
	}
	state, err := auth.NewState()
	if err != nil {
		logging.WithContext(r.Context()).Error("generate oauth state", zap.Error(err))
		s.renderError(w, r, nil, http.StatusInternalServerError, "Sign-in could not be started.")
		return
	}
	sess.State = state
	if err := s.sessions.Save(w, r, sess); err != nil {
		logging.WithContext(r.Context()).Error("save session", zap.Error(err))
		s.unavailable(w, r, false)
		return
	}
	http.Redirect(w, r, s.auth.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.WithContext(ctx)

	sess, err := s.sessions.Load(r)
	if err != nil {
		log.Error("load session", zap.Error(err))
		s.unavailable(w, r, false)
		return
	}
	if sess.State == "" {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	q := r.URL.Query()
	expected := sess.State
	sess.State = ""

	if e := q.Get("error"); e != "" {
		log.Info("sign-in declined", zap.String("error", e))
		metrics.RecordAuthAttempt(false)
		sess.AddFlash(session.FlashError, "Sign-in was cancelled.")
		s.redirect(w, r, sess, "/")
		return
	}
	if err := auth.CheckState(expected, q.Get("state")); err != nil {
		log.Warn("oauth state mismatch")
		metrics.RecordAuthAttempt(false)
		sess.SignOut()
		sess.AddFlash(session.FlashError, "Sign-in failed. Please try again.")
		s.redirect(w, r, sess, "/")
		return
	}

	tok, err := s.auth.Exchange(ctx, q.Get("code"))
	if err != nil {
		log.Warn("code exchange failed", zap.Error(err))
		sess.SignOut()
		sess.AddFlash(session.FlashError, "Sign-in failed. Please try again.")
		s.redirect(w, r, sess, "/")
		return
	}
	user, err := s.auth.Identify(ctx, tok)
	if err != nil {
		log.Warn("identify user failed", zap.Error(err))
		sess.SignOut()
		sess.AddFlash(session.FlashError, "Sign-in failed. Please try again.")
		s.redirect(w, r, sess, "/")
		return
	}

	if err := s.sessions.Rotate(ctx, sess); err != nil {
		log.Warn("rotate session id", zap.Error(err))
	}
	sess.Token = tok
	sess.User = user
	s.redirect(w, r, sess, "/dashboard")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Load(r)
	if err != nil {
		logging.WithContext(r.Context()).Error("load session", zap.Error(err))
		s.unavailable(w, r, false)
		return
	}
	if err := s.sessions.Destroy(r.Context(), w, sess); err != nil {
		logging.WithContext(r.Context()).Warn("destroy session", zap.Error(err))
	}
	next := s.sessions.New()
	next.AddFlash(session.FlashInfo, "You have been logged out.")
	s.redirect(w, r, next, "/")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": s.facade.Backend(),
	})
}

type folderResult struct {
	listing *drive.Listing
	crumbs  drive.Breadcrumb
}

// listFolder is a read-only view and is retried on transient errors.
func (s *Server) listFolder(r *http.Request, sess *session.Session, folderID string) (folderResult, error) {
	attempt := 0
	return retry.DoWithResult(r.Context(), s.readRetry, func() (folderResult, error) {
		attempt++
		if attempt > 1 {
			logging.WithContext(r.Context()).Info("retrying folder listing",
				zap.String("folder", folderID), zap.Int("attempt", attempt))
		}
		listing, crumbs, err := s.facade.ListFolder(r.Context(), sess.Token, folderID)
		return folderResult{listing: listing, crumbs: crumbs}, err
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	folderID := r.PathValue("folderID")

	res, err := s.listFolder(r, sess, folderID)
	if err != nil {
		back := ""
		if folderID != "" && folderID != drive.RootID {
			back = "/dashboard"
		}
		s.handleError(w, r, sess, err, false, back)
		return
	}

	page := dashboardPage{
		basePage:  s.base(sess),
		Folder:    newItemView(res.listing.Folder),
		Crumbs:    newCrumbViews(res.crumbs),
		Items:     newItemViews(res.listing.Items),
		MaxUpload: s.maxUploadLabel(),
	}
	s.save(w, r, sess)
	s.render(w, r, http.StatusOK, "dashboard.html", page)
}

func (s *Server) handleAPIFolder(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	res, err := s.listFolder(r, sess, r.PathValue("folderID"))
	if err != nil {
		s.handleError(w, r, sess, err, true, "")
		return
	}
	sendJSON(w, http.StatusOK, folderResponse{
		Folder:     newItemView(res.listing.Folder),
		Breadcrumb: newCrumbViews(res.crumbs),
		Items:      newItemViews(res.listing.Items),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			sess.AddFlash(session.FlashError, fmt.Sprintf("File is too large. The limit is %s.", s.maxUploadLabel()))
			s.redirect(w, r, sess, "/dashboard")
			return
		}
		s.handleError(w, r, sess, fmt.Errorf("%w: malformed upload", drive.ErrInvalidInput), false, "/dashboard")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logging.WithContext(r.Context()).Warn("remove multipart temp files", zap.Error(err))
		}
	}()

	if !s.sessions.CheckCSRF(sess, r.FormValue("csrf_token")) {
		s.renderError(w, r, sess, http.StatusForbidden, msgForm)
		return
	}

	folderID := r.FormValue("folder_id")
	if folderID == "" {
		folderID = drive.RootID
	}
	back := folderURL(folderID)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.handleError(w, r, sess, fmt.Errorf("%w: no file selected", drive.ErrInvalidInput), false, back)
		return
	}
	defer file.Close()

	item, err := s.facade.Upload(r.Context(), sess.Token, folderID, header.Filename, file)
	if err != nil {
		if drive.Classify(err) == drive.KindNotFound {
			back = "/dashboard"
		}
		s.handleError(w, r, sess, err, false, back)
		return
	}

	sess.AddFlash(session.FlashSuccess, fmt.Sprintf("%s uploaded successfully!", item.Name))
	s.redirect(w, r, sess, back)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	fileID := r.PathValue("fileID")

	dl, err := s.facade.Download(r.Context(), sess.Token, fileID)
	if err != nil {
		s.handleError(w, r, sess, err, false, "/dashboard")
		return
	}
	defer dl.Body.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Type", dl.MIMEType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if dl.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, dl.Body)
	metrics.RecordDownload(n, err == nil)
	if err != nil {
		logging.WithContext(r.Context()).Warn("download interrupted",
			zap.String("id", fileID), zap.Int64("bytes", n), zap.Error(err))
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if !s.sessions.CheckCSRF(sess, r.FormValue("csrf_token")) {
		s.renderError(w, r, sess, http.StatusForbidden, msgForm)
		return
	}

	item, err := s.facade.Delete(r.Context(), sess.Token, r.PathValue("itemID"))
	if err != nil {
		s.handleError(w, r, sess, err, false, "/dashboard")
		return
	}

	what := "File"
	if item.IsFolder() {
		what = "Folder"
	}
	sess.AddFlash(session.FlashSuccess, fmt.Sprintf("%s %q deleted successfully!", what, item.Name))
	s.redirect(w, r, sess, folderURL(item.ParentID))
}
