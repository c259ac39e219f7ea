// Package gdrive implements the remote store on top of the Google Drive v3 API.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/fruitsalade/drivedeck/internal/drive"
	"github.com/fruitsalade/drivedeck/internal/logging"
	"github.com/fruitsalade/drivedeck/internal/metrics"
)

const (
	backendName = "gdrive"

	// FolderMIMEType marks folders in Drive.
	FolderMIMEType = "application/vnd.google-apps.folder"

	googleAppsPrefix = "application/vnd.google-apps."

	itemFields = "id,name,mimeType,parents,modifiedTime,size,trashed"
)

type exportFormat struct {
	mimeType  string
	extension string
}

// Google-native documents have no binary content and are exported instead.
var exportFormats = map[string]exportFormat{
	"application/vnd.google-apps.document": {
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document", ".docx"},
	"application/vnd.google-apps.spreadsheet": {
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ".xlsx"},
	"application/vnd.google-apps.presentation": {
		"application/vnd.openxmlformats-officedocument.presentationml.presentation", ".pptx"},
	"application/vnd.google-apps.drawing": {
		"image/svg+xml", ".svg"},
}

// Config configures the Drive backend.
type Config struct {
	OAuth    *oauth2.Config
	PageSize int64
	UseTrash bool

	// Endpoint overrides the API base URL. Used by tests.
	Endpoint string
}

// Opener binds OAuth credentials to Drive API clients.
type Opener struct {
	cfg Config
}

// New creates a Drive opener.
func New(cfg Config) *Opener {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Opener{cfg: cfg}
}

// Name implements drive.Opener.
func (o *Opener) Name() string {
	return backendName
}

// Open implements drive.Opener. The returned remote refreshes cred through
// the OAuth config when it expires.
func (o *Opener) Open(ctx context.Context, cred *oauth2.Token) (drive.Remote, error) {
	if cred == nil || cred.AccessToken == "" {
		return nil, fmt.Errorf("%w: no credential", drive.ErrUnauthorized)
	}

	var client *http.Client
	if o.cfg.OAuth != nil {
		client = o.cfg.OAuth.Client(ctx, cred)
	} else {
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(cred))
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if o.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.cfg.Endpoint))
	}
	svc, err := drivev3.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &remote{svc: svc, pageSize: o.cfg.PageSize, useTrash: o.cfg.UseTrash}, nil
}

type remote struct {
	svc      *drivev3.Service
	pageSize int64
	useTrash bool

	rootOnce sync.Once
	rootID   string
	rootErr  error
}

// root returns the real id behind the "root" alias.
func (r *remote) root(ctx context.Context) (string, error) {
	r.rootOnce.Do(func() {
		start := time.Now()
		f, err := r.svc.Files.Get(drive.RootID).Fields("id").Context(ctx).Do()
		metrics.RecordRemoteOperation(backendName, "root", time.Since(start), err == nil)
		if err != nil {
			r.rootErr = mapError(err)
			return
		}
		r.rootID = f.Id
	})
	return r.rootID, r.rootErr
}

// Stat implements drive.Remote.
func (r *remote) Stat(ctx context.Context, id string) (*drive.Item, error) {
	rootID, err := r.root(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	f, err := r.svc.Files.Get(id).Fields(itemFields).Context(ctx).Do()
	metrics.RecordRemoteOperation(backendName, "stat", time.Since(start), err == nil)
	if err != nil {
		return nil, mapError(err)
	}
	if f.Trashed {
		return nil, fmt.Errorf("%w: %s is in the trash", drive.ErrNotFound, id)
	}
	return decode(f, rootID)
}

// List implements drive.Remote.
func (r *remote) List(ctx context.Context, parentID string) ([]*drive.Item, error) {
	rootID, err := r.root(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	items := []*drive.Item{}
	call := r.svc.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(parentID))).
		Fields(googleapi.Field("nextPageToken,files(" + itemFields + ")")).
		OrderBy("folder,name").
		PageSize(r.pageSize)
	err = call.Pages(ctx, func(page *drivev3.FileList) error {
		for _, f := range page.Files {
			item, err := decode(f, rootID)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	metrics.RecordRemoteOperation(backendName, "list", time.Since(start), err == nil)
	if err != nil {
		return nil, mapError(err)
	}
	return items, nil
}

// Create implements drive.Remote.
func (r *remote) Create(ctx context.Context, parentID, name, mimeType string, body io.Reader) (*drive.Item, error) {
	rootID, err := r.root(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	meta := &drivev3.File{
		Name:     name,
		MimeType: mimeType,
		Parents:  []string{parentID},
	}
	f, err := r.svc.Files.Create(meta).
		Media(body, googleapi.ContentType(mimeType)).
		Fields(itemFields).
		Context(ctx).
		Do()
	metrics.RecordRemoteOperation(backendName, "create", time.Since(start), err == nil)
	if err != nil {
		return nil, mapError(err)
	}
	return decode(f, rootID)
}

// Open implements drive.Remote.
func (r *remote) Open(ctx context.Context, item *drive.Item) (*drive.Content, error) {
	start := time.Now()
	name := item.Name
	mimeType := item.MIMEType

	var resp *http.Response
	var err error
	if strings.HasPrefix(item.MIMEType, googleAppsPrefix) {
		format, ok := exportFormats[item.MIMEType]
		if !ok {
			return nil, fmt.Errorf("%w: %s cannot be downloaded", drive.ErrNotFound, item.MIMEType)
		}
		resp, err = r.svc.Files.Export(item.ID, format.mimeType).Context(ctx).Download()
		name += format.extension
		mimeType = format.mimeType
		metrics.RecordRemoteOperation(backendName, "export", time.Since(start), err == nil)
	} else {
		resp, err = r.svc.Files.Get(item.ID).Context(ctx).Download()
		metrics.RecordRemoteOperation(backendName, "download", time.Since(start), err == nil)
	}
	if err != nil {
		return nil, mapError(err)
	}

	size := resp.ContentLength
	if size < 0 {
		size = 0
	}
	return &drive.Content{Body: resp.Body, Name: name, MIMEType: mimeType, Size: size}, nil
}

// Delete implements drive.Remote.
func (r *remote) Delete(ctx context.Context, item *drive.Item) error {
	start := time.Now()
	var err error
	if r.useTrash {
		_, err = r.svc.Files.Update(item.ID, &drivev3.File{Trashed: true}).Fields("id").Context(ctx).Do()
		metrics.RecordRemoteOperation(backendName, "trash", time.Since(start), err == nil)
	} else {
		err = r.svc.Files.Delete(item.ID).Context(ctx).Do()
		metrics.RecordRemoteOperation(backendName, "delete", time.Since(start), err == nil)
	}
	if err != nil {
		return mapError(err)
	}
	logging.WithContext(ctx).Debug("drive item removed",
		zap.String("id", item.ID), zap.Bool("trash", r.useTrash))
	return nil
}

// decode validates a Drive file at the boundary. Missing fields mean the
// response was malformed and are reported as transient.
func decode(f *drivev3.File, rootID string) (*drive.Item, error) {
	if f == nil || f.Id == "" {
		return nil, fmt.Errorf("%w: drive returned an item without id", drive.ErrTransient)
	}
	if f.Name == "" {
		return nil, fmt.Errorf("%w: drive item %s has no name", drive.ErrTransient, f.Id)
	}

	item := &drive.Item{
		ID:       f.Id,
		Name:     f.Name,
		Kind:     drive.KindFile,
		MIMEType: f.MimeType,
		Size:     f.Size,
		Root:     rootID != "" && f.Id == rootID,
	}
	if f.MimeType == FolderMIMEType {
		item.Kind = drive.KindFolder
	}
	if item.Root {
		item.ID = drive.RootID
	}
	if len(f.Parents) > 0 {
		item.ParentID = f.Parents[0]
		if item.ParentID == rootID {
			item.ParentID = drive.RootID
		}
	}
	if f.ModifiedTime != "" {
		t, err := time.Parse(time.RFC3339, f.ModifiedTime)
		if err != nil {
			return nil, fmt.Errorf("%w: drive item %s has bad modifiedTime %q", drive.ErrTransient, f.Id, f.ModifiedTime)
		}
		item.Modified = t
	}
	return item, nil
}

// mapError translates Drive API and OAuth failures into façade errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, known := range []error{drive.ErrUnauthorized, drive.ErrNotFound, drive.ErrInvalidInput, drive.ErrTransient} {
		if errors.Is(err, known) {
			return err
		}
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: token refresh failed: %v", drive.ErrUnauthorized, err)
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("%w: %v", drive.ErrTransient, err)
	}
	switch {
	case gerr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", drive.ErrUnauthorized, err)
	case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
		return fmt.Errorf("%w: %v", drive.ErrTransient, err)
	case gerr.Code == http.StatusForbidden:
		if rateLimited(gerr) {
			return fmt.Errorf("%w: %v", drive.ErrTransient, err)
		}
		if fileDenied(gerr) {
			return fmt.Errorf("%w: %v", drive.ErrForbidden, err)
		}
		return fmt.Errorf("%w: %v", drive.ErrUnauthorized, err)
	case gerr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %v", drive.ErrNotFound, err)
	case gerr.Code == http.StatusBadRequest:
		return fmt.Errorf("%w: %v", drive.ErrInvalidInput, err)
	default:
		return fmt.Errorf("%w: %v", drive.ErrTransient, err)
	}
}

func rateLimited(gerr *googleapi.Error) bool {
	for _, e := range gerr.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

// fileDenied reports a 403 about one item rather than the credential,
// e.g. deleting a file shared read-only.
func fileDenied(gerr *googleapi.Error) bool {
	for _, e := range gerr.Errors {
		switch e.Reason {
		case "insufficientFilePermissions", "appNotAuthorizedToFile", "domainPolicy", "cannotDeleteFile":
			return true
		}
	}
	return false
}

// escapeQuery quotes a value for use inside a single-quoted Drive query term.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

var _ drive.Opener = (*Opener)(nil)
var _ drive.Remote = (*remote)(nil)
