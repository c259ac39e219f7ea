package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fruitsalade/drivedeck/internal/logging"
	"github.com/fruitsalade/drivedeck/internal/metrics"
)

// sniffLen is how many leading bytes of an upload are used to detect its type.
const sniffLen = 3072

// Facade is the single entry point of the dashboard into the remote store.
type Facade struct {
	opener   Opener
	maxDepth int
}

// NewFacade creates a Facade over opener. maxDepth caps breadcrumb walks.
func NewFacade(opener Opener, maxDepth int) *Facade {
	return &Facade{opener: opener, maxDepth: maxDepth}
}

// Backend returns the name of the underlying remote backend.
func (f *Facade) Backend() string {
	return f.opener.Name()
}

// connect fails closed when no credential is present.
func (f *Facade) connect(ctx context.Context, cred *oauth2.Token) (Remote, error) {
	if cred == nil || cred.AccessToken == "" {
		return nil, fmt.Errorf("%w: no credential", ErrUnauthorized)
	}
	remote, err := f.opener.Open(ctx, cred)
	if err != nil {
		return nil, err
	}
	return remote, nil
}

// ListFolder returns the children of folderID and the breadcrumb leading to it.
func (f *Facade) ListFolder(ctx context.Context, cred *oauth2.Token, folderID string) (*Listing, Breadcrumb, error) {
	start := time.Now()
	folderID = normalizeID(folderID)

	remote, err := f.connect(ctx, cred)
	if err != nil {
		return nil, nil, err
	}
	resolver := NewResolver(remote)

	folder, err := resolver.Resolve(ctx, folderID)
	if err != nil {
		return nil, nil, f.record("list", start, err)
	}
	if !folder.IsFolder() {
		return nil, nil, f.record("list", start, fmt.Errorf("%w: %s is not a folder", ErrNotFound, folderID))
	}
	if folder.Root {
		folder.Name = RootName
	}

	crumbs, err := NewPathBuilder(resolver, f.maxDepth).build(ctx, folderID, folder)
	if err != nil {
		return nil, nil, f.record("list", start, err)
	}

	items, err := remote.List(ctx, folderID)
	if err != nil {
		return nil, nil, f.record("list", start, err)
	}
	if items == nil {
		items = []*Item{}
	}
	SortItems(items)

	f.record("list", start, nil)
	return &Listing{Folder: folder, Items: items}, crumbs, nil
}

// BuildBreadcrumb returns the breadcrumb of folderID without listing it.
func (f *Facade) BuildBreadcrumb(ctx context.Context, cred *oauth2.Token, folderID string) (Breadcrumb, error) {
	remote, err := f.connect(ctx, cred)
	if err != nil {
		return nil, err
	}
	return NewPathBuilder(NewResolver(remote), f.maxDepth).Build(ctx, folderID)
}

// Upload stores body as a new file named filename under folderID.
func (f *Facade) Upload(ctx context.Context, cred *oauth2.Token, folderID, filename string, body io.Reader) (*Item, error) {
	start := time.Now()
	folderID = normalizeID(folderID)

	if body == nil {
		return nil, fmt.Errorf("%w: no file content", ErrInvalidInput)
	}
	name, err := CleanFilename(filename)
	if err != nil {
		return nil, err
	}

	remote, err := f.connect(ctx, cred)
	if err != nil {
		return nil, err
	}

	folder, err := NewResolver(remote).Resolve(ctx, folderID)
	if err != nil {
		return nil, f.record("upload", start, err)
	}
	if !folder.IsFolder() {
		return nil, f.record("upload", start, fmt.Errorf("%w: %s is not a folder", ErrNotFound, folderID))
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, f.record("upload", start, fmt.Errorf("%w: read upload: %v", ErrInvalidInput, err))
	}
	head = head[:n]
	mimeType := mimetype.Detect(head).String()
	counted := &countingReader{r: io.MultiReader(bytes.NewReader(head), body)}

	item, err := remote.Create(ctx, folderID, name, mimeType, counted)
	if err != nil {
		metrics.RecordUpload(counted.n, false)
		return nil, f.record("upload", start, err)
	}
	metrics.RecordUpload(counted.n, true)

	logging.WithContext(ctx).Info("file uploaded",
		zap.String("backend", f.opener.Name()),
		zap.String("folder", folderID),
		zap.String("id", item.ID),
		zap.String("name", item.Name),
		zap.String("mime", mimeType),
		zap.Int64("size", counted.n))
	f.record("upload", start, nil)
	return item, nil
}

// Download opens the content of fileID. The caller must close the body.
func (f *Facade) Download(ctx context.Context, cred *oauth2.Token, fileID string) (*Download, error) {
	start := time.Now()
	remote, err := f.connect(ctx, cred)
	if err != nil {
		return nil, err
	}

	item, err := NewResolver(remote).Resolve(ctx, fileID)
	if err != nil {
		return nil, f.record("download", start, err)
	}
	if item.IsFolder() {
		return nil, f.record("download", start, fmt.Errorf("%w: %s is a folder", ErrNotFound, fileID))
	}

	content, err := remote.Open(ctx, item)
	if err != nil {
		return nil, f.record("download", start, err)
	}

	dl := &Download{
		Body:     content.Body,
		Filename: content.Name,
		MIMEType: content.MIMEType,
		Size:     content.Size,
	}
	if dl.Filename == "" {
		dl.Filename = item.Name
	}
	if dl.MIMEType == "" {
		dl.MIMEType = item.MIMEType
	}
	if dl.MIMEType == "" {
		dl.MIMEType = "application/octet-stream"
	}
	f.record("download", start, nil)
	return dl, nil
}

// Delete removes itemID and returns the item as it was before deletion.
// Deleting an unknown or already deleted item yields ErrNotFound.
func (f *Facade) Delete(ctx context.Context, cred *oauth2.Token, itemID string) (*Item, error) {
	start := time.Now()
	itemID = normalizeID(itemID)
	if itemID == RootID {
		return nil, fmt.Errorf("%w: cannot delete root", ErrInvalidInput)
	}

	remote, err := f.connect(ctx, cred)
	if err != nil {
		return nil, err
	}

	item, err := NewResolver(remote).Resolve(ctx, itemID)
	if err != nil {
		return nil, f.record("delete", start, err)
	}
	if item.Root {
		return nil, fmt.Errorf("%w: cannot delete root", ErrInvalidInput)
	}

	if err := remote.Delete(ctx, item); err != nil {
		return nil, f.record("delete", start, err)
	}

	logging.WithContext(ctx).Info("item deleted",
		zap.String("backend", f.opener.Name()),
		zap.String("id", item.ID),
		zap.String("name", item.Name),
		zap.Stringer("kind", item.Kind))
	f.record("delete", start, nil)
	return item, nil
}

func (f *Facade) record(op string, start time.Time, err error) error {
	metrics.RecordFacadeOperation(op, Classify(err).String(), err == nil, time.Since(start))
	return err
}

// CleanFilename reduces a client-supplied filename to its last path element.
func CleanFilename(filename string) (string, error) {
	name := strings.TrimSpace(strings.ReplaceAll(filename, `\`, "/"))
	if name == "" {
		return "", fmt.Errorf("%w: no file selected", ErrInvalidInput)
	}
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("%w: invalid filename %q", ErrInvalidInput, filename)
	}
	return name, nil
}

// SortItems orders folders first, then by case-insensitive name.
func SortItems(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.IsFolder() != b.IsFolder() {
			return a.IsFolder()
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
