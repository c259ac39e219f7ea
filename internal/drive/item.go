// Package drive adapts a remote store's object model into the folder
// listings and breadcrumbs the dashboard renders.
//
// The package has three layers: Resolver (single-item metadata),
// PathBuilder (root-to-folder breadcrumb) and Facade (list, upload,
// download, delete). None of them hold state between calls; every call
// carries its own credential.
package drive

import (
	"context"
	"io"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// RootID is the reserved identifier of the root folder.
const RootID = "root"

// RootName is the display name of the root breadcrumb.
const RootName = "My Drive"

// Kind distinguishes files from folders.
type Kind int

const (
	KindFile Kind = iota
	KindFolder
)

func (k Kind) String() string {
	if k == KindFolder {
		return "folder"
	}
	return "file"
}

// MarshalText encodes the kind as "file" or "folder".
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Item is a file or folder entry of the remote store, decoded at the
// remote boundary.
type Item struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Kind     Kind      `json:"kind"`
	ParentID string    `json:"parent_id,omitempty"`
	Root     bool      `json:"root,omitempty"`
	MIMEType string    `json:"mime_type,omitempty"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// IsFolder reports whether the item is a folder.
func (i *Item) IsFolder() bool {
	return i.Kind == KindFolder
}

// Crumb is one element of a Breadcrumb.
type Crumb struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Breadcrumb is the ordered root-to-folder path.
type Breadcrumb []Crumb

// Current returns the last crumb (the folder being displayed).
func (b Breadcrumb) Current() Crumb {
	if len(b) == 0 {
		return Crumb{ID: RootID, Name: RootName}
	}
	return b[len(b)-1]
}

// Listing is the content of one folder.
type Listing struct {
	Folder *Item   `json:"folder"`
	Items  []*Item `json:"items"`
}

// Download is an open file stream. The caller must close Body.
type Download struct {
	Body     io.ReadCloser
	Filename string
	MIMEType string
	Size     int64
}

// Content is what a Remote returns when opening a file.
type Content struct {
	Body     io.ReadCloser
	Name     string
	MIMEType string
	Size     int64
}

// Remote is a remote store bound to one credential.
type Remote interface {
	// Stat returns the item with the given id.
	Stat(ctx context.Context, id string) (*Item, error)

	// List returns the children of the folder with the given id.
	List(ctx context.Context, parentID string) ([]*Item, error)

	// Create stores a new file under parentID.
	Create(ctx context.Context, parentID, name, mimeType string, body io.Reader) (*Item, error)

	// Open returns the content of a file item.
	Open(ctx context.Context, item *Item) (*Content, error)

	// Delete removes an item.
	Delete(ctx context.Context, item *Item) error
}

// Opener binds a credential to a Remote.
type Opener interface {
	Open(ctx context.Context, cred *oauth2.Token) (Remote, error)

	// Name identifies the backend ("gdrive", "s3", "memory").
	Name() string
}

// normalizeID maps the empty identifier to the root.
func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return RootID
	}
	return id
}
