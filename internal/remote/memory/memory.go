// Package memory implements an in-process remote store. It backs local
// development (STORE_BACKEND=memory) and the façade tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/fruitsalade/drivedeck/internal/drive"
)

type node struct {
	item    drive.Item
	content []byte
}

// Store holds items in memory. It is safe for concurrent use; all
// credentials see the same tree.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*node
	now   func() time.Time
	newID func() string
}

// New returns a Store containing only the root folder.
func New() *Store {
	s := &Store{
		nodes: make(map[string]*node),
		now:   time.Now,
		newID: uuid.NewString,
	}
	s.nodes[drive.RootID] = &node{item: drive.Item{
		ID:       drive.RootID,
		Name:     drive.RootName,
		Kind:     drive.KindFolder,
		Root:     true,
		Modified: s.now(),
	}}
	return s
}

// Name implements drive.Opener.
func (s *Store) Name() string {
	return "memory"
}

// Open implements drive.Opener. Any non-empty access token is accepted.
func (s *Store) Open(_ context.Context, cred *oauth2.Token) (drive.Remote, error) {
	if cred == nil || cred.AccessToken == "" {
		return nil, fmt.Errorf("%w: no credential", drive.ErrUnauthorized)
	}
	return &remote{Store: s}, nil
}

// remote is the Store bound to one credential.
type remote struct {
	*Store
}

// AddFolder creates a folder with a fixed id. Used to seed fixtures.
func (s *Store) AddFolder(id, parentID, name string) *drive.Item {
	return s.add(id, parentID, name, drive.KindFolder, "application/vnd.google-apps.folder", nil)
}

// AddFile creates a file with a fixed id. Used to seed fixtures.
func (s *Store) AddFile(id, parentID, name, mimeType string, content []byte) *drive.Item {
	return s.add(id, parentID, name, drive.KindFile, mimeType, content)
}

func (s *Store) add(id, parentID, name string, kind drive.Kind, mimeType string, content []byte) *drive.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := &node{
		item: drive.Item{
			ID:       id,
			Name:     name,
			Kind:     kind,
			ParentID: parentID,
			MIMEType: mimeType,
			Size:     int64(len(content)),
			Modified: s.now(),
		},
		content: content,
	}
	s.nodes[id] = n
	item := n.item
	return &item
}

// Len returns the number of items including the root.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Stat implements drive.Remote.
func (s *remote) Stat(ctx context.Context, id string) (*drive.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", drive.ErrNotFound, id)
	}
	item := n.item
	return &item, nil
}

// List implements drive.Remote.
func (s *remote) List(ctx context.Context, parentID string) ([]*drive.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	parent, ok := s.nodes[parentID]
	if !ok || parent.item.Kind != drive.KindFolder {
		return nil, fmt.Errorf("%w: folder %s", drive.ErrNotFound, parentID)
	}
	items := []*drive.Item{}
	for _, n := range s.nodes {
		if n.item.ParentID == parentID && n.item.ID != parentID {
			item := n.item
			items = append(items, &item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// Create implements drive.Remote.
func (s *remote) Create(ctx context.Context, parentID, name, mimeType string, body io.Reader) (*drive.Item, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, readerWithContext(ctx, body)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.nodes[parentID]
	if !ok || parent.item.Kind != drive.KindFolder {
		return nil, fmt.Errorf("%w: folder %s", drive.ErrNotFound, parentID)
	}
	n := &node{
		item: drive.Item{
			ID:       s.newID(),
			Name:     name,
			Kind:     drive.KindFile,
			ParentID: parentID,
			MIMEType: mimeType,
			Size:     int64(buf.Len()),
			Modified: s.now(),
		},
		content: buf.Bytes(),
	}
	s.nodes[n.item.ID] = n
	item := n.item
	return &item, nil
}

// Open implements drive.Remote.
func (s *remote) Open(ctx context.Context, item *drive.Item) (*drive.Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[item.ID]
	if !ok || n.item.Kind != drive.KindFile {
		return nil, fmt.Errorf("%w: file %s", drive.ErrNotFound, item.ID)
	}
	return &drive.Content{
		Body:     io.NopCloser(bytes.NewReader(n.content)),
		Name:     n.item.Name,
		MIMEType: n.item.MIMEType,
		Size:     int64(len(n.content)),
	}, nil
}

// Delete implements drive.Remote. Folders are removed with their subtree.
func (s *remote) Delete(ctx context.Context, item *drive.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[item.ID]; !ok {
		return fmt.Errorf("%w: %s", drive.ErrNotFound, item.ID)
	}
	s.deleteTree(item.ID)
	return nil
}

func (s *remote) deleteTree(id string) {
	for childID, n := range s.nodes {
		if n.item.ParentID == id && childID != id {
			s.deleteTree(childID)
		}
	}
	delete(s.nodes, id)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ drive.Remote = (*remote)(nil)
var _ drive.Opener = (*Store)(nil)
