package drive_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/fruitsalade/drivedeck/internal/drive"
	"github.com/fruitsalade/drivedeck/internal/logging"
	"github.com/fruitsalade/drivedeck/internal/remote/memory"
)

var testCred = &oauth2.Token{AccessToken: "test-access-token"}

func init() {
	logging.InitNop()
}

// docsFixture builds root → Docs (id 1) → a.txt (id 2).
func docsFixture() (*memory.Store, *drive.Facade) {
	store := memory.New()
	store.AddFolder("1", drive.RootID, "Docs")
	store.AddFile("2", "1", "a.txt", "text/plain", []byte("hello"))
	return store, drive.NewFacade(store, 0)
}

func TestDocsScenario(t *testing.T) {
	ctx := context.Background()
	_, f := docsFixture()

	listing, crumbs, err := f.ListFolder(ctx, testCred, "1")
	require.NoError(t, err)
	require.Len(t, listing.Items, 1)
	assert.Equal(t, "2", listing.Items[0].ID)
	assert.Equal(t, "a.txt", listing.Items[0].Name)
	assert.Equal(t, drive.KindFile, listing.Items[0].Kind)
	assert.Equal(t, drive.Breadcrumb{
		{ID: drive.RootID, Name: drive.RootName},
		{ID: "1", Name: "Docs"},
	}, crumbs)

	built, err := f.BuildBreadcrumb(ctx, testCred, "1")
	require.NoError(t, err)
	assert.Equal(t, crumbs, built)

	deleted, err := f.Delete(ctx, testCred, "2")
	require.NoError(t, err)
	assert.Equal(t, "1", deleted.ParentID)

	listing, _, err = f.ListFolder(ctx, testCred, "1")
	require.NoError(t, err)
	assert.Empty(t, listing.Items)

	_, err = f.Delete(ctx, testCred, "2")
	assert.ErrorIs(t, err, drive.ErrNotFound)
}

func TestBuildBreadcrumbRoot(t *testing.T) {
	_, f := docsFixture()

	for _, id := range []string{drive.RootID, ""} {
		crumbs, err := f.BuildBreadcrumb(context.Background(), testCred, id)
		require.NoError(t, err)
		require.Len(t, crumbs, 1)
		assert.Equal(t, drive.RootID, crumbs[0].ID)
	}
}

// chain creates n nested folders below the root and returns the deepest id.
func chain(store *memory.Store, n int) string {
	parent := drive.RootID
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("f%d", i)
		store.AddFolder(id, parent, fmt.Sprintf("level %d", i))
		parent = id
	}
	return parent
}

func TestBuildBreadcrumbDepth(t *testing.T) {
	for _, depth := range []int{1, 2, 5, 10} {
		store := memory.New()
		leaf := chain(store, depth)
		f := drive.NewFacade(store, 10)

		crumbs, err := f.BuildBreadcrumb(context.Background(), testCred, leaf)
		require.NoError(t, err, "depth %d", depth)
		assert.Len(t, crumbs, depth+1)
		assert.Equal(t, drive.RootID, crumbs[0].ID)
		assert.Equal(t, leaf, crumbs.Current().ID)
		for i := 1; i <= depth; i++ {
			assert.Equal(t, fmt.Sprintf("f%d", i), crumbs[i].ID)
		}
	}
}

func TestBuildBreadcrumbTooDeep(t *testing.T) {
	store := memory.New()
	leaf := chain(store, 4)
	f := drive.NewFacade(store, 3)

	_, err := f.BuildBreadcrumb(context.Background(), testCred, leaf)
	assert.ErrorIs(t, err, drive.ErrPathTooDeep)
	assert.Equal(t, drive.KindPathTooDeep, drive.Classify(err))

	_, _, err = f.ListFolder(context.Background(), testCred, leaf)
	assert.ErrorIs(t, err, drive.ErrPathTooDeep)
}

func TestBuildBreadcrumbCycle(t *testing.T) {
	store := memory.New()
	store.AddFolder("a", "b", "A")
	store.AddFolder("b", "a", "B")
	f := drive.NewFacade(store, 100)

	_, err := f.BuildBreadcrumb(context.Background(), testCred, "a")
	assert.ErrorIs(t, err, drive.ErrPathTooDeep)
}

func TestBuildBreadcrumbOrphan(t *testing.T) {
	store := memory.New()
	store.AddFolder("shared", "", "Shared with me")
	f := drive.NewFacade(store, 0)

	crumbs, err := f.BuildBreadcrumb(context.Background(), testCred, "shared")
	require.NoError(t, err)
	assert.Equal(t, drive.Breadcrumb{
		{ID: drive.RootID, Name: drive.RootName},
		{ID: "shared", Name: "Shared with me"},
	}, crumbs)
}

func TestListFolderEmpty(t *testing.T) {
	store := memory.New()
	store.AddFolder("empty", drive.RootID, "Empty")
	f := drive.NewFacade(store, 0)

	listing, crumbs, err := f.ListFolder(context.Background(), testCred, "empty")
	require.NoError(t, err)
	assert.NotNil(t, listing.Items)
	assert.Empty(t, listing.Items)
	assert.Equal(t, "Empty", listing.Folder.Name)
	assert.Len(t, crumbs, 2)
}

func TestListFolderRoot(t *testing.T) {
	store, f := docsFixture()
	store.AddFile("3", drive.RootID, "b.txt", "text/plain", nil)
	store.AddFolder("4", drive.RootID, "archive")

	listing, crumbs, err := f.ListFolder(context.Background(), testCred, "")
	require.NoError(t, err)
	assert.True(t, listing.Folder.Root)
	assert.Equal(t, drive.RootName, listing.Folder.Name)
	require.Len(t, listing.Items, 3)
	// folders first, then by name
	assert.Equal(t, "4", listing.Items[0].ID)
	assert.Equal(t, "1", listing.Items[1].ID)
	assert.Equal(t, "3", listing.Items[2].ID)
	assert.Len(t, crumbs, 1)
}

func TestListFolderErrors(t *testing.T) {
	_, f := docsFixture()

	_, _, err := f.ListFolder(context.Background(), testCred, "missing")
	assert.ErrorIs(t, err, drive.ErrNotFound)

	_, _, err = f.ListFolder(context.Background(), testCred, "2")
	assert.ErrorIs(t, err, drive.ErrNotFound, "a file is not a folder")
}

func TestUploadRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, f := docsFixture()

	item, err := f.Upload(ctx, testCred, "1", "notes.txt", strings.NewReader("some notes"))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", item.Name)
	assert.Equal(t, drive.KindFile, item.Kind)
	assert.Equal(t, "1", item.ParentID)
	assert.Equal(t, int64(10), item.Size)
	assert.True(t, strings.HasPrefix(item.MIMEType, "text/plain"), item.MIMEType)

	listing, _, err := f.ListFolder(ctx, testCred, "1")
	require.NoError(t, err)
	var found *drive.Item
	for _, it := range listing.Items {
		if it.ID == item.ID {
			found = it
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "notes.txt", found.Name)
	assert.Equal(t, drive.KindFile, found.Kind)

	dl, err := f.Download(ctx, testCred, item.ID)
	require.NoError(t, err)
	defer dl.Body.Close()
	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "some notes", string(body))
	assert.Equal(t, "notes.txt", dl.Filename)
}

func TestUploadSniffsLargeContent(t *testing.T) {
	_, f := docsFixture()
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 10000)...)

	item, err := f.Upload(context.Background(), testCred, "", "image.png", bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, "image/png", item.MIMEType)
	assert.Equal(t, int64(len(png)), item.Size)
	assert.Equal(t, drive.RootID, item.ParentID)
}

func TestUploadInvalidInput(t *testing.T) {
	_, f := docsFixture()
	ctx := context.Background()

	_, err := f.Upload(ctx, testCred, "1", "a.txt", nil)
	assert.ErrorIs(t, err, drive.ErrInvalidInput)

	_, err = f.Upload(ctx, testCred, "1", "   ", strings.NewReader("x"))
	assert.ErrorIs(t, err, drive.ErrInvalidInput)

	_, err = f.Upload(ctx, testCred, "1", "..", strings.NewReader("x"))
	assert.ErrorIs(t, err, drive.ErrInvalidInput)
}

func TestUploadStripsClientPath(t *testing.T) {
	_, f := docsFixture()
	item, err := f.Upload(context.Background(), testCred, "1", `C:\Users\me\report.csv`, strings.NewReader("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, "report.csv", item.Name)
}

func TestUploadUnknownFolder(t *testing.T) {
	_, f := docsFixture()
	_, err := f.Upload(context.Background(), testCred, "nope", "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, drive.ErrNotFound)
}

// creatingOpener counts Create calls reaching the remote.
type creatingOpener struct {
	*memory.Store
	creates int
}

func (o *creatingOpener) Open(ctx context.Context, cred *oauth2.Token) (drive.Remote, error) {
	r, err := o.Store.Open(ctx, cred)
	if err != nil {
		return nil, err
	}
	return &creatingRemote{Remote: r, opener: o}, nil
}

type creatingRemote struct {
	drive.Remote
	opener *creatingOpener
}

func (r *creatingRemote) Create(ctx context.Context, parentID, name, mimeType string, body io.Reader) (*drive.Item, error) {
	r.opener.creates++
	return r.Remote.Create(ctx, parentID, name, mimeType, body)
}

func TestUploadIntoFileIsNotFound(t *testing.T) {
	store, _ := docsFixture()
	opener := &creatingOpener{Store: store}
	f := drive.NewFacade(opener, 0)
	before := store.Len()

	item, err := f.Upload(context.Background(), testCred, "2", "b.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, drive.ErrNotFound)
	assert.Nil(t, item)
	assert.Zero(t, opener.creates, "remote must not be written when the target is a file")
	assert.Equal(t, before, store.Len())

	_, err = f.Upload(context.Background(), testCred, "1", "b.txt", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, opener.creates)
}

func TestDownloadFolderIsNotFound(t *testing.T) {
	_, f := docsFixture()

	dl, err := f.Download(context.Background(), testCred, "1")
	assert.ErrorIs(t, err, drive.ErrNotFound)
	assert.Nil(t, dl)

	_, err = f.Download(context.Background(), testCred, "missing")
	assert.ErrorIs(t, err, drive.ErrNotFound)
}

func TestDeleteFolderRemovesSubtree(t *testing.T) {
	store, f := docsFixture()
	before := store.Len()

	item, err := f.Delete(context.Background(), testCred, "1")
	require.NoError(t, err)
	assert.True(t, item.IsFolder())
	assert.Equal(t, before-2, store.Len())
}

func TestDeleteRootIsInvalid(t *testing.T) {
	_, f := docsFixture()
	for _, id := range []string{drive.RootID, ""} {
		_, err := f.Delete(context.Background(), testCred, id)
		assert.ErrorIs(t, err, drive.ErrInvalidInput)
	}
}

func TestMissingCredentialFailsClosed(t *testing.T) {
	_, f := docsFixture()
	ctx := context.Background()

	for _, cred := range []*oauth2.Token{nil, {}} {
		_, _, err := f.ListFolder(ctx, cred, "1")
		assert.ErrorIs(t, err, drive.ErrUnauthorized)
		_, err = f.Upload(ctx, cred, "1", "a.txt", strings.NewReader("x"))
		assert.ErrorIs(t, err, drive.ErrUnauthorized)
		_, err = f.Download(ctx, cred, "2")
		assert.ErrorIs(t, err, drive.ErrUnauthorized)
		_, err = f.Delete(ctx, cred, "2")
		assert.ErrorIs(t, err, drive.ErrUnauthorized)
		_, err = f.BuildBreadcrumb(ctx, cred, "1")
		assert.ErrorIs(t, err, drive.ErrUnauthorized)
	}
}

func TestCanceledContext(t *testing.T) {
	_, f := docsFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := f.ListFolder(ctx, testCred, "1")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, drive.KindCanceled, drive.Classify(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want drive.ErrorKind
	}{
		{fmt.Errorf("%w: x", drive.ErrUnauthorized), drive.KindUnauthorized},
		{fmt.Errorf("%w: x", drive.ErrNotFound), drive.KindNotFound},
		{fmt.Errorf("%w: x", drive.ErrInvalidInput), drive.KindInvalidInput},
		{fmt.Errorf("%w: x", drive.ErrTransient), drive.KindTransient},
		{fmt.Errorf("%w: x", drive.ErrPathTooDeep), drive.KindPathTooDeep},
		{errors.New("boom"), drive.KindTransient},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, drive.Classify(tt.err), tt.err.Error())
	}
	assert.True(t, drive.IsTransient(errors.New("boom")))
	assert.False(t, drive.IsTransient(nil))
}
