package web

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/fruitsalade/drivedeck/internal/auth"
	"github.com/fruitsalade/drivedeck/internal/drive"
	"github.com/fruitsalade/drivedeck/internal/session"
)

// timeLayout is how modification times are shown in listings.
const timeLayout = "2006-01-02 15:04:05"

var typeLabels = map[string]string{
	"application/vnd.google-apps.folder":       "Folder",
	"application/vnd.google-apps.document":     "Google Docs",
	"application/vnd.google-apps.spreadsheet":  "Google Sheets",
	"application/vnd.google-apps.presentation": "Google Slides",
	"application/vnd.google-apps.drawing":      "Google Drawings",
	"application/vnd.google-apps.form":         "Google Forms",
	"application/vnd.google-apps.shortcut":     "Shortcut",
	"application/pdf":                          "PDF",
	"application/zip":                          "ZIP archive",
	"text/plain":                               "Text",
	"text/csv":                                 "CSV",
	"image/png":                                "PNG image",
	"image/jpeg":                               "JPEG image",
}

// basePage carries what the layout needs on every page.
type basePage struct {
	User      *auth.User
	CSRFToken string
	Flashes   []session.Flash
}

type loginPage struct {
	basePage
}

type errorPage struct {
	basePage
	Status  string
	Message string
}

type dashboardPage struct {
	basePage
	Folder    itemView
	Crumbs    []crumbView
	Items     []itemView
	MaxUpload string
}

type itemView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	IsFolder    bool   `json:"-"`
	Type        string `json:"type"`
	MIMEType    string `json:"mime_type,omitempty"`
	Bytes       int64  `json:"size"`
	Size        string `json:"size_human"`
	Modified    string `json:"modified,omitempty"`
	ModifiedAgo string `json:"modified_ago,omitempty"`
	URL         string `json:"url"`
	DownloadURL string `json:"download_url,omitempty"`
	DeleteURL   string `json:"-"`
}

type crumbView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Current bool   `json:"-"`
}

// folderResponse is the JSON form of a folder listing.
type folderResponse struct {
	Folder     itemView    `json:"folder"`
	Breadcrumb []crumbView `json:"breadcrumb"`
	Items      []itemView  `json:"items"`
}

func newItemView(item *drive.Item) itemView {
	v := itemView{
		ID:       item.ID,
		Name:     item.Name,
		Kind:     item.Kind.String(),
		IsFolder: item.IsFolder(),
		Type:     TypeLabel(item),
		MIMEType: item.MIMEType,
		Bytes:    item.Size,
		Size:     SizeLabel(item),
		URL:      folderURL(item.ID),
	}
	if !item.Modified.IsZero() {
		v.Modified = item.Modified.UTC().Format(timeLayout)
		v.ModifiedAgo = humanize.Time(item.Modified)
	}
	if !v.IsFolder {
		v.URL = downloadURL(item.ID)
		v.DownloadURL = v.URL
	}
	v.DeleteURL = deleteURL(item.ID)
	return v
}

func newItemViews(items []*drive.Item) []itemView {
	views := make([]itemView, 0, len(items))
	for _, item := range items {
		views = append(views, newItemView(item))
	}
	return views
}

func newCrumbViews(crumbs drive.Breadcrumb) []crumbView {
	views := make([]crumbView, 0, len(crumbs))
	for i, c := range crumbs {
		views = append(views, crumbView{
			ID:      c.ID,
			Name:    c.Name,
			URL:     folderURL(c.ID),
			Current: i == len(crumbs)-1,
		})
	}
	return views
}

// TypeLabel returns a human-readable type for item.
func TypeLabel(item *drive.Item) string {
	if item.IsFolder() {
		return "Folder"
	}
	mediaType := item.MIMEType
	if mt, _, err := mime.ParseMediaType(item.MIMEType); err == nil {
		mediaType = mt
	}
	if label, ok := typeLabels[mediaType]; ok {
		return label
	}
	if ext := path.Ext(item.Name); len(ext) > 1 {
		return strings.ToUpper(ext[1:]) + " file"
	}
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return strings.ToUpper(sub)
	}
	return "File"
}

// SizeLabel returns the humanized size, or "-" when there is none.
func SizeLabel(item *drive.Item) string {
	if item.IsFolder() || (item.Size == 0 && strings.HasPrefix(item.MIMEType, "application/vnd.google-apps.")) {
		return "-"
	}
	return humanize.Bytes(uint64(item.Size))
}

func escapeID(id string) string {
	return (&url.URL{Path: id}).EscapedPath()
}

func folderURL(id string) string {
	if id == "" || id == drive.RootID {
		return "/dashboard"
	}
	return "/dashboard/" + escapeID(id)
}

func downloadURL(id string) string {
	return "/download/" + escapeID(id)
}

func deleteURL(id string) string {
	return "/delete/" + escapeID(id)
}
