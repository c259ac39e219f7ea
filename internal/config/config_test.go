package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("GOOGLE_CLIENT_ID", "1234.apps.googleusercontent.com")
	t.Setenv("GOOGLE_CLIENT_SECRET", "supersecret")
	t.Setenv("GOOGLE_REDIRECT_URL", "http://localhost:8080/oauth2callback")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "gdrive", cfg.StoreBackend)
	assert.Equal(t, "memory", cfg.SessionBackend)
	assert.Equal(t, int64(16*1024*1024), cfg.MaxUploadSize)
	assert.Equal(t, 64, cfg.MaxPathDepth)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, int64(100), cfg.DrivePageSize)
	assert.Equal(t, 2, cfg.ReadRetryAttempts)
	assert.False(t, cfg.SecureCookies())
	assert.False(t, cfg.TLSEnabled())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SESSION_TTL", "1h")
	t.Setenv("MAX_PATH_DEPTH", "8")
	t.Setenv("DRIVE_USE_TRASH", "true")
	t.Setenv("BASE_URL", "https://drive.example.com")
	t.Setenv("REQUESTS_PER_MINUTE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, 8, cfg.MaxPathDepth)
	assert.True(t, cfg.DriveUseTrash)
	assert.True(t, cfg.SecureCookies())
	assert.Equal(t, 0, cfg.RequestsPerMinute, "bad values fall back to the default")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad client id", "GOOGLE_CLIENT_ID", "1234.example.com"},
		{"short secret", "GOOGLE_CLIENT_SECRET", "short"},
		{"bad redirect", "GOOGLE_REDIRECT_URL", "ftp://localhost/cb"},
		{"short session secret", "SESSION_SECRET", "tooshort"},
		{"unknown store", "STORE_BACKEND", "dropbox"},
		{"unknown sessions", "SESSION_BACKEND", "file"},
		{"postgres without url", "SESSION_BACKEND", "postgres"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadCredentialsFile(t *testing.T) {
	setRequired(t)
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("GOOGLE_CLIENT_SECRET", "")
	t.Setenv("GOOGLE_REDIRECT_URL", "")

	path := filepath.Join(t.TempDir(), "credentials.json")
	content := `{"web":{
		"client_id":"987.apps.googleusercontent.com",
		"client_secret":"filesecret",
		"redirect_uris":["https://drive.example.com/oauth2callback"],
		"auth_uri":"https://accounts.google.com/o/oauth2/auth",
		"token_uri":"https://oauth2.googleapis.com/token"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("GOOGLE_CREDENTIALS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "987.apps.googleusercontent.com", cfg.GoogleClientID)
	assert.Equal(t, "filesecret", cfg.GoogleClientSecret)
	assert.Equal(t, "https://drive.example.com/oauth2callback", cfg.GoogleRedirectURL)
}

func TestLoadCredentialsFileMissing(t *testing.T) {
	setRequired(t)
	t.Setenv("GOOGLE_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "nope.json"))
	_, err := Load()
	assert.Error(t, err)
}
