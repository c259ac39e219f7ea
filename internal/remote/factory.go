// Package remote selects the remote store backend.
package remote

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/fruitsalade/drivedeck/internal/config"
	"github.com/fruitsalade/drivedeck/internal/drive"
	"github.com/fruitsalade/drivedeck/internal/remote/gdrive"
	"github.com/fruitsalade/drivedeck/internal/remote/memory"
	s3backend "github.com/fruitsalade/drivedeck/internal/remote/s3"
)

// New creates the opener named by cfg.StoreBackend. oauthCfg is used by the
// Drive backend to refresh expired access tokens.
func New(ctx context.Context, cfg *config.Config, oauthCfg *oauth2.Config) (drive.Opener, error) {
	switch cfg.StoreBackend {
	case "gdrive":
		return gdrive.New(gdrive.Config{
			OAuth:    oauthCfg,
			PageSize: cfg.DrivePageSize,
			UseTrash: cfg.DriveUseTrash,
		}), nil
	case "s3":
		backend, err := s3backend.New(ctx, s3backend.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
		if err != nil {
			return nil, err
		}
		return backend, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
	}
}
