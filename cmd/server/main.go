// DriveDeck Server
//
// Features:
// - Google sign-in (OAuth2 authorization code + OIDC ID token)
// - Folder browsing with breadcrumbs, upload, download, delete
// - Remote stores: Google Drive, S3, in-memory
// - Sessions in memory, Redis or PostgreSQL
// - Prometheus metrics & structured logging (zap)
// - Per-session rate limiting
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/drivedeck/internal/auth"
	"github.com/fruitsalade/drivedeck/internal/config"
	"github.com/fruitsalade/drivedeck/internal/drive"
	"github.com/fruitsalade/drivedeck/internal/logging"
	"github.com/fruitsalade/drivedeck/internal/metrics"
	"github.com/fruitsalade/drivedeck/internal/quota"
	"github.com/fruitsalade/drivedeck/internal/remote"
	"github.com/fruitsalade/drivedeck/internal/session"
	"github.com/fruitsalade/drivedeck/internal/web"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("DriveDeck server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("store", cfg.StoreBackend),
		zap.String("sessions", cfg.SessionBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sign-in
	oauthCfg := auth.GoogleConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	gate := auth.NewGate(oauthCfg, auth.GoogleVerifier(ctx, cfg.GoogleClientID))

	// Remote store
	opener, err := remote.New(ctx, cfg, oauthCfg)
	if err != nil {
		logging.Fatal("remote store init failed", zap.Error(err))
	}

	// Sessions
	store, cleanup, err := openSessionStore(ctx, cfg)
	if err != nil {
		logging.Fatal("session store init failed", zap.Error(err))
	}
	defer cleanup()
	sessions := session.NewManager(store, cfg.SessionSecret, cfg.SessionTTL, cfg.SecureCookies())

	limiter := quota.NewRateLimiter(cfg.RequestsPerMinute)
	if limiter.Enabled() {
		logging.Info("rate limiting enabled", zap.Int("requests_per_minute", cfg.RequestsPerMinute))
	}

	srv, err := web.NewServer(web.Options{
		Facade:        drive.NewFacade(opener, cfg.MaxPathDepth),
		Auth:          gate,
		Sessions:      sessions,
		Limiter:       limiter,
		MaxUploadSize: cfg.MaxUploadSize,
		ReadRetries:   cfg.ReadRetryAttempts,
	})
	if err != nil {
		logging.Fatal("server init failed", zap.Error(err))
	}

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.TLSEnabled() {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("http shutdown", zap.Error(err))
		}
		metricsServer.Close()
	}()

	// Periodic cleanup of idle rate limit buckets and expired sessions
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := limiter.Cleanup(time.Hour); n > 0 {
					logging.Debug("rate limit buckets removed", zap.Int("count", n))
				}
				purgeSessions(ctx, store)
			}
		}
	}()

	if cfg.TLSEnabled() {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}

// openSessionStore connects the store named by cfg.SessionBackend. The
// returned func releases its connections.
func openSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	switch cfg.SessionBackend {
	case "redis":
		logging.Info("connecting to Redis...", zap.String("addr", cfg.RedisAddr))
		s, err := session.NewRedisStore(ctx, session.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		logging.Info("connecting to PostgreSQL...")
		s, err := session.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return session.NewMemoryStore(), func() {}, nil
	}
}

// purgeSessions removes expired sessions from stores that do not expire
// them on their own. Redis keys carry a TTL.
func purgeSessions(ctx context.Context, store session.Store) {
	switch s := store.(type) {
	case *session.MemoryStore:
		if n := s.Cleanup(); n > 0 {
			logging.Debug("expired sessions removed", zap.Int("count", n))
		}
	case *session.PostgresStore:
		n, err := s.Purge(ctx)
		if err != nil {
			logging.Error("session purge failed", zap.Error(err))
			return
		}
		if n > 0 {
			logging.Info("expired sessions purged", zap.Int64("count", n))
		}
	}
}
