package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"marketgate.org/internal/config"
	"marketgate.org/internal/directory"
	"marketgate.org/internal/httpapi"
	"marketgate.org/internal/identity"
	"marketgate.org/internal/notify"
	"marketgate.org/internal/obs"
	"marketgate.org/internal/session"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("fatal", zap.Error(err))
		_ = obs.Logger().Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Version == "dev" {
		cfg.Version = version
	}
	log := obs.NewLogger(cfg.LogLevel, cfg.LogFormat, zapcore.Lock(os.Stdout))
	obs.SetLogger(log)
	defer func() { _ = log.Sync() }()

	obs.Init()
	obs.InitBuildInfo(cfg.Version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.Close()

	dir, err := directory.New(cfg.DirectoryURL,
		directory.WithHTTPClient(&http.Client{Timeout: cfg.DirectoryTimeout}),
		directory.WithRateLimit(cfg.DirectoryRPS, int(cfg.DirectoryRPS)+1),
	)
	if err != nil {
		return err
	}
	var notifier identity.Notifier = notify.Discard{}
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.WebhookURL, nil, cfg.WebhookTimeout)
	} else {
		log.Warn("webhook_not_configured", zap.String("hint", "moderators will not be notified"))
	}

	sessOpts := []session.Option{}
	if cfg.SessionInsecure {
		sessOpts = append(sessOpts, session.WithInsecureCookie())
	}
	sessions, err := session.NewManager(cfg.SessionSecret, cfg.SessionCookie, cfg.SessionTTL, sessOpts...)
	if err != nil {
		return err
	}
	assertions, err := session.NewAssertions(cfg.OAuthSecret, cfg.OAuthIssuer, cfg.OAuthAudience)
	if err != nil {
		return err
	}
	var origins session.OriginResolver = session.IPResolver{TrustForwarded: cfg.TrustForwarded}
	if cfg.BindKey == config.BindSession {
		origins = session.BindKeyResolver{}
	}

	admins := identity.NewStaticAllowlist(cfg.Admins)
	if admins.Len() == 0 {
		log.Warn("admin_allowlist_empty")
	}
	submitter := identity.NewSubmitter(be.accounts, identity.NewVerifier(dir, cfg.DirectoryTimeout),
		identity.WithNotifier(notifier),
		identity.WithNotifyTimeout(cfg.WebhookTimeout),
	)

	api := httpapi.New(httpapi.Deps{
		Sessions:   sessions,
		Assertions: assertions,
		Origins:    origins,
		Binder:     identity.NewBinder(be.accounts),
		Submitter:  submitter,
		Gate:       identity.NewGate(be.accounts, be.bans, admins, identity.AllowAnonymous(cfg.AllowAnonymous)),
		Watcher: identity.NewWatcher(be.feed, be.accounts, identity.WatcherConfig{
			InitialBackoff: cfg.WatchInitialBackoff,
			MaxBackoff:     cfg.WatchMaxBackoff,
			MaxTries:       cfg.WatchMaxTries,
		}),
		Moderation: identity.NewModeration(be.accounts, be.bans, be.publisher),
		Ready:      httpapi.ReadyFunc(be.Ready),
		Version:    cfg.Version,
	}, httpapi.Options{
		RateBurst:      cfg.RateBurst,
		RatePerSec:     cfg.RatePerSec,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustForwarded: cfg.TrustForwarded,
	})
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv, health := httpapi.NewGRPCServer(httpapi.ReadyFunc(be.Ready))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	go health.Run(ctx, 10*time.Second)

	errc := make(chan error, 2)
	go func() {
		log.Info("grpc_listening", zap.String("addr", cfg.GRPCAddr))
		errc <- grpcSrv.Serve(lis)
	}()
	go func() {
		log.Info("http_listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("version", cfg.Version),
			zap.String("feed", cfg.Feed),
			zap.String("bind_key", cfg.BindKey),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting_down")
	case err := <-errc:
		log.Error("server_failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
	defer cancel()

	health.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	if err := submitter.Drain(shutdownCtx); err != nil {
		log.Warn("notification_drain_incomplete", zap.Error(err))
	}
	log.Info("stopped")
	return nil
}
