package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "vmail/backend/internal/auth/jwt"
	"vmail/backend/internal/compose"
	"vmail/backend/internal/config"
	"vmail/backend/internal/health"
	"vmail/backend/internal/ingest"
	"vmail/backend/internal/logger"
	"vmail/backend/internal/mailer"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/resolver"
	"vmail/backend/internal/service"
	"vmail/backend/internal/smtp"
	httptransport "vmail/backend/internal/transport/http"
)

// notifyTimeout 单条新邮件通知的发送超时
const notifyTimeout = 5 * time.Second

// main 启动同时包含 HTTP API 与入站 SMTP 的邮件服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting vmail server",
		zap.String("log_level", cfg.Log.Level),
		zap.String("metadata_store", cfg.Database.Type),
		zap.String("content_store", cfg.Content.Type),
		zap.String("directory", cfg.Directory.Type),
		zap.String("mailer", cfg.Mailer.Type),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	metrics := monitoring.NewMetrics()

	deps := newDependencies(cfg, log)
	defer deps.close()

	meta, err := deps.metadataStore(ctx)
	if err != nil {
		return fmt.Errorf("metadata store: %w", err)
	}
	content, raw, err := deps.contentStore(ctx)
	if err != nil {
		return fmt.Errorf("content store: %w", err)
	}
	dir, err := deps.directory(ctx)
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	transport, err := mailer.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("mailer: %w", err)
	}

	wiring, err := deps.notifier(ctx, metrics, notifyTimeout)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}

	ingester := ingest.NewIngester(meta, content, raw, resolver.New(dir, log), wiring.dispatcher, log, metrics)
	composer := compose.NewComposer(meta, content, transport, log, metrics)
	mailboxes := service.NewMailboxService(meta, content, log)
	healthChecker := health.NewHealthChecker(deps.pingers, log)

	routerDeps := httptransport.RouterDependencies{
		Config:         cfg,
		MailboxService: mailboxes,
		Composer:       composer,
		JWTManager:     jwtpkg.NewManager(cfg.JWT),
		WebSocketHub:   wiring.hub,
		Metrics:        metrics,
		Health:         healthChecker,
		Logger:         log,
	}
	if raw != nil {
		routerDeps.Ingester = ingester
	}

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           httptransport.NewRouter(routerDeps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	wiring.workers.Start(groupCtx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var inbound interface{ Close() error }
	if cfg.SMTP.Enabled {
		if raw == nil {
			return fmt.Errorf("inbound SMTP requires a content store that keeps raw messages")
		}
		backend := smtp.NewBackend(cfg.SMTP, cfg.Content.RawPrefix, raw, ingester, log, metrics)
		smtpServer := smtp.NewServer(cfg.SMTP, backend)
		inbound = smtpServer

		group.Go(func() error {
			log.Info("starting SMTP server",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
				zap.Strings("accept_domains", cfg.SMTP.AcceptDomains),
			)
			if err := smtpServer.ListenAndServe(); err != nil && groupCtx.Err() == nil {
				return fmt.Errorf("smtp server: %w", err)
			}
			return nil
		})

		// 定时清理长时间空闲的 IP 限流器
		group.Go(func() error {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case <-ticker.C:
					if n := backend.Limiter().Cleanup(10 * time.Minute); n > 0 {
						log.Debug("idle rate limiters removed", zap.Int("count", n))
					}
				}
			}
		})
	}

	if wiring.hub != nil {
		group.Go(func() error {
			log.Info("starting WebSocket hub")
			wiring.hub.Run(groupCtx)
			return nil
		})
	}

	if wiring.relay != nil {
		group.Go(func() error {
			log.Info("relaying redis notifications to websocket clients")
			if err := wiring.relay(groupCtx); err != nil {
				log.Error("notification relay stopped", zap.Error(err))
			}
			return nil
		})
	}

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if inbound != nil {
			if err := inbound.Close(); err != nil {
				log.Warn("SMTP server close warning", zap.Error(err))
			}
		}
		wiring.workers.Stop()

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
