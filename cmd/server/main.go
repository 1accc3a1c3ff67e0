package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/health"
	"tempinbox/backend/internal/logger"
	"tempinbox/backend/internal/middleware"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/relay"
	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/smtp"
	"tempinbox/backend/internal/storage"
	"tempinbox/backend/internal/storage/maildir"
	"tempinbox/backend/internal/storage/memory"
	redisstore "tempinbox/backend/internal/storage/redis"
	sqlstore "tempinbox/backend/internal/storage/sql"
	httptransport "tempinbox/backend/internal/transport/http"
	"tempinbox/backend/internal/websocket"
)

const (
	pruneInterval   = time.Minute
	cleanupInterval = 10 * time.Minute
)

// main 启动同时包含 HTTP API 与 SMTP 的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting tempinbox server",
		zap.String("domain", cfg.Mailbox.Domain),
		zap.Duration("ttl", cfg.Mailbox.TTL),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(log)

	// 初始化日志存储
	var memStore *memory.LogStore
	var store storage.LogStore
	if cfg.Redis.Address != "" {
		client, err := redisstore.New(&cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		store = redisstore.NewLogStore(client)
		log.Info("using redis log store", zap.String("address", cfg.Redis.Address))
	} else {
		memStore = memory.NewLogStore()
		store = memStore
		log.Warn("redis not configured, using memory log store (single process only)")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("log store close warning", zap.Error(err))
		}
	}()
	healthChecker.AddDependency("log_store", store)

	// 可选的持久化副本
	sink, err := openSink(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize persistence sink", zap.Error(err))
	}
	var persist *service.PersistDispatcher
	if sink != nil {
		persist = service.NewPersistDispatcher(sink, cfg.Persist.Workers, cfg.Persist.QueueSize, log, metrics)
		healthChecker.AddDependency("persist", persist)
	}

	mailboxService := service.NewMailboxService(store, cfg.Mailbox, log, metrics)
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, mailboxService, log)
	inboundService := service.NewInboundService(mailboxService, persist, wsHub, log, metrics)

	// 外发中继未配置时 /send 返回 send_failed
	var sender service.Relay
	relayClient, err := relay.New(cfg.Relay, log, relay.WithHeloName(cfg.SMTP.Hostname))
	switch {
	case err == nil:
		sender = relayClient
		log.Info("outbound relay configured", zap.String("host", cfg.Relay.Host), zap.String("tls", cfg.Relay.TLS))
	case errors.Is(err, relay.ErrNotConfigured):
		log.Warn("outbound relay not configured, /send is disabled")
	default:
		log.Fatal("invalid relay configuration", zap.Error(err))
	}
	sendService := service.NewSendService(mailboxService, sender, log, metrics)

	createLimiter := middleware.NewIPRateLimiter(cfg.HTTP.CreateRatePerMinute)

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		MailboxService: mailboxService,
		SendService:    sendService,
		WebSocketHub:   wsHub,
		Health:         healthChecker,
		Metrics:        metrics,
		CreateLimiter:  createLimiter,
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	smtpServer := smtp.NewServer(smtp.NewBackend(inboundService, log), cfg.SMTP)
	smtpListener, err := net.Listen("tcp", cfg.SMTP.BindAddr)
	if err != nil {
		log.Fatal("failed to listen for SMTP", zap.String("address", cfg.SMTP.BindAddr), zap.Error(err))
	}
	limiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConns, cfg.SMTP.ConnRate)
	limitedListener := smtp.NewListener(smtpListener, limiter, log, func() {
		metrics.RecordRateLimitBlock("smtp_conn")
	})

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	persist.Start(groupCtx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.Mailbox.Domain),
			zap.Int("max_conns", cfg.SMTP.MaxConns),
		)
		if err := smtpServer.Serve(limitedListener); err != nil && groupCtx.Err() == nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 定时清理过期的限流记录和内存存储中的过期键
	group.Go(func() error {
		cleanup := time.NewTicker(cleanupInterval)
		defer cleanup.Stop()
		prune := time.NewTicker(pruneInterval)
		defer prune.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-cleanup.C:
				if n := createLimiter.Cleanup(); n > 0 {
					log.Debug("rate limiter entries cleaned up", zap.Int("count", n))
				}
			case <-prune.C:
				if memStore == nil {
					continue
				}
				if n := memStore.Prune(); n > 0 {
					log.Debug("expired keys pruned", zap.Int("count", n))
				}
			}
		}
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("SMTP server shutdown warning", zap.Error(err))
			_ = smtpServer.Close()
		}
		if err := persist.Stop(); err != nil {
			log.Warn("persistence sink close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// openSink 按 persist.type 打开持久化存储，未配置时返回 nil
func openSink(cfg *config.Config, log *zap.Logger) (service.Sink, error) {
	switch cfg.Persist.Type {
	case "":
		return nil, nil
	case "maildir":
		store, err := maildir.New(cfg.Persist.Path, cfg.Mailbox.Domain, log)
		if err != nil {
			return nil, err
		}
		log.Info("using maildir persistence", zap.String("path", cfg.Persist.Path))
		return store, nil
	case "postgres", "mysql", "sqlite":
		store, err := sqlstore.Open(cfg.Persist, log)
		if err != nil {
			return nil, err
		}
		log.Info("using database persistence", zap.String("type", cfg.Persist.Type))
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported persist type: %s", cfg.Persist.Type)
	}
}
