package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/health"
	"tempinbox/backend/internal/middleware"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	MailboxService *service.MailboxService
	SendService    *service.SendService
	WebSocketHub   *websocket.Hub            // 可选
	Health         *health.HealthChecker     // 可选
	Metrics        *monitoring.Metrics       // 可选
	CreateLimiter  *middleware.IPRateLimiter // 可选，nil 时按配置创建
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	mm := middleware.NewMonitoringMiddleware(deps.Metrics, logger)
	router.Use(mm.HTTPMetrics())
	router.Use(mm.PanicRecovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	router.Use(gincors.New(corsConfig(deps.Config.CORS.AllowedOrigins)))

	handler := &Handler{
		mailboxes: deps.MailboxService,
		sender:    deps.SendService,
		logger:    logger,
	}

	limiter := deps.CreateLimiter
	if limiter == nil {
		limiter = middleware.NewIPRateLimiter(deps.Config.HTTP.CreateRatePerMinute)
	}

	router.POST("/create", middleware.RateLimit(limiter, deps.Metrics), handler.createMailbox)
	router.GET("/inbox/:id", handler.getInbox)
	router.POST("/send", handler.sendMail)
	if deps.WebSocketHub != nil {
		router.GET("/inbox/:id/ws", websocket.HandleWebSocket(deps.WebSocketHub))
	}

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		results, healthy := deps.Health.CheckHealth(c.Request.Context())
		status := http.StatusOK
		results["status"] = "ok"
		if !healthy {
			status = http.StatusServiceUnavailable
			results["status"] = "degraded"
		}
		c.JSON(status, results)
	})
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapH(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapH(deps.Health.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	router.NoRoute(func(c *gin.Context) {
		abort(c, http.StatusNotFound, CodeNotFound)
	})

	return router
}

// corsConfig CORS 配置
func corsConfig(origins []string) gincors.Config {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cfg := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range cfg.AllowOrigins {
		if origin == "*" {
			cfg.AllowCredentials = false
			break
		}
	}
	return cfg
}
