package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vmail/backend/internal/compose"
	"vmail/backend/internal/config"
	"vmail/backend/internal/health"
	"vmail/backend/internal/middleware"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/service"
	"vmail/backend/internal/websocket"

	jwtpkg "vmail/backend/internal/auth/jwt"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	mailboxes *service.MailboxService
	composer  *compose.Composer
	ingester  ObjectIngester
	log       *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	MailboxService *service.MailboxService
	Composer       *compose.Composer
	Ingester       ObjectIngester // 可为 nil，此时不注册 /internal/ingest
	JWTManager     *jwtpkg.Manager
	WebSocketHub   *websocket.Hub        // 可为 nil
	Metrics        *monitoring.Metrics   // 可为 nil
	Health         *health.HealthChecker // 可为 nil
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	if deps.Metrics != nil {
		mon := middleware.NewMonitoringMiddleware(deps.Metrics, log)
		router.Use(mon.PanicRecovery())
		router.Use(mon.HTTPMetrics())
	} else {
		router.Use(gin.Recovery())
	}
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(deps.Config.Server.MaxBodyBytes))

	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.APIKeyHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowOrigins = nil
			corsConfig.AllowCredentials = false
			break
		}
	}
	if len(corsConfig.AllowOrigins) > 0 || corsConfig.AllowAllOrigins {
		router.Use(gincors.New(corsConfig))
	}

	handler := &Handler{
		mailboxes: deps.MailboxService,
		composer:  deps.Composer,
		ingester:  deps.Ingester,
		log:       log,
	}
	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, log)

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler))
	} else {
		router.GET("/health/live", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	v1 := router.Group("/api/v1")
	v1.Use(jwtAuth.RequireAuth())
	{
		emails := v1.Group("/emails")
		emails.Use(middleware.ValidateContentType("application/json"))
		{
			emails.GET("", handler.listEmails)
			emails.POST("/send", handler.sendEmail)
			emails.POST("/drafts", handler.saveDraft)
			emails.GET("/:id", handler.getEmail)
			emails.PUT("/:id/star", handler.starEmail)
			emails.PUT("/:id/read", handler.markRead)
			emails.DELETE("/:id", handler.deleteEmail)
		}

		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	if deps.Ingester != nil {
		internal := router.Group("/internal")
		internal.Use(middleware.RequireSharedKey(deps.Config.Server.IngestAPIKey))
		internal.POST("/ingest", handler.ingestObjects)
	}

	return router
}
