package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stackhaven/vps-platform/provisioning-service/internal/config"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/service"
)

type Server struct {
	router  *gin.Engine
	handler *Handler
	cfg     *config.Config
}

// Per-owner limit for the user API
var userRateLimiter = NewRateLimiter(30, time.Minute)

// Stricter limit on instance creation; one live instance per owner means a
// handful of attempts per hour covers retries and rebuilds.
var createRateLimiter = NewRateLimiter(5, time.Hour)

func NewServer(cfg *config.Config, provisionService *service.ProvisionService, callbackService *service.CallbackService) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	handler := NewHandler(provisionService, callbackService)

	s := &Server{
		router:  router,
		handler: handler,
		cfg:     cfg,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "provisioning-service",
		})
	})

	// Internal API - called by the billing/order-intake service
	internal := s.router.Group("/api/internal")
	internal.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		internal.POST("/provision", s.handler.Provision)

		internal.POST("/instances/:id/suspend", s.handler.Suspend)
		internal.POST("/instances/:id/unsuspend", s.handler.Unsuspend)
		internal.POST("/instances/:id/terminate", s.handler.Terminate)
		internal.POST("/instances/:id/resize", s.handler.Resize)
		internal.POST("/instances/:id/reboot", s.handler.Reboot)
		internal.POST("/instances/:id/purge", s.handler.Purge)

		internal.GET("/instances/:id", s.handler.GetInstanceStatus)
		internal.GET("/instances/:id/rollbacks", s.handler.GetRollbackLog)
		internal.GET("/owners/:owner_ref/instances", s.handler.GetOwnerInstances)
	}

	// Readiness callback - called by the provisioned server itself,
	// authenticated per instance by the single-use secret
	callback := s.router.Group("/api/callback")
	{
		callback.POST("/instances/:id/ready", s.handler.InstanceReady)
	}

	// User API - requires JWT authentication
	user := s.router.Group("/api/v1")
	user.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	user.Use(RateLimitMiddleware(userRateLimiter))
	{
		user.GET("/my/instance", s.handler.GetMyInstance)
		user.POST("/my/instance", RateLimitMiddleware(createRateLimiter), s.handler.CreateMyInstance)
		user.DELETE("/my/instance", s.handler.DeleteMyInstance)

		user.GET("/catalog", s.handler.GetCatalog)
	}

	// Public API - no authentication required
	public := s.router.Group("/api/v1/public")
	{
		public.GET("/catalog", s.handler.GetCatalog)
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
