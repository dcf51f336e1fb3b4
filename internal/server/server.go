package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsdeck/quotagate/internal/circuitbreaker"
	"github.com/opsdeck/quotagate/internal/config"
	"github.com/opsdeck/quotagate/internal/handler"
	"github.com/opsdeck/quotagate/internal/middleware"
	"github.com/opsdeck/quotagate/internal/ratelimit"
	"github.com/opsdeck/quotagate/internal/repository"
	"github.com/opsdeck/quotagate/internal/service"
	"github.com/opsdeck/quotagate/internal/storage"
)

type Server struct {
	router   *gin.Engine
	config   *config.Config
	redis    *storage.RedisClient
	postgres *storage.Postgres

	recorder *repository.EventRecorder

	authService   *service.AuthService
	apiKeyService *service.APIKeyService

	policyHandler    *handler.PolicyHandler
	quotaHandler     *handler.QuotaHandler
	dashboardHandler *handler.DashboardHandler
	authHandler      *handler.AuthHandler
	apiKeyHandler    *handler.APIKeyHandler

	httpServer   *http.Server
	sweepStop    chan struct{}
	sweepStopped chan struct{}
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	policyRepo := repository.NewPolicyRepository(postgres)
	quotaRepo := repository.NewQuotaRepository(postgres)
	eventRepo := repository.NewRequestEventRepository(postgres)
	apiKeyRepo := repository.NewAPIKeyRepository(postgres)
	userRepo := repository.NewUserRepository(postgres)

	recorder := repository.NewEventRecorder(eventRepo, cfg.Limits.RecorderBuffer)
	limiters := ratelimit.NewProvider(redis)
	guard := circuitbreaker.New(circuitbreaker.Config{})

	policyService := service.NewPolicyService(policyRepo)
	admissionService := service.NewAdmissionService(policyRepo, recorder, limiters, guard, cfg.FailOpen())
	usageService := service.NewUsageService(quotaRepo)
	dashboardService := service.NewDashboardService(policyRepo, quotaRepo, eventRepo)
	authService := service.NewAuthService(userRepo, cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryHours)
	apiKeyService := service.NewAPIKeyService(apiKeyRepo, redis)

	s := &Server{
		router:           router,
		config:           cfg,
		redis:            redis,
		postgres:         postgres,
		recorder:         recorder,
		authService:      authService,
		apiKeyService:    apiKeyService,
		policyHandler:    handler.NewPolicyHandler(policyService, admissionService),
		quotaHandler:     handler.NewQuotaHandler(usageService),
		dashboardHandler: handler.NewDashboardHandler(dashboardService),
		authHandler:      handler.NewAuthHandler(authService),
		apiKeyHandler:    handler.NewAPIKeyHandler(apiKeyService),
		sweepStop:        make(chan struct{}),
		sweepStopped:     make(chan struct{}),
	}

	s.setupMiddleware()
	s.setupRoutes()

	go s.sweepEvents(eventRepo)

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	auth := s.router.Group("/auth")
	{
		auth.POST("/register", s.authHandler.Register)
		auth.POST("/login", s.authHandler.Login)
	}

	v1 := s.router.Group("/v1")
	v1.Use(middleware.APIKeyValidator(s.apiKeyService))
	{
		v1.POST("/policies", s.policyHandler.Create)
		v1.GET("/policies", s.policyHandler.List)
		v1.GET("/policies/:id", s.policyHandler.Get)
		v1.PATCH("/policies/:id", s.policyHandler.Update)
		v1.DELETE("/policies/:id", s.policyHandler.Disable)

		v1.POST("/check", s.policyHandler.Check)
		v1.POST("/check/identifier", s.policyHandler.CheckIdentifier)

		v1.POST("/quotas", s.quotaHandler.Create)
		v1.GET("/quotas", s.quotaHandler.List)
		v1.GET("/quotas/:id", s.quotaHandler.Get)
		v1.PATCH("/quotas/:id", s.quotaHandler.Update)
		v1.POST("/quotas/:id/usage", s.quotaHandler.ApplyIncrement)
		v1.GET("/usage", s.quotaHandler.ListUsage)

		v1.GET("/dashboard", s.dashboardHandler.Get)
	}

	admin := s.router.Group("/admin")
	admin.Use(middleware.RequireAuth(s.authService))
	{
		admin.POST("/keys", s.apiKeyHandler.Create)
		admin.GET("/keys", s.apiKeyHandler.List)
		admin.PATCH("/keys/:id", s.apiKeyHandler.Update)
		admin.DELETE("/keys/:id", s.apiKeyHandler.Delete)
	}
}

// sweepEvents prunes request events past the retention horizon. The event
// log only feeds trailing-window counts, so old rows are dead weight.
func (s *Server) sweepEvents(events *repository.RequestEventRepository) {
	defer close(s.sweepStopped)

	retention := time.Duration(s.config.Limits.EventRetentionHours) * time.Hour
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			deleted, err := events.DeleteOlderThan(ctx, time.Now().Add(-retention))
			cancel()

			if err != nil {
				log.Printf("Event sweep failed: %v", err)
			} else if deleted > 0 {
				log.Printf("Event sweep removed %d events", deleted)
			}
		case <-s.sweepStop:
			return
		}
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := true

	if s.redis == nil {
		redisHealthy = false
	} else if err := s.redis.Ping(c.Request.Context()); err != nil {
		redisHealthy = false
		log.Printf("Redis health check failed: %v", err)
	}

	dbHealthy := true
	if err := s.postgres.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		log.Printf("Database health check failed: %v", err)
	}

	status := "healthy"
	statusCode := http.StatusOK

	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "quotagate",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
		},
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting quotagate on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	close(s.sweepStop)
	<-s.sweepStopped

	// Drain buffered events before the connection pool goes away.
	s.recorder.Stop()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
